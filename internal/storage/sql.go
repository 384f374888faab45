package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"multichat-backend/internal/model"
	"multichat-backend/pkg/logger"
)

type conversationRecord struct {
	ID        string `gorm:"primaryKey"`
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (conversationRecord) TableName() string { return "conversations" }

// messageRecord stores one message. Seq is the position within the
// conversation; messages are only ever removed from the tail so Seq stays
// dense.
type messageRecord struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"index:idx_conversation_seq,priority:1"`
	Seq            int    `gorm:"index:idx_conversation_seq,priority:2"`
	Role           string
	Content        string
	Timestamp      time.Time
	Images         datatypes.JSON
	Usage          datatypes.JSON
	UserMessageID  string
	IsError        bool
	MergeVersions  bool
	Batch          datatypes.JSON
}

func (messageRecord) TableName() string { return "messages" }

// SQLStorage keeps conversations in a relational database through gorm.
type SQLStorage struct {
	db      *gorm.DB
	dialect gorm.Dialector
	name    string
}

// NewSQLiteStorage opens (or creates) a sqlite database file.
func NewSQLiteStorage(path string) *SQLStorage {
	return &SQLStorage{dialect: sqlite.Open(path), name: "sqlite:" + path}
}

func NewPostgresStorage(dsn string) *SQLStorage {
	return &SQLStorage{dialect: postgres.Open(dsn), name: "postgres"}
}

func (s *SQLStorage) Init() error {
	if d, ok := s.dialect.(*sqlite.Dialector); ok && d.DSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(d.DSN), 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageInit, err)
		}
	}

	db, err := gorm.Open(s.dialect, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	if err := db.AutoMigrate(&conversationRecord{}, &messageRecord{}); err != nil {
		return fmt.Errorf("%w: failed to migrate schema: %v", ErrStorageInit, err)
	}
	s.db = db

	logger.Infof("SQL storage initialized (%s)", s.name)
	return nil
}

func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Backup is a no-op; database backups belong to the database.
func (s *SQLStorage) Backup() error {
	return nil
}

func (s *SQLStorage) CreateConversation(conv *model.Conversation) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&conversationRecord{}).Where("id = ?", conv.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: conversation %s already exists", ErrInvalidData, conv.ID)
		}

		rec := conversationRecord{
			ID:        conv.ID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		for i := range conv.Messages {
			mr, err := toRecord(conv.ID, i, &conv.Messages[i])
			if err != nil {
				return err
			}
			if err := tx.Create(mr).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStorage) GetConversation(conversationID string) (*model.Conversation, error) {
	var rec conversationRecord
	if err := s.db.First(&rec, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var rows []messageRecord
	if err := s.db.Where("conversation_id = ?", conversationID).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	conv := &model.Conversation{
		ID:        rec.ID,
		Title:     rec.Title,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Messages:  make([]model.Message, 0, len(rows)),
	}
	for i := range rows {
		msg, err := fromRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, nil
}

func (s *SQLStorage) ListConversations() ([]model.ConversationSummary, error) {
	var recs []conversationRecord
	if err := s.db.Order("updated_at desc").Find(&recs).Error; err != nil {
		return nil, err
	}

	type countRow struct {
		ConversationID string
		N              int
	}
	var counts []countRow
	if err := s.db.Model(&messageRecord{}).
		Select("conversation_id, count(*) as n").
		Group("conversation_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(counts))
	for _, c := range counts {
		byID[c.ConversationID] = c.N
	}

	out := make([]model.ConversationSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, model.ConversationSummary{
			ID:           rec.ID,
			Title:        rec.Title,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
			MessageCount: byID[rec.ID],
		})
	}
	return out, nil
}

func (s *SQLStorage) DeleteConversation(conversationID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&conversationRecord{}, "id = ?", conversationID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConversationNotFound
		}
		return tx.Where("conversation_id = ?", conversationID).Delete(&messageRecord{}).Error
	})
}

func (s *SQLStorage) UpdateTitle(conversationID, title string) error {
	res := s.db.Model(&conversationRecord{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{"title": title, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *SQLStorage) AppendMessage(conversationID string, message model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := touch(tx, conversationID); err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&messageRecord{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
			return err
		}
		rec, err := toRecord(conversationID, int(count), &message)
		if err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
}

func (s *SQLStorage) UpdateMessage(conversationID, messageID string, patch func(*model.Message) error) (*model.Message, error) {
	var out model.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := touch(tx, conversationID); err != nil {
			return err
		}
		var rec messageRecord
		if err := tx.First(&rec, "conversation_id = ? AND id = ?", conversationID, messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		msg, err := fromRecord(&rec)
		if err != nil {
			return err
		}
		if err := applyPatch(&msg, patch); err != nil {
			return err
		}
		updated, err := toRecord(conversationID, rec.Seq, &msg)
		if err != nil {
			return err
		}
		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		out = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SQLStorage) TruncateFrom(conversationID string, index int) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := touch(tx, conversationID); err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&messageRecord{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
			return err
		}
		if err := checkTruncateIndex(index, int(count)); err != nil {
			return err
		}
		return tx.Where("conversation_id = ? AND seq >= ?", conversationID, index).Delete(&messageRecord{}).Error
	})
}

// touch bumps updated_at and reports a missing conversation.
func touch(tx *gorm.DB, conversationID string) error {
	res := tx.Model(&conversationRecord{}).Where("id = ?", conversationID).Update("updated_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func toRecord(conversationID string, seq int, m *model.Message) (*messageRecord, error) {
	rec := &messageRecord{
		ID:             m.ID,
		ConversationID: conversationID,
		Seq:            seq,
		Role:           string(m.Role),
		Content:        m.Content,
		Timestamp:      m.Timestamp,
		UserMessageID:  m.UserMessageID,
		IsError:        m.IsError,
		MergeVersions:  m.MergeVersions,
	}
	var err error
	if rec.Images, err = jsonColumn(m.Images, len(m.Images) > 0); err != nil {
		return nil, err
	}
	if rec.Usage, err = jsonColumn(m.Usage, m.Usage != nil); err != nil {
		return nil, err
	}
	if rec.Batch, err = jsonColumn(m.Batch, m.Batch != nil); err != nil {
		return nil, err
	}
	return rec, nil
}

func jsonColumn(v interface{}, present bool) (datatypes.JSON, error) {
	if !present {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return datatypes.JSON(data), nil
}

func fromRecord(rec *messageRecord) (model.Message, error) {
	msg := model.Message{
		ID:            rec.ID,
		Role:          model.Role(rec.Role),
		Content:       rec.Content,
		Timestamp:     rec.Timestamp,
		UserMessageID: rec.UserMessageID,
		IsError:       rec.IsError,
		MergeVersions: rec.MergeVersions,
	}
	decode := func(col datatypes.JSON, dst interface{}) error {
		if len(col) == 0 || string(col) == "null" {
			return nil
		}
		if err := json.Unmarshal(col, dst); err != nil {
			return fmt.Errorf("%w: message %s: %v", ErrInvalidData, rec.ID, err)
		}
		return nil
	}
	if err := decode(rec.Images, &msg.Images); err != nil {
		return msg, err
	}
	if err := decode(rec.Usage, &msg.Usage); err != nil {
		return msg, err
	}
	if err := decode(rec.Batch, &msg.Batch); err != nil {
		return msg, err
	}
	return msg, nil
}
