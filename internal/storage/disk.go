package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"multichat-backend/internal/model"
	"multichat-backend/pkg/logger"
)

// DiskStorage keeps one JSON file per conversation header, one per message
// log, and an index of all conversations. Files are replaced atomically via
// a temp file and rename.
type DiskStorage struct {
	dataDir   string
	mu        sync.Mutex
	index     map[string]*ConversationIndex
	cache     map[string]*model.Conversation
	cacheSize int
}

type ConversationIndex struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

func NewDiskStorage(dataDir string, cacheSize int) *DiskStorage {
	if cacheSize < 1 {
		cacheSize = 1
	}
	return &DiskStorage{
		dataDir:   dataDir,
		index:     make(map[string]*ConversationIndex),
		cache:     make(map[string]*model.Conversation),
		cacheSize: cacheSize,
	}
}

func (d *DiskStorage) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	if err := d.loadIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Infof("Disk storage initialized at %s with %d conversations", d.dataDir, len(d.index))
	return nil
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "conversations"),
		filepath.Join(d.dataDir, "messages"),
		filepath.Join(d.dataDir, "backup"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiskStorage) indexPath() string {
	return filepath.Join(d.dataDir, "conversations.json")
}

func (d *DiskStorage) conversationPath(id string) string {
	return filepath.Join(d.dataDir, "conversations", id+".json")
}

func (d *DiskStorage) messagesPath(id string) string {
	return filepath.Join(d.dataDir, "messages", id+".json")
}

func (d *DiskStorage) loadIndex() error {
	data, err := os.ReadFile(d.indexPath())
	if os.IsNotExist(err) {
		return d.saveIndex()
	}
	if err != nil {
		return err
	}

	var entries []*ConversationIndex
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		d.index[e.ID] = e
	}
	return nil
}

func (d *DiskStorage) saveIndex() error {
	entries := make([]*ConversationIndex, 0, len(d.index))
	for _, e := range d.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	return writeJSON(d.indexPath(), entries)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

func (d *DiskStorage) readConversation(id string) (*model.Conversation, error) {
	data, err := os.ReadFile(d.conversationPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	conv.Messages = []model.Message{}
	data, err = os.ReadFile(d.messagesPath(id))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	default:
		if err := json.Unmarshal(data, &conv.Messages); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
	}
	return &conv, nil
}

// load returns the cached conversation, reading it from disk on a miss.
// Callers hold d.mu.
func (d *DiskStorage) load(id string) (*model.Conversation, error) {
	if conv, ok := d.cache[id]; ok {
		return conv, nil
	}
	if _, ok := d.index[id]; !ok {
		return nil, ErrConversationNotFound
	}
	conv, err := d.readConversation(id)
	if err != nil {
		return nil, err
	}
	d.cache[id] = conv
	d.evictCache()
	return conv, nil
}

// persist writes conv to disk and refreshes its index entry. Callers hold
// d.mu.
func (d *DiskStorage) persist(conv *model.Conversation) error {
	header := *conv
	header.Messages = nil
	if err := writeJSON(d.conversationPath(conv.ID), header); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := writeJSON(d.messagesPath(conv.ID), conv.Messages); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.index[conv.ID] = &ConversationIndex{
		ID:           conv.ID,
		Title:        conv.Title,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		MessageCount: len(conv.Messages),
	}
	if err := d.saveIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStorage) CreateConversation(conv *model.Conversation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.index[conv.ID]; exists {
		return fmt.Errorf("%w: conversation %s already exists", ErrInvalidData, conv.ID)
	}
	stored := conv.Clone()
	if stored.Messages == nil {
		stored.Messages = []model.Message{}
	}
	if err := d.persist(stored); err != nil {
		return err
	}
	d.cache[stored.ID] = stored
	d.evictCache()
	return nil
}

func (d *DiskStorage) GetConversation(conversationID string) (*model.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conv, err := d.load(conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

func (d *DiskStorage) ListConversations() ([]model.ConversationSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]model.ConversationSummary, 0, len(d.index))
	for _, e := range d.index {
		out = append(out, model.ConversationSummary{
			ID:           e.ID,
			Title:        e.Title,
			CreatedAt:    e.CreatedAt,
			UpdatedAt:    e.UpdatedAt,
			MessageCount: e.MessageCount,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (d *DiskStorage) DeleteConversation(conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.index[conversationID]; !exists {
		return ErrConversationNotFound
	}
	for _, path := range []string{d.conversationPath(conversationID), d.messagesPath(conversationID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	delete(d.cache, conversationID)
	delete(d.index, conversationID)
	return d.saveIndex()
}

// mutate loads a conversation, applies fn and persists the result. On
// failure the cached copy is dropped so the next read comes from disk.
func (d *DiskStorage) mutate(conversationID string, fn func(*model.Conversation) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cached, err := d.load(conversationID)
	if err != nil {
		return err
	}
	conv := cached.Clone()
	if err := fn(conv); err != nil {
		return err
	}
	conv.UpdatedAt = time.Now()
	if err := d.persist(conv); err != nil {
		delete(d.cache, conversationID)
		return err
	}
	d.cache[conversationID] = conv
	return nil
}

func (d *DiskStorage) UpdateTitle(conversationID, title string) error {
	return d.mutate(conversationID, func(conv *model.Conversation) error {
		conv.Title = title
		return nil
	})
}

func (d *DiskStorage) AppendMessage(conversationID string, message model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return d.mutate(conversationID, func(conv *model.Conversation) error {
		conv.Messages = append(conv.Messages, message.Clone())
		return nil
	})
}

func (d *DiskStorage) UpdateMessage(conversationID, messageID string, patch func(*model.Message) error) (*model.Message, error) {
	var out model.Message
	err := d.mutate(conversationID, func(conv *model.Conversation) error {
		idx := conv.IndexOf(messageID)
		if idx < 0 {
			return ErrMessageNotFound
		}
		if err := applyPatch(&conv.Messages[idx], patch); err != nil {
			return err
		}
		out = conv.Messages[idx].Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *DiskStorage) TruncateFrom(conversationID string, index int) error {
	return d.mutate(conversationID, func(conv *model.Conversation) error {
		if err := checkTruncateIndex(index, len(conv.Messages)); err != nil {
			return err
		}
		conv.Messages = conv.Messages[:index]
		return nil
	})
}

func (d *DiskStorage) evictCache() {
	if len(d.cache) <= d.cacheSize {
		return
	}

	type cacheEntry struct {
		id        string
		updatedAt time.Time
	}
	entries := make([]cacheEntry, 0, len(d.cache))
	for id, conv := range d.cache {
		entries = append(entries, cacheEntry{id: id, updatedAt: conv.UpdatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].updatedAt.Before(entries[j].updatedAt)
	})

	toEvict := len(d.cache) - d.cacheSize
	for i := 0; i < toEvict; i++ {
		delete(d.cache, entries[i].id)
	}
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]*model.Conversation)
	return nil
}

// Backup copies every conversation file and the index into a timestamped
// directory under backup/.
func (d *DiskStorage) Backup() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	backupDir := filepath.Join(d.dataDir, "backup", fmt.Sprintf("backup_%d", time.Now().UnixNano()))
	for _, dir := range []string{"conversations", "messages"} {
		dst := filepath.Join(backupDir, dir)
		if err := os.MkdirAll(dst, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		if err := copyDir(filepath.Join(d.dataDir, dir), dst); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}
	if err := copyFile(d.indexPath(), filepath.Join(backupDir, "conversations.json")); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	logger.Infof("Backup completed: %s", backupDir)
	return nil
}

func copyDir(src, dst string) error {
	files, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		if err := copyFile(filepath.Join(src, file.Name()), filepath.Join(dst, file.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
