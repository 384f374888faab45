package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multichat-backend/internal/model"
)

func backends(t *testing.T) map[string]func(t *testing.T) Storage {
	return map[string]func(t *testing.T) Storage{
		"memory": func(t *testing.T) Storage { return NewMemoryStorage() },
		"disk": func(t *testing.T) Storage {
			return NewDiskStorage(t.TempDir(), 2)
		},
		"sqlite": func(t *testing.T) Storage {
			return NewSQLiteStorage(filepath.Join(t.TempDir(), "chat.db"))
		},
	}
}

func newConversation(id string) *model.Conversation {
	now := time.Now()
	return &model.Conversation{ID: id, Title: "New chat", CreatedAt: now, UpdatedAt: now}
}

func batchReply(id, userID string) model.Message {
	return model.Message{
		ID:            id,
		Role:          model.RoleAssistant,
		Content:       "A",
		Timestamp:     time.Now(),
		UserMessageID: userID,
		Usage:         &model.Usage{TotalTokens: 7, PromptTokens: 3, CompletionTokens: 4},
		Batch: &model.Batch{
			Phase: model.PhaseFinal,
			Results: []model.Result{
				model.SucceededResult("A", nil),
				model.FailedResult("timeout"),
				model.SucceededResult("C", &model.Usage{TotalTokens: 2}),
			},
			Selected:     0,
			SuccessCount: 2,
			TotalCount:   3,
		},
	}
}

func TestStorageContract(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			require.NoError(t, s.Init())
			t.Cleanup(func() { _ = s.Close() })

			t.Run("round trip with batch", func(t *testing.T) {
				require.NoError(t, s.CreateConversation(newConversation("c1")))
				user := model.NewUserMessage("u1", "hi", []string{"aW1n"}, time.Now())
				require.NoError(t, s.AppendMessage("c1", user))
				require.NoError(t, s.AppendMessage("c1", batchReply("a1", "u1")))

				conv, err := s.GetConversation("c1")
				require.NoError(t, err)
				require.Len(t, conv.Messages, 2)
				assert.Equal(t, "u1", conv.Messages[0].ID)
				assert.Equal(t, []string{"aW1n"}, conv.Messages[0].Images)

				got := conv.Messages[1]
				assert.Equal(t, "u1", got.UserMessageID)
				require.NotNil(t, got.Usage)
				assert.Equal(t, 7, got.Usage.TotalTokens)
				require.NotNil(t, got.Batch)
				assert.Equal(t, model.PhaseFinal, got.Batch.Phase)
				assert.Equal(t, 2, got.Batch.SuccessCount)
				assert.Equal(t, "timeout", got.Batch.Results[1].Error)
				assert.Equal(t, 2, got.Batch.Results[2].Usage.TotalTokens)
			})

			t.Run("returned values are private copies", func(t *testing.T) {
				conv, err := s.GetConversation("c1")
				require.NoError(t, err)
				conv.Messages[1].Batch.Results[0].Content = "mutated"
				conv.Title = "mutated"

				again, err := s.GetConversation("c1")
				require.NoError(t, err)
				assert.Equal(t, "A", again.Messages[1].Batch.Results[0].Content)
				assert.Equal(t, "New chat", again.Title)
			})

			t.Run("update message", func(t *testing.T) {
				updated, err := s.UpdateMessage("c1", "a1", func(m *model.Message) error {
					m.Batch.Selected = 2
					m.Content = m.Batch.Results[2].Content
					m.MergeVersions = true
					return nil
				})
				require.NoError(t, err)
				assert.Equal(t, "C", updated.Content)

				conv, err := s.GetConversation("c1")
				require.NoError(t, err)
				assert.Equal(t, 2, conv.Messages[1].Batch.Selected)
				assert.True(t, conv.Messages[1].MergeVersions)
			})

			t.Run("patch may not change identity", func(t *testing.T) {
				_, err := s.UpdateMessage("c1", "a1", func(m *model.Message) error {
					m.ID = "other"
					return nil
				})
				assert.ErrorIs(t, err, ErrInvalidData)

				_, err = s.UpdateMessage("c1", "missing", func(*model.Message) error { return nil })
				assert.ErrorIs(t, err, ErrMessageNotFound)
			})

			t.Run("patch error leaves message untouched", func(t *testing.T) {
				boom := errors.New("boom")
				_, err := s.UpdateMessage("c1", "a1", func(m *model.Message) error {
					m.Content = "half written"
					return boom
				})
				assert.ErrorIs(t, err, boom)

				conv, err := s.GetConversation("c1")
				require.NoError(t, err)
				assert.Equal(t, "C", conv.Messages[1].Content)
			})

			t.Run("truncate", func(t *testing.T) {
				require.NoError(t, s.AppendMessage("c1", model.NewUserMessage("u2", "again", nil, time.Now())))
				assert.ErrorIs(t, s.TruncateFrom("c1", 4), ErrInvalidIndex)
				assert.ErrorIs(t, s.TruncateFrom("c1", -1), ErrInvalidIndex)

				require.NoError(t, s.TruncateFrom("c1", 1))
				conv, err := s.GetConversation("c1")
				require.NoError(t, err)
				require.Len(t, conv.Messages, 1)
				assert.Equal(t, "u1", conv.Messages[0].ID)

				require.NoError(t, s.AppendMessage("c1", batchReply("a2", "u1")))
				conv, err = s.GetConversation("c1")
				require.NoError(t, err)
				require.Len(t, conv.Messages, 2)
				assert.Equal(t, "a2", conv.Messages[1].ID)
			})

			t.Run("invalid message rejected", func(t *testing.T) {
				bad := model.NewUserMessage("u9", "x", nil, time.Now())
				bad.IsError = true
				assert.ErrorIs(t, s.AppendMessage("c1", bad), ErrInvalidData)
			})

			t.Run("list orders by most recent update", func(t *testing.T) {
				require.NoError(t, s.CreateConversation(newConversation("c2")))
				time.Sleep(5 * time.Millisecond)
				require.NoError(t, s.UpdateTitle("c2", "Renamed"))

				list, err := s.ListConversations()
				require.NoError(t, err)
				require.Len(t, list, 2)
				assert.Equal(t, "c2", list[0].ID)
				assert.Equal(t, "Renamed", list[0].Title)
				assert.Equal(t, 2, list[1].MessageCount)
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, s.DeleteConversation("c2"))
				assert.ErrorIs(t, s.DeleteConversation("c2"), ErrConversationNotFound)
				_, err := s.GetConversation("c2")
				assert.ErrorIs(t, err, ErrConversationNotFound)
				assert.ErrorIs(t, s.AppendMessage("c2", model.NewUserMessage("u", "x", nil, time.Now())), ErrConversationNotFound)
			})

			t.Run("duplicate create rejected", func(t *testing.T) {
				assert.ErrorIs(t, s.CreateConversation(newConversation("c1")), ErrInvalidData)
			})
		})
	}
}

func TestDiskStorageReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStorage(dir, 1)
	require.NoError(t, s.Init())
	require.NoError(t, s.CreateConversation(newConversation("c1")))
	require.NoError(t, s.AppendMessage("c1", model.NewUserMessage("u1", "hi", nil, time.Now())))
	require.NoError(t, s.AppendMessage("c1", batchReply("a1", "u1")))
	require.NoError(t, s.Close())

	reopened := NewDiskStorage(dir, 1)
	require.NoError(t, reopened.Init())
	conv, err := reopened.GetConversation("c1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, 3, conv.Messages[1].Batch.TotalCount)

	list, err := reopened.ListConversations()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].MessageCount)
}

func TestDiskStorageCacheEviction(t *testing.T) {
	s := NewDiskStorage(t.TempDir(), 1)
	require.NoError(t, s.Init())
	require.NoError(t, s.CreateConversation(newConversation("c1")))
	require.NoError(t, s.CreateConversation(newConversation("c2")))

	assert.Len(t, s.cache, 1)

	conv, err := s.GetConversation("c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
}

func TestDiskStorageBackup(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStorage(dir, 4)
	require.NoError(t, s.Init())
	require.NoError(t, s.CreateConversation(newConversation("c1")))
	require.NoError(t, s.Backup())

	matches, err := filepath.Glob(filepath.Join(dir, "backup", "backup_*", "conversations", "c1.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
