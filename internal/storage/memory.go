package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"multichat-backend/internal/model"
)

type MemoryStorage struct {
	conversations map[string]*model.Conversation
	mu            sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		conversations: make(map[string]*model.Conversation),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Backup() error {
	return nil
}

func (m *MemoryStorage) CreateConversation(conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return fmt.Errorf("%w: conversation %s already exists", ErrInvalidData, conv.ID)
	}
	m.conversations[conv.ID] = conv.Clone()
	return nil
}

func (m *MemoryStorage) GetConversation(conversationID string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, exists := m.conversations[conversationID]
	if !exists {
		return nil, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (m *MemoryStorage) ListConversations() ([]model.ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.ConversationSummary, 0, len(m.conversations))
	for _, conv := range m.conversations {
		out = append(out, summarize(conv, len(conv.Messages)))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *MemoryStorage) DeleteConversation(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conversationID]; !exists {
		return ErrConversationNotFound
	}
	delete(m.conversations, conversationID)
	return nil
}

func (m *MemoryStorage) UpdateTitle(conversationID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, exists := m.conversations[conversationID]
	if !exists {
		return ErrConversationNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStorage) AppendMessage(conversationID string, message model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, exists := m.conversations[conversationID]
	if !exists {
		return ErrConversationNotFound
	}
	conv.Messages = append(conv.Messages, message.Clone())
	conv.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStorage) UpdateMessage(conversationID, messageID string, patch func(*model.Message) error) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, exists := m.conversations[conversationID]
	if !exists {
		return nil, ErrConversationNotFound
	}
	idx := conv.IndexOf(messageID)
	if idx < 0 {
		return nil, ErrMessageNotFound
	}

	updated := conv.Messages[idx].Clone()
	if err := applyPatch(&updated, patch); err != nil {
		return nil, err
	}
	conv.Messages[idx] = updated
	conv.UpdatedAt = time.Now()

	out := updated.Clone()
	return &out, nil
}

func (m *MemoryStorage) TruncateFrom(conversationID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, exists := m.conversations[conversationID]
	if !exists {
		return ErrConversationNotFound
	}
	if err := checkTruncateIndex(index, len(conv.Messages)); err != nil {
		return err
	}
	conv.Messages = conv.Messages[:index]
	conv.UpdatedAt = time.Now()
	return nil
}
