package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"multichat-backend/internal/history"
	"multichat-backend/internal/model"
	"multichat-backend/internal/storage"
	"multichat-backend/pkg/logger"
)

const (
	DefaultTitle   = "New Chat"
	titleRuneLimit = 20
	maxCloneCount  = 10
)

var (
	ErrEmptyMessage      = errors.New("message content must not be empty")
	ErrInvalidCloneCount = fmt.Errorf("clone count must be between 1 and %d", maxCloneCount)
	ErrNotAssistant      = errors.New("message is not an assistant message")
)

// ChatService exposes the conversation actions of the chat client on top of
// the store and the orchestrator.
type ChatService struct {
	storage      storage.Storage
	orchestrator *Orchestrator
	newID        func() string
	now          func() time.Time
}

func NewChatService(store storage.Storage, orchestrator *Orchestrator) *ChatService {
	return &ChatService{
		storage:      store,
		orchestrator: orchestrator,
		newID:        orchestrator.newID,
		now:          orchestrator.now,
	}
}

func (s *ChatService) Orchestrator() *Orchestrator { return s.orchestrator }

func (s *ChatService) CreateConversation(title string) (*model.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	now := s.now()
	conv := &model.Conversation{
		ID:        s.newID(),
		Title:     title,
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.storage.CreateConversation(conv); err != nil {
		return nil, err
	}
	logger.Infof("Created conversation %s", conv.ID)
	return conv, nil
}

func (s *ChatService) GetConversation(conversationID string) (*model.Conversation, error) {
	return s.storage.GetConversation(conversationID)
}

func (s *ChatService) ListConversations() ([]model.ConversationSummary, error) {
	list, err := s.storage.ListConversations()
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Loading = s.IsLoading(list[i].ID)
	}
	return list, nil
}

func (s *ChatService) DeleteConversation(conversationID string) error {
	if err := s.storage.DeleteConversation(conversationID); err != nil {
		return err
	}
	s.orchestrator.reconciler.ClearMarker(conversationID)
	return nil
}

func (s *ChatService) RenameConversation(conversationID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: empty title", storage.ErrInvalidData)
	}
	return s.storage.UpdateTitle(conversationID, title)
}

// IsLoading reports whether a turn is in flight for the conversation.
func (s *ChatService) IsLoading(conversationID string) bool {
	_, ok := s.orchestrator.Status(conversationID)
	return ok
}

func (s *ChatService) Status(conversationID string) model.ConversationStatus {
	st := model.ConversationStatus{ConversationID: conversationID}
	if out, ok := s.orchestrator.Status(conversationID); ok {
		at := out.DispatchedAt
		st.Loading = true
		st.UserMessageID = out.UserMessageID
		st.DispatchedAt = &at
	}
	return st
}

// preflight validates the turn settings and reserves the conversation
// before anything is written. The caller owns the returned release.
func (s *ChatService) preflight(conversationID string, overrides model.TurnOverrides) (func(), error) {
	if err := s.orchestrator.Effective(overrides).Validate(); err != nil {
		return nil, err
	}
	return s.orchestrator.Reserve(conversationID)
}

// SendMessage appends a user message and dispatches it. The first message
// of a conversation also names it.
func (s *ChatService) SendMessage(ctx context.Context, conversationID, content string, images []string, overrides model.TurnOverrides) (*TurnResult, error) {
	if strings.TrimSpace(content) == "" && len(images) == 0 {
		return nil, ErrEmptyMessage
	}
	release, err := s.preflight(conversationID, overrides)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, err := s.storage.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}

	msg := model.NewUserMessage(s.newID(), content, images, s.now())
	if err := s.storage.AppendMessage(conversationID, msg); err != nil {
		return nil, err
	}
	if len(conv.Messages) == 0 && content != "" {
		if err := s.storage.UpdateTitle(conversationID, autoTitle(content)); err != nil {
			logger.Warnf("failed to set title of %s: %v", conversationID, err)
		}
	}

	return s.orchestrator.dispatchReserved(ctx, conversationID, msg.ID, overrides)
}

func autoTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleRuneLimit {
		return content
	}
	return string(runes[:titleRuneLimit]) + "..."
}

// Regenerate drops an assistant message and everything after it, then
// dispatches the user message it answered again.
func (s *ChatService) Regenerate(ctx context.Context, conversationID, assistantMessageID string, overrides model.TurnOverrides) (*TurnResult, error) {
	release, err := s.preflight(conversationID, overrides)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, err := s.storage.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	idx := conv.IndexOf(assistantMessageID)
	if idx < 0 {
		return nil, storage.ErrMessageNotFound
	}
	if !conv.Messages[idx].IsAssistant() {
		return nil, ErrNotAssistant
	}
	userID := sourceUserMessage(conv, idx)
	if userID == "" {
		return nil, fmt.Errorf("%w: no user message precedes %s", storage.ErrMessageNotFound, assistantMessageID)
	}

	if err := s.storage.TruncateFrom(conversationID, idx); err != nil {
		return nil, err
	}
	s.orchestrator.reconciler.ClearMarker(conversationID)
	return s.orchestrator.dispatchReserved(ctx, conversationID, userID, overrides)
}

// sourceUserMessage finds the user message an assistant message at idx
// answers: its back-reference when that precedes it, else the nearest user
// message before it.
func sourceUserMessage(conv *model.Conversation, idx int) string {
	if ref := conv.Messages[idx].UserMessageID; ref != "" {
		if i := conv.IndexOf(ref); i >= 0 && i < idx && conv.Messages[i].IsUser() {
			return ref
		}
	}
	for i := idx - 1; i >= 0; i-- {
		if conv.Messages[i].IsUser() {
			return conv.Messages[i].ID
		}
	}
	return ""
}

// EditAndResend optionally replaces a user message's content, drops every
// message after it and dispatches it again.
func (s *ChatService) EditAndResend(ctx context.Context, conversationID, userMessageID string, content *string, overrides model.TurnOverrides) (*TurnResult, error) {
	release, err := s.preflight(conversationID, overrides)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, err := s.storage.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	idx := conv.IndexOf(userMessageID)
	if idx < 0 {
		return nil, storage.ErrMessageNotFound
	}
	if !conv.Messages[idx].IsUser() {
		return nil, ErrNotUserMessage
	}

	if content != nil {
		if strings.TrimSpace(*content) == "" {
			return nil, ErrEmptyMessage
		}
		if _, err := s.storage.UpdateMessage(conversationID, userMessageID, func(m *model.Message) error {
			m.Content = *content
			return nil
		}); err != nil {
			return nil, err
		}
	}
	if err := s.storage.TruncateFrom(conversationID, idx+1); err != nil {
		return nil, err
	}
	s.orchestrator.reconciler.ClearMarker(conversationID)
	return s.orchestrator.dispatchReserved(ctx, conversationID, userMessageID, overrides)
}

// EditMessage replaces the content of a message without dispatching.
func (s *ChatService) EditMessage(conversationID, messageID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	return s.storage.UpdateMessage(conversationID, messageID, func(m *model.Message) error {
		m.Content = content
		return nil
	})
}

func (s *ChatService) SelectResult(conversationID, messageID string, index int) (*model.Message, error) {
	return s.orchestrator.reconciler.Select(conversationID, messageID, index)
}

func (s *ChatService) SetMergeVersions(conversationID, messageID string, enabled bool) (*model.Message, error) {
	return s.orchestrator.reconciler.SetMergeVersions(conversationID, messageID, enabled)
}

// CloneConversation makes count independent copies of a conversation with
// fresh conversation and message ids. Back-references are remapped.
func (s *ChatService) CloneConversation(conversationID string, count int) ([]*model.Conversation, error) {
	if count < 1 || count > maxCloneCount {
		return nil, ErrInvalidCloneCount
	}
	src, err := s.storage.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}

	clones := make([]*model.Conversation, 0, count)
	for i := 0; i < count; i++ {
		c := src.Clone()
		now := s.now()
		c.ID = s.newID()
		c.CreatedAt, c.UpdatedAt = now, now

		ids := make(map[string]string, len(c.Messages))
		for j := range c.Messages {
			fresh := s.newID()
			ids[c.Messages[j].ID] = fresh
			c.Messages[j].ID = fresh
		}
		for j := range c.Messages {
			if ref, ok := ids[c.Messages[j].UserMessageID]; ok {
				c.Messages[j].UserMessageID = ref
			}
			if c.Messages[j].IsPartial() {
				c.Messages[j].Batch.Phase = model.PhaseFinal
			}
		}

		if err := s.storage.CreateConversation(c); err != nil {
			return clones, err
		}
		clones = append(clones, c)
	}
	logger.Infof("Cloned conversation %s %d times", conversationID, count)
	return clones, nil
}

// CopyText returns a message's content with any task tag removed.
func (s *ChatService) CopyText(conversationID, messageID string) (string, error) {
	conv, err := s.storage.GetConversation(conversationID)
	if err != nil {
		return "", err
	}
	m := conv.Find(messageID)
	if m == nil {
		return "", storage.ErrMessageNotFound
	}
	return strings.TrimSpace(history.StripTaskTag(m.Content)), nil
}
