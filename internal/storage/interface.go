package storage

import (
	"fmt"

	"multichat-backend/internal/model"
)

// Storage persists conversations. Every returned value is a private copy;
// mutating it does not change the store.
type Storage interface {
	CreateConversation(conv *model.Conversation) error
	GetConversation(conversationID string) (*model.Conversation, error)
	ListConversations() ([]model.ConversationSummary, error)
	DeleteConversation(conversationID string) error
	UpdateTitle(conversationID, title string) error

	AppendMessage(conversationID string, message model.Message) error
	// UpdateMessage applies patch to the stored message and returns the
	// result. The patch may not change the message id or role.
	UpdateMessage(conversationID, messageID string, patch func(*model.Message) error) (*model.Message, error)
	// TruncateFrom removes the message at index and everything after it.
	TruncateFrom(conversationID string, index int) error

	Init() error
	Close() error
	Backup() error
}

func applyPatch(msg *model.Message, patch func(*model.Message) error) error {
	id, role := msg.ID, msg.Role
	if err := patch(msg); err != nil {
		return err
	}
	if msg.ID != id || msg.Role != role {
		return fmt.Errorf("%w: patch changed identity of message %s", ErrInvalidData, id)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return nil
}

func checkTruncateIndex(index, length int) error {
	if index < 0 || index > length {
		return fmt.Errorf("%w: %d (have %d messages)", ErrInvalidIndex, index, length)
	}
	return nil
}

func summarize(conv *model.Conversation, count int) model.ConversationSummary {
	return model.ConversationSummary{
		ID:           conv.ID,
		Title:        conv.Title,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		MessageCount: count,
	}
}
