package model

import (
	"errors"
	"fmt"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Usage is the token accounting reported by the vendor for one completion.
type Usage struct {
	TotalTokens      int `json:"total_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is either a user or an assistant message, discriminated by Role.
// Images belong to user messages only; Usage, UserMessageID, IsError,
// MergeVersions and Batch belong to assistant messages only.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	Images []string `json:"images,omitempty"`

	Usage         *Usage `json:"usage,omitempty"`
	UserMessageID string `json:"userMessageId,omitempty"`
	IsError       bool   `json:"isError,omitempty"`
	MergeVersions bool   `json:"mergeVersions,omitempty"`
	Batch         *Batch `json:"batch,omitempty"`
}

var ErrInvalidMessage = errors.New("invalid message")

func NewUserMessage(id, content string, images []string, ts time.Time) Message {
	return Message{
		ID:        id,
		Role:      RoleUser,
		Content:   content,
		Images:    images,
		Timestamp: ts,
	}
}

func (m *Message) IsUser() bool      { return m.Role == RoleUser }
func (m *Message) IsAssistant() bool { return m.Role == RoleAssistant }

// IsPartial reports whether the message carries a batch that is still
// waiting on some of its results.
func (m *Message) IsPartial() bool {
	return m.Batch != nil && m.Batch.Phase == PhasePartial
}

func (m *Message) Validate() error {
	switch m.Role {
	case RoleUser:
		if m.Batch != nil || m.Usage != nil || m.UserMessageID != "" || m.IsError || m.MergeVersions {
			return fmt.Errorf("%w: user message %s carries assistant fields", ErrInvalidMessage, m.ID)
		}
	case RoleAssistant:
		if len(m.Images) > 0 {
			return fmt.Errorf("%w: assistant message %s carries images", ErrInvalidMessage, m.ID)
		}
		if m.Batch != nil {
			return m.Batch.Validate()
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidMessage)
	}
	return nil
}

// Clone returns a deep copy so that callers never alias stored state.
func (m Message) Clone() Message {
	out := m
	if m.Images != nil {
		out.Images = append([]string(nil), m.Images...)
	}
	if m.Usage != nil {
		u := *m.Usage
		out.Usage = &u
	}
	if m.Batch != nil {
		out.Batch = m.Batch.Clone()
	}
	return out
}

func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i := range c.Messages {
		out.Messages[i] = c.Messages[i].Clone()
	}
	return &out
}

// IndexOf returns the position of the message with the given id, or -1.
func (c *Conversation) IndexOf(messageID string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

func (c *Conversation) Find(messageID string) *Message {
	if i := c.IndexOf(messageID); i >= 0 {
		return &c.Messages[i]
	}
	return nil
}
