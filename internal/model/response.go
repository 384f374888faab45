package model

import "time"

type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Loading      bool      `json:"loading"`
}

// TurnResponse is what a send/resend/regenerate call returns once the turn
// has settled.
type TurnResponse struct {
	ConversationID string   `json:"conversation_id"`
	UserMessageID  string   `json:"user_message_id"`
	Message        *Message `json:"message,omitempty"`
	Error          string   `json:"error,omitempty"`
}

type ConversationStatus struct {
	ConversationID string     `json:"conversation_id"`
	Loading        bool       `json:"loading"`
	UserMessageID  string     `json:"user_message_id,omitempty"`
	DispatchedAt   *time.Time `json:"dispatched_at,omitempty"`
}
