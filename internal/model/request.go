package model

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type UpdateTitleRequest struct {
	Title string `json:"title" binding:"required"`
}

// SendMessageRequest carries one user turn plus optional per-turn
// overrides. Nil override fields fall back to the global settings.
type SendMessageRequest struct {
	Content   string        `json:"content" binding:"required"`
	Images    []string      `json:"images"`
	Overrides TurnOverrides `json:"overrides"`
}

type TurnOverrides struct {
	ConcurrentCount *int     `json:"concurrentCount,omitempty"`
	Model           *string  `json:"model,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxTokens       *int     `json:"maxTokens,omitempty"`
	SystemPrompt    *string  `json:"systemPrompt,omitempty"`
	BaseURL         *string  `json:"provider,omitempty"`
	APIKey          *string  `json:"apiKey,omitempty"`
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type ResendRequest struct {
	Content   *string       `json:"content"`
	Overrides TurnOverrides `json:"overrides"`
}

type RegenerateRequest struct {
	Overrides TurnOverrides `json:"overrides"`
}

type SelectResultRequest struct {
	Index *int `json:"index" binding:"required"`
}

type MergeVersionsRequest struct {
	Enabled bool `json:"enabled"`
}

type CloneRequest struct {
	Count int `json:"count"`
}

type SettingRequest struct {
	Value interface{} `json:"value" binding:"required"`
}
