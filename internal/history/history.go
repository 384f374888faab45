// Package history turns stored conversation messages into the prompt
// history sent to the inference gateway.
package history

import (
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"multichat-backend/internal/model"
)

const imageDataURIPrefix = "data:image/jpeg;base64,"

// Build converts messages into prompt messages, one for one and in order.
// An assistant message with merge-versions on and at least two successful
// results contributes every successful result, labelled by slot. Build has
// no side effects.
func Build(messages []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for i := range messages {
		out = append(out, toPrompt(&messages[i]))
	}
	return out
}

// Window returns the last n messages, or all of them when n <= 0 or there
// are fewer than n.
func Window(messages []model.Message, n int) []model.Message {
	if n <= 0 || len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

// MergedContent returns the content an assistant message contributes to
// history.
func MergedContent(m *model.Message) string {
	if !m.IsAssistant() || !m.MergeVersions || m.Batch == nil || m.Batch.CountSucceeded() < 2 {
		return m.Content
	}

	var sb strings.Builder
	for i, r := range m.Batch.Results {
		if !r.Succeeded() {
			continue
		}
		fmt.Fprintf(&sb, "Version %d:\n%s\n\n", i+1, r.Content)
	}
	return strings.TrimSpace(sb.String())
}

func toPrompt(m *model.Message) openai.ChatCompletionMessage {
	if m.IsAssistant() {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: MergedContent(m),
		}
	}
	return UserPrompt(m.Content, m.Images)
}

// UserPrompt builds a user prompt message. With images it uses multi-part
// vision content.
func UserPrompt(content string, images []string) openai.ChatCompletionMessage {
	if len(images) == 0 {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: content,
		}
	}

	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	if content != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: content,
		})
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: imageDataURIPrefix + img},
		})
	}
	return openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	}
}

// PromptOptions are the per-turn inputs to Prompt.
type PromptOptions struct {
	SystemPrompt string
	Window       int
	TaskID       string
}

// Prompt assembles the full message list for one dispatch: the system
// prompt, the windowed history and the current user message carrying a
// task tag.
func Prompt(prior []model.Message, current model.Message, opts PromptOptions) []openai.ChatCompletionMessage {
	windowed := Window(prior, opts.Window)
	out := make([]openai.ChatCompletionMessage, 0, len(windowed)+2)
	if opts.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.SystemPrompt,
		})
	}
	out = append(out, Build(windowed)...)

	text := current.Content
	if opts.TaskID != "" && (text != "" || len(current.Images) == 0) {
		text = AppendTaskTag(text, opts.TaskID)
	}
	return append(out, UserPrompt(text, current.Images))
}
