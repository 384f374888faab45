package history

import (
	"fmt"
	"regexp"

	openai "github.com/sashabaranov/go-openai"
)

const taskTagFormat = "[ignore this line, unique task id: %s]"

var taskTagPattern = regexp.MustCompile(`\n?\[ignore this line, unique task id: [^\]\n]*\]`)

// TaskTag returns the marker line that makes otherwise identical
// concurrent prompts distinct to the vendor.
func TaskTag(id string) string {
	return fmt.Sprintf(taskTagFormat, id)
}

func AppendTaskTag(content, id string) string {
	return content + "\n" + TaskTag(id)
}

// StripTaskTag removes every task tag line from content.
func StripTaskTag(content string) string {
	return taskTagPattern.ReplaceAllString(content, "")
}

// ReplaceTaskTag rewrites the task tag of the last user message in msgs
// to id, appending one if it has none. msgs is not modified; the returned
// slice shares everything but the rewritten message.
func ReplaceTaskTag(msgs []openai.ChatCompletionMessage, id string) []openai.ChatCompletionMessage {
	idx := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == openai.ChatMessageRoleUser {
			idx = i
			break
		}
	}
	if idx < 0 {
		return msgs
	}

	out := make([]openai.ChatCompletionMessage, len(msgs))
	copy(out, msgs)
	msg := out[idx]

	if len(msg.MultiContent) == 0 {
		msg.Content = AppendTaskTag(StripTaskTag(msg.Content), id)
		out[idx] = msg
		return out
	}

	parts := make([]openai.ChatMessagePart, len(msg.MultiContent))
	copy(parts, msg.MultiContent)
	tagged := false
	for i := range parts {
		if parts[i].Type == openai.ChatMessagePartTypeText {
			parts[i].Text = AppendTaskTag(StripTaskTag(parts[i].Text), id)
			tagged = true
			break
		}
	}
	if !tagged {
		parts = append([]openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: TaskTag(id),
		}}, parts...)
	}
	msg.MultiContent = parts
	out[idx] = msg
	return out
}
