package history

import (
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multichat-backend/internal/model"
)

func assistant(content string, merge bool, results ...model.Result) model.Message {
	m := model.Message{
		ID:            "a",
		Role:          model.RoleAssistant,
		Content:       content,
		Timestamp:     time.Now(),
		MergeVersions: merge,
	}
	if len(results) > 0 {
		m.Batch = &model.Batch{Phase: model.PhaseFinal, Results: results, TotalCount: len(results)}
	}
	return m
}

func TestBuildMergesSuccessfulVersions(t *testing.T) {
	msgs := []model.Message{
		model.NewUserMessage("u", "q", nil, time.Now()),
		assistant("X", true, model.SucceededResult("X", nil), model.SucceededResult("Y", nil)),
	}

	out := Build(msgs)
	require.Len(t, out, 2)
	assert.Equal(t, openai.ChatMessageRoleUser, out[0].Role)
	assert.Equal(t, "q", out[0].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, out[1].Role)
	assert.Equal(t, "Version 1:\nX\n\nVersion 2:\nY", out[1].Content)
}

func TestBuildLabelsBySlotAndSkipsFailures(t *testing.T) {
	m := assistant("B", true,
		model.FailedResult("timeout"),
		model.SucceededResult("B", nil),
		model.SucceededResult("C", nil),
	)
	assert.Equal(t, "Version 2:\nB\n\nVersion 3:\nC", MergedContent(&m))
}

func TestBuildPassesThroughSelectedContent(t *testing.T) {
	cases := []struct {
		name string
		msg  model.Message
	}{
		{"merge off", assistant("sel", false, model.SucceededResult("X", nil), model.SucceededResult("sel", nil))},
		{"single success", assistant("sel", true, model.SucceededResult("sel", nil), model.FailedResult("e"))},
		{"no batch", assistant("sel", true)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Build([]model.Message{tc.msg})
			require.Len(t, out, 1)
			assert.Equal(t, "sel", out[0].Content)
		})
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	msgs := []model.Message{
		model.NewUserMessage("u", "q", []string{"aW1n"}, time.Now()),
		assistant("X", true, model.SucceededResult("X", nil), model.SucceededResult("Y", nil)),
	}
	assert.Equal(t, Build(msgs), Build(msgs))
	assert.Equal(t, "X", msgs[1].Content)
}

func TestBuildUsesVisionPartsForImages(t *testing.T) {
	out := Build([]model.Message{model.NewUserMessage("u", "look", []string{"AAA"}, time.Now())})
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Content)
	require.Len(t, out[0].MultiContent, 2)
	assert.Equal(t, "look", out[0].MultiContent[0].Text)
	assert.Equal(t, "data:image/jpeg;base64,AAA", out[0].MultiContent[1].ImageURL.URL)
}

func TestWindow(t *testing.T) {
	msgs := make([]model.Message, 12)
	for i := range msgs {
		msgs[i] = model.NewUserMessage(string(rune('a'+i)), "", nil, time.Now())
	}
	assert.Len(t, Window(msgs, 10), 10)
	assert.Equal(t, "c", Window(msgs, 10)[0].ID)
	assert.Len(t, Window(msgs, 0), 12)
	assert.Len(t, Window(msgs[:3], 10), 3)
}

func TestPrompt(t *testing.T) {
	prior := []model.Message{
		model.NewUserMessage("u1", "first", nil, time.Now()),
		assistant("reply", false),
	}
	current := model.NewUserMessage("u2", "second", nil, time.Now())

	out := Prompt(prior, current, PromptOptions{SystemPrompt: "be brief", Window: 10, TaskID: "t1"})
	require.Len(t, out, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, out[0].Role)
	assert.Equal(t, "second\n[ignore this line, unique task id: t1]", out[3].Content)

	out = Prompt(prior, current, PromptOptions{Window: 1})
	require.Len(t, out, 2)
	assert.Equal(t, "reply", out[0].Content)
	assert.Equal(t, "second", out[1].Content)
}

func TestTaskTagHelpers(t *testing.T) {
	tagged := AppendTaskTag("hello", "abc")
	assert.Equal(t, "hello", StripTaskTag(tagged))
	assert.Equal(t, "plain", StripTaskTag("plain"))

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "old"},
		{Role: openai.ChatMessageRoleAssistant, Content: "r"},
		{Role: openai.ChatMessageRoleUser, Content: tagged},
	}
	out := ReplaceTaskTag(msgs, "xyz_C2")
	assert.Equal(t, "hello\n[ignore this line, unique task id: xyz_C2]", out[2].Content)
	assert.Equal(t, tagged, msgs[2].Content)
	assert.Equal(t, "old", out[0].Content)
}

func TestReplaceTaskTagMultiContent(t *testing.T) {
	msgs := []openai.ChatCompletionMessage{
		UserPrompt("", []string{"AAA"}),
	}
	out := ReplaceTaskTag(msgs, "id1")
	require.Len(t, out[0].MultiContent, 2)
	assert.Equal(t, "[ignore this line, unique task id: id1]", out[0].MultiContent[0].Text)
	assert.Len(t, msgs[0].MultiContent, 1)
}
