package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multichat-backend/internal/model"
)

func TestParseValue(t *testing.T) {
	assert.Equal(t, float64(3), parseValue("3"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, "gpt-4o", parseValue("gpt-4o"))
	assert.Equal(t, "quoted", parseValue(`"quoted"`))
}

func TestTurnFlagsOverrides(t *testing.T) {
	f := turnFlags{}
	o := f.overrides()
	assert.Nil(t, o.ConcurrentCount)
	assert.Nil(t, o.Model)
	assert.Nil(t, o.SystemPrompt)

	f = turnFlags{concurrent: 4, model: "m", prompt: "coder"}
	o = f.overrides()
	require.NotNil(t, o.ConcurrentCount)
	assert.Equal(t, 4, *o.ConcurrentCount)
	assert.Equal(t, "m", *o.Model)
	assert.Equal(t, "coder", *o.SystemPrompt)
}

func TestPrintMessageBatch(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	msg := &model.Message{
		ID:   "a1",
		Role: model.RoleAssistant,
		Batch: &model.Batch{
			Phase:        model.PhaseFinal,
			Selected:     1,
			SuccessCount: 1,
			TotalCount:   3,
			Results: []model.Result{
				model.FailedResult("boom"),
				model.SucceededResult("hello", nil),
				model.PendingResult(),
			},
		},
	}
	printMessage(cmd, msg)

	out := buf.String()
	assert.Contains(t, out, "1/3 succeeded (final)")
	assert.Contains(t, out, "  0: Request failed: boom")
	assert.Contains(t, out, "* 1: hello")
	assert.Contains(t, out, "  2: (pending)")
}
