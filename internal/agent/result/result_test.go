package result_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/memory"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/result"
)

func TestOkSuccess(t *testing.T) {
	r := result.Ok("hello", model.TokenUsage{Input: 2, Output: 3}, nil, result.AgentReAct, nil, time.Second, time.Unix(0, 0))
	assert.True(t, r.Success())
	assert.Empty(t, r.Error)
	assert.Equal(t, "hello", r.FinalAnswer)
}

func TestErrMarksFailureButKeepsPartial(t *testing.T) {
	base := result.Ok("partial answer", model.TokenUsage{}, nil, result.AgentCodeAct, nil, 0, time.Unix(0, 0))
	r := result.Err("sandbox_unavailable", base)
	assert.False(t, r.Success())
	assert.Equal(t, "sandbox_unavailable", r.Error)
	assert.Equal(t, "partial answer", r.FinalAnswer)
}

func TestSummarizeStepsOneLinePerKind(t *testing.T) {
	steps := []memory.Step{
		{Kind: memory.KindSystemPrompt, Payload: memory.SystemPromptPayload{Text: "sys"}},
		{Kind: memory.KindTask, Payload: memory.TaskPayload{Text: "do the thing"}},
		{Kind: memory.KindAction, Payload: memory.ActionPayload{
			ToolCalls: []memory.ToolCallRecord{{Call: model.ToolCall{ID: "c1", Name: "wolfram"}}},
		}},
		{Kind: memory.KindFinalAnswer, Payload: memory.FinalAnswerPayload{Title: "T", Content: "C"}},
	}
	summaries := result.SummarizeSteps(steps)
	require.Len(t, summaries, 4)
	assert.Equal(t, memory.KindTask, summaries[1].Kind)
	assert.Contains(t, summaries[2].Content, "wolfram")
	assert.Contains(t, summaries[3].Content, "T: C")
}

func TestSummaryRendersStatusAndSteps(t *testing.T) {
	r := result.Ok("42", model.TokenUsage{Input: 1, Output: 1}, []result.StepSummary{
		{Kind: memory.KindTask, Content: "do it"},
	}, result.AgentReAct, nil, time.Millisecond, time.Unix(0, 0))
	text := r.Summary()
	assert.Contains(t, text, "success")
	assert.Contains(t, text, "react")
	assert.Contains(t, text, "do it")
	assert.Contains(t, text, "42")
}

func TestMarshalJSONOmitsNilError(t *testing.T) {
	r := result.Ok("42", model.TokenUsage{}, nil, result.AgentManager, nil, 0, time.Unix(0, 0))
	data, err := json.Marshal(r)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded["error"])
	assert.Equal(t, true, decoded["success"])
}

func TestMarshalJSONSetsErrorString(t *testing.T) {
	r := result.Err("max_steps", result.Ok("", model.TokenUsage{}, nil, result.AgentManager, nil, 0, time.Unix(0, 0)))
	data, err := json.Marshal(r)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "max_steps", decoded["error"])
	assert.Equal(t, false, decoded["success"])
}
