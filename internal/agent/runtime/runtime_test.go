package runtime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/memory"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/router"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/runtime"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/sandbox"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/tools"
)

type scriptedClient struct {
	id       string
	messages []model.Message
	i        int
}

func (s *scriptedClient) Identify() string { return s.id }

func (s *scriptedClient) Generate(ctx context.Context, messages []model.Message, opts model.Options) (model.Message, model.TokenUsage, error) {
	if s.i >= len(s.messages) {
		return model.Message{Role: model.RoleAssistant, Content: []model.Part{model.TextPart{Text: "..."}}}, model.TokenUsage{}, nil
	}
	m := s.messages[s.i]
	s.i++
	return m, model.TokenUsage{Input: 1, Output: 1}, nil
}

// GenerateStream replays the same scripted Message Generate would have
// returned, as a sequence of Deltas: content text, then one ToolCallDelta
// per tool call, then a terminal Finished Delta carrying usage.
func (s *scriptedClient) GenerateStream(ctx context.Context, messages []model.Message, opts model.Options) (<-chan model.Delta, error) {
	m, usage, err := s.Generate(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	ch := make(chan model.Delta, len(m.ToolCalls)+2)
	if text := model.TextContent(m); text != "" {
		ch <- model.Delta{Content: text}
	}
	for _, tc := range m.ToolCalls {
		tcCopy := tc
		ch <- model.Delta{ToolCallDelta: &tcCopy}
	}
	ch <- model.Delta{Finished: true, Usage: &usage}
	close(ch)
	return ch, nil
}

type noopGateway struct{}

func (noopGateway) Prepare(ctx context.Context, shims []sandbox.ToolShim, imports map[string]struct{}) error {
	return nil
}

func (noopGateway) Execute(ctx context.Context, code string, state map[string]any) (sandbox.Result, error) {
	return sandbox.Result{}, nil
}

func (noopGateway) Close() error { return nil }

func newRegistryWithWolfram(t *testing.T) *tools.Registry {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&tools.Descriptor{
		Name:   "wolfram",
		Params: []tools.Param{{Name: "query", Type: tools.TypeString, Required: true}},
		Invoke: func(ctx context.Context, args map[string]any) (any, error) { return "4", nil },
	}))
	return registry
}

func TestRunReActEndToEnd(t *testing.T) {
	registry := newRegistryWithWolfram(t)
	client := &scriptedClient{id: "test-model", messages: []model.Message{
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1", Name: "wolfram", Arguments: map[string]any{"query": "2+2"}}}},
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c2", Name: "final_answer", Arguments: map[string]any{
			"answer": map[string]any{"title": "Result", "content": "The answer is 4", "sources": []any{}},
		}}}},
	}}
	r := router.New(client, client, nil)
	rt := runtime.New(registry, r, func() sandbox.Gateway { return noopGateway{} }, memory.DefaultState(), true)
	rt.Freeze()

	res, err := rt.Run(context.Background(), "what is 2+2", runtime.KindReAct, runtime.RunOptions{SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Contains(t, res.FinalAnswer, "4")
	assert.NotEmpty(t, res.Steps)
}

func TestGetOrCreateAgentIsIdempotentPerSession(t *testing.T) {
	registry := tools.NewRegistry()
	client := &scriptedClient{id: "m"}
	r := router.New(client, client, nil)
	rt := runtime.New(registry, r, func() sandbox.Gateway { return noopGateway{} }, memory.DefaultState(), true)

	s1, err := rt.GetOrCreateAgent(runtime.KindReAct, "session-a")
	require.NoError(t, err)
	s2, err := rt.GetOrCreateAgent(runtime.KindReAct, "session-a")
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestResetRebuildsSessionMemory(t *testing.T) {
	registry := tools.NewRegistry()
	newClient := func() *scriptedClient {
		return &scriptedClient{id: "m", messages: []model.Message{
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1", Name: "final_answer", Arguments: map[string]any{
				"answer": map[string]any{"title": "t", "content": "done", "sources": []any{}},
			}}}},
		}}
	}

	client := newClient()
	r := router.New(client, client, nil)
	rt := runtime.New(registry, r, func() sandbox.Gateway { return noopGateway{} }, memory.DefaultState(), true)
	rt.Freeze()

	res1, err := rt.Run(context.Background(), "task one", runtime.KindReAct, runtime.RunOptions{SessionID: "s2"})
	require.NoError(t, err)
	baseline := len(res1.Steps)

	client.i = 0
	client.messages = newClient().messages
	res2, err := rt.Run(context.Background(), "task two", runtime.KindReAct, runtime.RunOptions{SessionID: "s2"})
	require.NoError(t, err)
	assert.Greater(t, len(res2.Steps), baseline, "repeated runs without reset should accumulate steps")

	require.NoError(t, rt.Reset("s2"))
	client.i = 0
	client.messages = newClient().messages
	res3, err := rt.Run(context.Background(), "task three", runtime.KindReAct, runtime.RunOptions{SessionID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, baseline, len(res3.Steps), "reset should bring the session back to a fresh single-run step count")
}

func TestRunStreamEndsWithExactlyOneFinal(t *testing.T) {
	registry := tools.NewRegistry()
	client := &scriptedClient{id: "m", messages: []model.Message{
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1", Name: "final_answer", Arguments: map[string]any{
			"answer": map[string]any{"title": "t", "content": "done", "sources": []any{}},
		}}}},
	}}
	r := router.New(client, client, nil)
	rt := runtime.New(registry, r, func() sandbox.Gateway { return noopGateway{} }, memory.DefaultState(), true)
	rt.Freeze()

	ch, err := rt.RunStream(context.Background(), "task", runtime.KindReAct, runtime.RunOptions{SessionID: "s3"})
	require.NoError(t, err)

	finals, deltas := 0, 0
	var last runtime.Event
	for ev := range ch {
		last = ev
		if ev.Delta != nil {
			deltas++
		}
		if ev.Final != nil {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
	assert.NotNil(t, last.Final)
	assert.Greater(t, deltas, 0, "RunStream should emit live Delta events as the loop's Thinking stage streams them")
}
