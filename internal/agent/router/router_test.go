package router_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/router"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/stream"
)

type stubClient struct {
	id    string
	reply string
	usage model.TokenUsage
	err   error
}

func (s *stubClient) Identify() string { return s.id }

func (s *stubClient) Generate(ctx context.Context, messages []model.Message, opts model.Options) (model.Message, model.TokenUsage, error) {
	if s.err != nil {
		return model.Message{}, model.TokenUsage{}, s.err
	}
	return model.Message{Role: model.RoleAssistant, Content: []model.Part{model.TextPart{Text: s.reply}}}, s.usage, nil
}

func (s *stubClient) GenerateStream(ctx context.Context, messages []model.Message, opts model.Options) (<-chan model.Delta, error) {
	ch := make(chan model.Delta, 1)
	usage := s.usage
	ch <- model.Delta{Content: s.reply, Finished: true, Usage: &usage}
	close(ch)
	return ch, nil
}

// TestClassifierMatchesOrchestratorKeywords is property P5.
func TestClassifierMatchesOrchestratorKeywords(t *testing.T) {
	c := router.DefaultClassifier()

	cases := []struct {
		content string
		want    router.Target
	}{
		{"please PLAN the next steps", router.TargetOrchestrator},
		{"give me the Final Answer now", router.TargetOrchestrator},
		{"what's the weather in tokyo", router.TargetSearch},
		{"updated facts survey incoming", router.TargetOrchestrator},
	}
	for _, c2 := range cases {
		assert.Equal(t, c2.want, c.Classify(c2.content), c2.content)
	}
}

func TestRouterGenerateRoutesAndSnapshotsUsage(t *testing.T) {
	search := &stubClient{id: "search-model", reply: "search reply", usage: model.TokenUsage{Input: 1, Output: 2}}
	orchestrator := &stubClient{id: "orch-model", reply: "orch reply", usage: model.TokenUsage{Input: 10, Output: 20}}
	r := router.New(search, orchestrator, nil)

	msg, usage, err := r.Generate(context.Background(), []model.Message{
		{Role: model.RoleUser, Content: []model.Part{model.TextPart{Text: "please make a plan"}}},
	}, model.Options{})
	require.NoError(t, err)
	assert.Equal(t, "orch reply", model.TextContent(msg))
	assert.Equal(t, model.TokenUsage{Input: 10, Output: 20}, usage)

	last, total := r.TokenCounts()
	assert.Equal(t, model.TokenUsage{Input: 10, Output: 20}, last)
	assert.Equal(t, model.TokenUsage{Input: 10, Output: 20}, total)
}

func TestRouterID(t *testing.T) {
	search := &stubClient{id: "search-model"}
	orchestrator := &stubClient{id: "orch-model"}
	r := router.New(search, orchestrator, nil)
	assert.Equal(t, "search-model+orch-model", r.ID())
}

func TestRouterGenerateStreamRoutesAndSnapshotsUsage(t *testing.T) {
	search := &stubClient{id: "search-model", reply: "search reply", usage: model.TokenUsage{Input: 3, Output: 4}}
	orchestrator := &stubClient{id: "orch-model", reply: "orch reply", usage: model.TokenUsage{Input: 10, Output: 20}}
	r := router.New(search, orchestrator, nil)

	ch, err := r.GenerateStream(context.Background(), []model.Message{
		{Role: model.RoleUser, Content: []model.Part{model.TextPart{Text: "what's the weather"}}},
	}, model.Options{})
	require.NoError(t, err)

	agg := stream.New()
	agg.Drain(ch, nil)
	assert.Equal(t, "search reply", agg.Content())

	last, total := r.TokenCounts()
	assert.Equal(t, model.TokenUsage{Input: 3, Output: 4}, last)
	assert.Equal(t, model.TokenUsage{Input: 3, Output: 4}, total)
}

func TestRouterGeneratePropagatesProviderError(t *testing.T) {
	wantErr := &model.ProviderError{Kind: "provider", Message: "boom"}
	search := &stubClient{id: "s", err: wantErr}
	orchestrator := &stubClient{id: "o"}
	r := router.New(search, orchestrator, nil)

	_, _, err := r.Generate(context.Background(), []model.Message{
		{Role: model.RoleUser, Content: []model.Part{model.TextPart{Text: "hello"}}},
	}, model.Options{})
	require.Error(t, err)
	assert.Equal(t, wantErr, err)
}
