package prompt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/prompt"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/tools"
)

func TestBindIncludesVariantExtension(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&tools.Descriptor{
		Name:        "wolfram",
		Description: "computation engine",
		Invoke:      func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
	}))

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	binding := prompt.Bind(prompt.VariantCodeAct, registry, 0, now)

	assert.Contains(t, binding.SystemPrompt, "<code>")
	assert.Contains(t, binding.SystemPrompt, "wolfram")
	assert.Contains(t, binding.SystemPrompt, "computation engine")
	assert.Contains(t, binding.SystemPrompt, "2026-07-31")
	assert.NotEmpty(t, binding.PlanningInitial)
	assert.NotEmpty(t, binding.PlanningUpdate)
}

func TestBindOmitsPlanningNoteWhenIntervalZero(t *testing.T) {
	registry := tools.NewRegistry()
	binding := prompt.Bind(prompt.VariantReAct, registry, 0, time.Now())
	assert.NotContains(t, binding.SystemPrompt, "update your plan")
}

func TestBindIncludesPlanningNoteWhenIntervalSet(t *testing.T) {
	registry := tools.NewRegistry()
	binding := prompt.Bind(prompt.VariantReAct, registry, 5, time.Now())
	assert.Contains(t, binding.SystemPrompt, "every 5 steps")
}

func TestBindManagerVariantMentionsDelegation(t *testing.T) {
	registry := tools.NewRegistry()
	binding := prompt.Bind(prompt.VariantManager, registry, 0, time.Now())
	assert.Contains(t, binding.SystemPrompt, "agent.<name>")
}
