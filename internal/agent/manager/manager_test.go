package manager_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/manager"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/memory"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/tools"
)

type fakeSubAgent struct {
	name string
	fn   func(ctx context.Context, task string) (string, error)
}

func (a *fakeSubAgent) Describe() (string, string) { return a.name, "a fake sub-agent" }

func (a *fakeSubAgent) Invoke(ctx context.Context, task string, additionalContext map[string]any) (string, error) {
	return a.fn(ctx, task)
}

func TestClassifyComplexity(t *testing.T) {
	hints := manager.ClassifyComplexity("please search for the population of Tokyo and calculate the difference")
	assert.True(t, hints.RequiresWebSearch)
	assert.True(t, hints.RequiresComputation)
	assert.Contains(t, hints.RecommendedAgents, "search_agent")
	assert.Contains(t, hints.RecommendedAgents, "compute_agent")
}

// TestDelegationOverflow is seed scenario 5 / property P7.
func TestDelegationOverflow(t *testing.T) {
	registry := tools.NewRegistry()
	mem := memory.New(memory.DefaultState())
	delegator := manager.NewDelegator(registry, mem, 1)

	var nestedResult string
	agentA := &fakeSubAgent{name: "A", fn: func(ctx context.Context, task string) (string, error) {
		// Sub-agent A attempts a nested delegation through its own child
		// delegator, passing the context it was invoked with, simulating its
		// own Manager loop delegating further.
		childRegistry := tools.NewRegistry()
		childMem := memory.New(memory.DefaultState())
		childDelegator := manager.NewDelegator(childRegistry, childMem, 1)
		require.NoError(t, childDelegator.Register(&fakeSubAgent{name: "B", fn: func(ctx context.Context, task string) (string, error) {
			return "should not run", nil
		}}))
		require.NoError(t, childRegistry.Register(placeholderDescriptor()))
		d, ok := childRegistry.Get("agent.B")
		require.True(t, ok)
		val, err := d.Invoke(ctx, map[string]any{"task": "nested task"})
		require.NoError(t, err)
		nestedResult, _ = val.(string)
		return nestedResult, nil
	}}
	require.NoError(t, delegator.Register(agentA))

	d, ok := registry.Get("agent.A")
	require.True(t, ok)
	val, err := d.Invoke(context.Background(), map[string]any{"task": "root task"})
	require.NoError(t, err)
	_ = val

	assert.True(t, strings.HasPrefix(nestedResult, manager.ErrMaxDelegationDepth))
}

// placeholderDescriptor exists only so the registry has at least one
// non-delegate tool registered in the nested scenario above; the delegator
// registers "agent.B" itself.
func placeholderDescriptor() *tools.Descriptor {
	return &tools.Descriptor{
		Name:   "noop",
		Invoke: func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
	}
}

func TestDelegationSuccess(t *testing.T) {
	registry := tools.NewRegistry()
	mem := memory.New(memory.DefaultState())
	delegator := manager.NewDelegator(registry, mem, 3)

	require.NoError(t, delegator.Register(&fakeSubAgent{name: "search", fn: func(ctx context.Context, task string) (string, error) {
		return "42", nil
	}}))

	d, ok := registry.Get("agent.search")
	require.True(t, ok)
	val, err := d.Invoke(context.Background(), map[string]any{"task": "what is the answer"})
	require.NoError(t, err)
	assert.Equal(t, "42", val)
	assert.Equal(t, 1, mem.State().DelegationDepth())
}

func TestDelegationFailurePropagatesAsString(t *testing.T) {
	registry := tools.NewRegistry()
	mem := memory.New(memory.DefaultState())
	delegator := manager.NewDelegator(registry, mem, 3)

	require.NoError(t, delegator.Register(&fakeSubAgent{name: "flaky", fn: func(ctx context.Context, task string) (string, error) {
		return "", assertErr{}
	}}))

	d, ok := registry.Get("agent.flaky")
	require.True(t, ok)
	val, err := d.Invoke(context.Background(), map[string]any{"task": "t"})
	require.NoError(t, err)
	s, _ := val.(string)
	assert.Contains(t, s, "Error executing sub-agent flaky")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
