// Package manager implements the Manager (spec.md §4.8): a ReAct Loop whose
// Registry is augmented with agent-as-tool entries, each delegating to a
// sub-agent under a bounded delegation depth.
package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/memory"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/tools"
)

// AgentHandle is the "agent as tool" polymorphism of Design Notes §9: an
// interface instead of inheritance, so Manager's tool list can hold a union
// of ToolDescriptor and AgentHandle implementations.
type AgentHandle interface {
	// Describe returns the agent's name and a short description, used to
	// build its synthesized ToolDescriptor.
	Describe() (name, description string)

	// Invoke runs the sub-agent non-streaming with reset=true and returns
	// its final_answer string, or an error.
	Invoke(ctx context.Context, task string, additionalContext map[string]any) (string, error)
}

// MaxDelegationDepthDefault is spec.md §4.8's default.
const MaxDelegationDepthDefault = 3

// ComplexityHints is the precomputed, advisory classification injected into
// the Planning prompt (spec.md §4.8, SPEC_FULL.md §5.1).
type ComplexityHints struct {
	RequiresWebSearch  bool
	RequiresComputation bool
	RequiresSynthesis  bool
	RecommendedAgents  []string
}

// complexityRule is one keyword-triggered hint, the same shape as the C2
// router Classifier for consistency (SPEC_FULL.md §5.1).
type complexityRule struct {
	keywords []string
	agent    string
	apply    func(*ComplexityHints)
}

var complexityRules = []complexityRule{
	{keywords: []string{"search", "find", "look up", "who is", "what is"}, agent: "search_agent", apply: func(h *ComplexityHints) { h.RequiresWebSearch = true }},
	{keywords: []string{"calculate", "compute", "sum", "how many", "solve"}, agent: "compute_agent", apply: func(h *ComplexityHints) { h.RequiresComputation = true }},
	{keywords: []string{"summarize", "compare", "synthesize", "combine", "report"}, agent: "synthesis_agent", apply: func(h *ComplexityHints) { h.RequiresSynthesis = true }},
}

// ClassifyComplexity derives ComplexityHints from the task text via the
// keyword-rule table.
func ClassifyComplexity(task string) ComplexityHints {
	lower := strings.ToLower(task)
	var hints ComplexityHints
	seen := map[string]struct{}{}
	for _, rule := range complexityRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				rule.apply(&hints)
				if _, ok := seen[rule.agent]; !ok {
					hints.RecommendedAgents = append(hints.RecommendedAgents, rule.agent)
					seen[rule.agent] = struct{}{}
				}
				break
			}
		}
	}
	return hints
}

// Delegator installs AgentHandles as tools into a Registry, enforcing
// max_delegation_depth against the owning Memory's State.
type Delegator struct {
	registry           *tools.Registry
	mem                *memory.Memory
	maxDelegationDepth int
}

// NewDelegator constructs a Delegator bound to registry and mem.
func NewDelegator(registry *tools.Registry, mem *memory.Memory, maxDelegationDepth int) *Delegator {
	if maxDelegationDepth <= 0 {
		maxDelegationDepth = MaxDelegationDepthDefault
	}
	return &Delegator{registry: registry, mem: mem, maxDelegationDepth: maxDelegationDepth}
}

// ErrMaxDelegationDepth is the literal prefix required by spec.md §4.8 and
// seed scenario 5: callers match on this prefix, never on a typed error,
// because the delegation result is always returned as a tool-result string,
// never fatal (spec.md §7).
const ErrMaxDelegationDepth = "Maximum delegation depth reached"

// Register installs handle as a tool named "agent.<Name>" whose single
// required argument is task (string), with an optional additional_context
// map.
func (d *Delegator) Register(handle AgentHandle) error {
	name, description := handle.Describe()
	toolName := "agent." + name
	return d.registry.Register(&tools.Descriptor{
		Name:        toolName,
		Description: description,
		OutputType:  "string",
		Params: []tools.Param{
			{Name: "task", Type: tools.TypeString, Required: true},
			{Name: "additional_context", Type: tools.TypeAny, Required: false},
		},
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			return d.invoke(ctx, name, handle, args)
		},
	})
}

// depthKey carries the current delegation depth across sub-agent
// invocations via ctx, since sub-agents own distinct Memory/State (spec.md
// §5(iii)) and cannot observe a parent's State.delegation_depth directly.
// Design Notes §9's cyclic-ownership guidance calls for injecting the
// Manager's context explicitly rather than storing back-pointers; this is
// that injection.
type depthKey struct{}

func depthFromContext(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

func (d *Delegator) invoke(ctx context.Context, name string, handle AgentHandle, args map[string]any) (any, error) {
	state := d.mem.State()
	current := depthFromContext(ctx)
	prospective := current + 1
	if prospective > d.maxDelegationDepth {
		state.AppendDelegationHistory(memory.DelegationRecord{Agent: name, Task: taskOf(args), Outcome: ErrMaxDelegationDepth})
		return ErrMaxDelegationDepth, nil
	}
	state.IncDelegationDepth()

	task := taskOf(args)
	additionalContext, _ := args["additional_context"].(map[string]any)

	childCtx := context.WithValue(ctx, depthKey{}, prospective)
	result, err := handle.Invoke(childCtx, task, additionalContext)
	if err != nil {
		outcome := fmt.Sprintf("Error executing sub-agent %s: %v", name, err)
		state.AppendDelegationHistory(memory.DelegationRecord{Agent: name, Task: task, Outcome: outcome})
		return outcome, nil
	}
	state.AppendDelegationHistory(memory.DelegationRecord{Agent: name, Task: task, Outcome: result})
	return result, nil
}

func taskOf(args map[string]any) string {
	s, _ := args["task"].(string)
	return s
}
