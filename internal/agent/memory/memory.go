// Package memory implements the Step log and per-Run State scratchpad
// (spec.md §4.4): an append-only sequence of Steps plus a mutable State map
// with reserved keys, owned exclusively by the loop that runs a single Run.
package memory

import (
	"time"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
)

// Kind tags the variant of a Step's payload.
type Kind string

const (
	KindSystemPrompt Kind = "system_prompt"
	KindTask         Kind = "task"
	KindPlanning     Kind = "planning"
	KindAction       Kind = "action"
	KindFinalAnswer  Kind = "final_answer"
)

// SystemPromptPayload is emitted once, first.
type SystemPromptPayload struct {
	Text string
}

// TaskPayload materialises the user query at loop start.
type TaskPayload struct {
	Text   string
	Images [][]byte
}

// PlanningPayload is produced at configurable intervals.
type PlanningPayload struct {
	PlanText string
	IsUpdate bool
}

// ToolCallRecord pairs a tool call with its observation, preserving order.
type ToolCallRecord struct {
	Call        model.ToolCall
	Observation any
	Err         error
}

// ActionPayload carries the assistant's model output, the tool calls it
// requested, and their observations (aligned by index per invariant 2).
type ActionPayload struct {
	ModelOutput string
	ToolCalls   []ToolCallRecord
	Err         error
}

// FinalAnswerPayload is the terminal Step's user-visible result.
type FinalAnswerPayload struct {
	Title   string
	Content string
	Sources []string
}

// Step is a tagged union over the five payload kinds (spec.md §3). Go has no
// sum types; a Kind discriminator plus an any Payload lets Summary range over
// steps without type-switching in every caller.
type Step struct {
	Kind      Kind
	Payload   any
	Start     time.Time
	End       time.Time
	TokenUsed model.TokenUsage
}

// State is the per-Run scratchpad. Reserved keys mirror spec.md §3; callers
// use the typed accessors below rather than touching the map directly so the
// visited_urls-as-set invariant (invariant 3) holds.
type State map[string]any

const (
	StateVisitedURLs       = "visited_urls"
	StateSearchQueries     = "search_queries"
	StateKeyFindings       = "key_findings"
	StateSearchDepth       = "search_depth"
	StateRerankingHistory  = "reranking_history"
	StateContentQuality    = "content_quality"
	StateDelegationDepth   = "delegation_depth"
	StateDelegationHistory = "delegation_history"
)

// DelegationRecord is one entry of State.delegation_history.
type DelegationRecord struct {
	Agent   string
	Task    string
	Outcome string
}

// DefaultState returns a freshly populated State with every reserved key set
// to its zero value of the correct shape.
func DefaultState() State {
	return State{
		StateVisitedURLs:       map[string]struct{}{},
		StateSearchQueries:     []string{},
		StateKeyFindings:       map[string]any{},
		StateSearchDepth:       0,
		StateRerankingHistory:  []any{},
		StateContentQuality:    map[string]float64{},
		StateDelegationDepth:   0,
		StateDelegationHistory: []DelegationRecord{},
	}
}

// Clone deep-copies s: sets are copied as sets, lists as lists, per spec.md
// §5's InitialState deep-clone rule.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		switch k {
		case StateVisitedURLs:
			set, _ := v.(map[string]struct{})
			clone := make(map[string]struct{}, len(set))
			for u := range set {
				clone[u] = struct{}{}
			}
			out[k] = clone
		case StateSearchQueries:
			list, _ := v.([]string)
			out[k] = append([]string(nil), list...)
		case StateKeyFindings:
			m, _ := v.(map[string]any)
			clone := make(map[string]any, len(m))
			for kk, vv := range m {
				clone[kk] = vv
			}
			out[k] = clone
		case StateRerankingHistory:
			list, _ := v.([]any)
			out[k] = append([]any(nil), list...)
		case StateContentQuality:
			m, _ := v.(map[string]float64)
			clone := make(map[string]float64, len(m))
			for kk, vv := range m {
				clone[kk] = vv
			}
			out[k] = clone
		case StateDelegationHistory:
			list, _ := v.([]DelegationRecord)
			out[k] = append([]DelegationRecord(nil), list...)
		default:
			out[k] = v
		}
	}
	return out
}

// VisitedURLs returns the visited_urls set, coercing a mis-typed list value
// back to a set per invariant 3.
func (s State) VisitedURLs() map[string]struct{} {
	switch v := s[StateVisitedURLs].(type) {
	case map[string]struct{}:
		return v
	case []string:
		set := make(map[string]struct{}, len(v))
		for _, u := range v {
			set[u] = struct{}{}
		}
		s[StateVisitedURLs] = set
		return set
	default:
		set := map[string]struct{}{}
		s[StateVisitedURLs] = set
		return set
	}
}

// AddVisitedURL records url as visited, deduplicating.
func (s State) AddVisitedURL(url string) {
	s.VisitedURLs()[url] = struct{}{}
}

// DelegationDepth returns State.delegation_depth.
func (s State) DelegationDepth() int {
	d, _ := s[StateDelegationDepth].(int)
	return d
}

// IncDelegationDepth increments and returns State.delegation_depth.
func (s State) IncDelegationDepth() int {
	d := s.DelegationDepth() + 1
	s[StateDelegationDepth] = d
	return d
}

// AppendDelegationHistory appends a delegation record to the history list.
func (s State) AppendDelegationHistory(r DelegationRecord) {
	list, _ := s[StateDelegationHistory].([]DelegationRecord)
	s[StateDelegationHistory] = append(list, r)
}

// Summary is the derived, observability-oriented view of a Memory produced
// by Memory.Summary().
type Summary struct {
	Steps        int
	ByKind       map[Kind]int
	ToolsUsed    map[string]struct{}
	InputTokens  int
	OutputTokens int
}

// Memory is the append-only Step log plus State, owned exclusively by one
// loop for the lifetime of a single Run. It is not safe for concurrent
// access (spec.md §4.4).
type Memory struct {
	steps        []Step
	state        State
	systemPrompt *Step
}

// New constructs a Memory with the given initial (already-cloned) State.
func New(initial State) *Memory {
	return &Memory{state: initial}
}

// Append adds a Step to the log in program order.
func (m *Memory) Append(s Step) {
	m.steps = append(m.steps, s)
	if s.Kind == KindSystemPrompt && m.systemPrompt == nil {
		cp := s
		m.systemPrompt = &cp
	}
}

// Steps returns the immutable (copy) view of all steps appended so far.
func (m *Memory) Steps() []Step {
	out := make([]Step, len(m.steps))
	copy(out, m.steps)
	return out
}

// State returns the live State map for direct read/write by the owning loop.
func (m *Memory) State() State { return m.state }

// Reset clears all steps but keeps the SystemPrompt reference, reinserting
// it as the sole retained step. initial replaces State.
func (m *Memory) Reset(initial State) {
	m.steps = nil
	m.state = initial
	if m.systemPrompt != nil {
		m.steps = append(m.steps, *m.systemPrompt)
	}
}

// Snapshot returns an immutable view equivalent to Steps(), named to match
// spec.md §4.4's vocabulary.
func (m *Memory) Snapshot() []Step { return m.Steps() }

// Summary computes the derived view: step count, counts by kind, the set of
// distinct tool names invoked, and token totals.
func (m *Memory) Summary() Summary {
	sum := Summary{ByKind: map[Kind]int{}, ToolsUsed: map[string]struct{}{}}
	for _, s := range m.steps {
		sum.Steps++
		sum.ByKind[s.Kind]++
		sum.InputTokens += s.TokenUsed.Input
		sum.OutputTokens += s.TokenUsed.Output
		if ap, ok := s.Payload.(ActionPayload); ok {
			for _, tc := range ap.ToolCalls {
				sum.ToolsUsed[tc.Call.Name] = struct{}{}
			}
		}
	}
	return sum
}

// LastFinalAnswer returns the most recent FinalAnswer payload and whether
// one exists.
func (m *Memory) LastFinalAnswer() (FinalAnswerPayload, bool) {
	for i := len(m.steps) - 1; i >= 0; i-- {
		if m.steps[i].Kind == KindFinalAnswer {
			fa, _ := m.steps[i].Payload.(FinalAnswerPayload)
			return fa, true
		}
	}
	return FinalAnswerPayload{}, false
}

// LastAssistantText returns the most recent non-empty assistant model output
// text, used as the fallback final answer when max_steps is exceeded.
func (m *Memory) LastAssistantText() string {
	for i := len(m.steps) - 1; i >= 0; i-- {
		if m.steps[i].Kind == KindAction {
			if ap, ok := m.steps[i].Payload.(ActionPayload); ok && ap.ModelOutput != "" {
				return ap.ModelOutput
			}
		}
	}
	return ""
}

// TotalTokenUsage sums TokenUsed across all steps (invariant 4).
func (m *Memory) TotalTokenUsage() model.TokenUsage {
	var total model.TokenUsage
	for _, s := range m.steps {
		total = total.Add(s.TokenUsed)
	}
	return total
}

// ToMessages serialises the Step log into the provider-agnostic Message
// slice the Router consumes, per spec.md §4.6's "Memory serialised as
// messages" and the "role tool, keyed by tool_call_id" observation rule.
func (m *Memory) ToMessages() []model.Message {
	var msgs []model.Message
	for _, s := range m.steps {
		switch p := s.Payload.(type) {
		case SystemPromptPayload:
			msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: []model.Part{model.TextPart{Text: p.Text}}})
		case TaskPayload:
			msgs = append(msgs, model.Message{Role: model.RoleUser, Content: []model.Part{model.TextPart{Text: p.Text}}})
		case PlanningPayload:
			msgs = append(msgs, model.Message{Role: model.RoleAssistant, Content: []model.Part{model.TextPart{Text: p.PlanText}}})
		case ActionPayload:
			var calls []model.ToolCall
			for _, tc := range p.ToolCalls {
				calls = append(calls, tc.Call)
			}
			msgs = append(msgs, model.Message{
				Role:      model.RoleAssistant,
				Content:   []model.Part{model.TextPart{Text: p.ModelOutput}},
				ToolCalls: calls,
			})
			for _, tc := range p.ToolCalls {
				content := observationText(tc)
				msgs = append(msgs, model.Message{
					Role:       model.RoleTool,
					Content:    []model.Part{model.TextPart{Text: content}},
					ToolCallID: tc.Call.ID,
				})
			}
		case FinalAnswerPayload:
			msgs = append(msgs, model.Message{Role: model.RoleAssistant, Content: []model.Part{model.TextPart{Text: p.Content}}})
		}
	}
	return msgs
}

func observationText(tc ToolCallRecord) string {
	if tc.Err != nil {
		return tc.Err.Error()
	}
	if s, ok := tc.Observation.(string); ok {
		return s
	}
	return toJSONBestEffort(tc.Observation)
}
