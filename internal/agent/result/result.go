// Package result implements RunResult (spec.md §4.10): a pure value type
// aggregating final answer, per-step summaries, token/time accounting, and
// success/error, with a plain-text Summary() renderer (SPEC_FULL.md §5.2).
package result

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/memory"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
)

// AgentKind names which loop variant produced a RunResult.
type AgentKind string

const (
	AgentReAct   AgentKind = "react"
	AgentCodeAct AgentKind = "codact"
	AgentManager AgentKind = "manager"
)

// StepSummary is the projection of one Step into RunResult's step list: a
// type tag and a one-line content preview, never the full Memory.
type StepSummary struct {
	Kind    memory.Kind
	Content string
}

// RunResult is the value every public Run entry point returns.
type RunResult struct {
	FinalAnswer   string
	Steps         []StepSummary
	TokenUsage    model.TokenUsage
	ExecutionTime time.Duration
	Error         string
	AgentKind     AgentKind
	ModelInfo     map[string]string
	Timestamp     time.Time
}

// Success reports success = (error == nil) per spec.md §3.
func (r RunResult) Success() bool { return r.Error == "" }

// Ok constructs a successful RunResult.
func Ok(final string, usage model.TokenUsage, steps []StepSummary, kind AgentKind, modelInfo map[string]string, elapsed time.Duration, ts time.Time) RunResult {
	return RunResult{
		FinalAnswer:   final,
		Steps:         steps,
		TokenUsage:    usage,
		ExecutionTime: elapsed,
		AgentKind:     kind,
		ModelInfo:     modelInfo,
		Timestamp:     ts,
	}
}

// Err constructs a failed/partial RunResult. partial carries whatever was
// accumulated before the failure (e.g. a best-effort final answer and the
// steps observed so far).
func Err(message string, partial RunResult) RunResult {
	partial.Error = message
	return partial
}

// SummarizeSteps projects a Memory's full Step log into the one-line
// StepSummary list RunResult exposes.
func SummarizeSteps(steps []memory.Step) []StepSummary {
	out := make([]StepSummary, 0, len(steps))
	for _, s := range steps {
		out = append(out, StepSummary{Kind: s.Kind, Content: oneLine(s)})
	}
	return out
}

func oneLine(s memory.Step) string {
	switch p := s.Payload.(type) {
	case memory.SystemPromptPayload:
		return truncate(p.Text)
	case memory.TaskPayload:
		return truncate(p.Text)
	case memory.PlanningPayload:
		return truncate(p.PlanText)
	case memory.ActionPayload:
		if p.Err != nil {
			return "error: " + p.Err.Error()
		}
		if len(p.ToolCalls) > 0 {
			names := make([]string, len(p.ToolCalls))
			for i, tc := range p.ToolCalls {
				names[i] = tc.Call.Name
			}
			return "called " + strings.Join(names, ", ")
		}
		return truncate(p.ModelOutput)
	case memory.FinalAnswerPayload:
		return truncate(p.Title + ": " + p.Content)
	default:
		return ""
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	const maxLen = 120
	if len(s) > maxLen {
		return s[:maxLen] + "…"
	}
	return s
}

// Summary renders a short, human-readable plain-text report: no color, no
// TUI, a dependency-free console-style trace (SPEC_FULL.md §5.2, grounded on
// the original console formatter's per-step trace).
func (r RunResult) Summary() string {
	var b strings.Builder
	status := "success"
	if !r.Success() {
		status = "error: " + r.Error
	}
	fmt.Fprintf(&b, "Run (%s) — %s\n", r.AgentKind, status)
	fmt.Fprintf(&b, "steps: %d, tokens: %d (in %d / out %d), time: %s\n",
		len(r.Steps), r.TokenUsage.Total(), r.TokenUsage.Input, r.TokenUsage.Output, r.ExecutionTime)
	for i, s := range r.Steps {
		fmt.Fprintf(&b, "  [%d] %s: %s\n", i+1, s.Kind, s.Content)
	}
	if r.FinalAnswer != "" {
		fmt.Fprintf(&b, "final answer: %s\n", truncate(r.FinalAnswer))
	}
	return b.String()
}

// jsonView is the JSON-serialisable shape of RunResult, per spec.md §4.10's
// "serialises to dict/JSON".
type jsonView struct {
	FinalAnswer   string            `json:"final_answer"`
	Steps         []StepSummary     `json:"steps"`
	TokenUsage    model.TokenUsage  `json:"token_usage"`
	ExecutionTime string            `json:"execution_time"`
	Error         *string           `json:"error"`
	AgentKind     AgentKind         `json:"agent_kind"`
	ModelInfo     map[string]string `json:"model_info"`
	Timestamp     time.Time         `json:"timestamp"`
	Success       bool              `json:"success"`
}

// MarshalJSON implements json.Marshaler.
func (r RunResult) MarshalJSON() ([]byte, error) {
	view := jsonView{
		FinalAnswer:   r.FinalAnswer,
		Steps:         r.Steps,
		TokenUsage:    r.TokenUsage,
		ExecutionTime: r.ExecutionTime.String(),
		AgentKind:     r.AgentKind,
		ModelInfo:     r.ModelInfo,
		Timestamp:     r.Timestamp,
		Success:       r.Success(),
	}
	if r.Error != "" {
		view.Error = &r.Error
	}
	return json.Marshal(view)
}
