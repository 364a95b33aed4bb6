// Package codeact implements the CodeAct Loop (spec.md §4.7): the same
// outer Planning→Thinking→Acting→Observing state machine as ReAct, but the
// Acting stage extracts a code block from the assistant message, validates
// it, and executes it through the Sandbox Gateway instead of dispatching a
// JSON tool-call blob.
package codeact

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/agenterr"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/memory"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/router"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/sandbox"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/stream"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/telemetry"
)

// Config configures one Loop instance, mirroring agents.codact.* of spec.md §6.
type Config struct {
	MaxSteps              int
	PlanningInterval      int
	ExecutorType          string // "local" | "docker" | "e2b"
	UseStructuredOutputs  bool
	GrammarModeEnabled    bool
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{MaxSteps: 25, PlanningInterval: 0, ExecutorType: "local"}
}

// EffectiveStructuredOutputs implements SPEC_FULL.md §10(b): grammar mode
// and structured outputs are mutually exclusive; if both are requested,
// grammar wins. This is the single place that decides the coupling; the
// Loop itself does not read UseStructuredOutputs or this function.
func EffectiveStructuredOutputs(cfg Config) bool {
	if cfg.GrammarModeEnabled {
		return false
	}
	return cfg.UseStructuredOutputs
}

// PlanningFunc mirrors react.PlanningFunc.
type PlanningFunc func(ctx context.Context, r *router.Router, mem *memory.Memory, isUpdate bool) (string, error)

// ThinkingFunc performs the Router call for one Thinking stage.
type ThinkingFunc func(ctx context.Context, r *router.Router, mem *memory.Memory, sink stream.Sink) (model.Message, error)

var (
	codeTagPattern    = regexp.MustCompile(`(?s)<code>(.*?)</code>`)
	legacyFencePattern = regexp.MustCompile("(?s)```python\\s*(.*?)```")
)

// ExtractCode pulls the first <code>...</code> block from text, falling
// back to a legacy triple-backtick-python fence. Returns ok=false if
// neither is present (the message is free thinking; no action taken).
func ExtractCode(text string) (code string, ok bool) {
	if m := codeTagPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := legacyFencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

// Loop runs the CodeAct state machine for a single Run.
type Loop struct {
	cfg      Config
	router   *router.Router
	gateway  sandbox.Gateway
	mem      *memory.Memory
	planning PlanningFunc
	thinking ThinkingFunc
	sink     stream.Sink
	logger   telemetry.Logger
	tracer   telemetry.Tracer

	consecutiveSandboxErrs int
	consecutiveModelErrs   int
}

// New constructs a Loop. The Sandbox Gateway must already have had Prepare
// called once per Run (spec.md §4.7's "namespace is prepared once per Run").
// The Loop's Sink is stream.NoopSink until SetSink is called.
func New(cfg Config, r *router.Router, gw sandbox.Gateway, mem *memory.Memory, planning PlanningFunc, thinking ThinkingFunc, logger telemetry.Logger, tracer telemetry.Tracer) *Loop {
	if thinking == nil {
		thinking = DefaultThinking
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Loop{cfg: cfg, router: r, gateway: gw, mem: mem, planning: planning, thinking: thinking, sink: stream.NoopSink, logger: logger, tracer: tracer}
}

// SetSink installs the Sink that Thinking calls tee live Deltas to. A nil
// sink resets to stream.NoopSink.
func (l *Loop) SetSink(sink stream.Sink) {
	if sink == nil {
		sink = stream.NoopSink
	}
	l.sink = sink
}

// DefaultThinking mirrors react.DefaultThinking: it drains Router.GenerateStream
// through a stream.Aggregator, teeing live Deltas to sink.
func DefaultThinking(ctx context.Context, r *router.Router, mem *memory.Memory, sink stream.Sink) (model.Message, error) {
	msgs := mem.ToMessages()
	ch, err := r.GenerateStream(ctx, msgs, model.Options{})
	if err != nil {
		return model.Message{}, err
	}
	agg := stream.New()
	agg.Drain(ch, sink)
	if err := agg.Err(); err != nil {
		return model.Message{}, err
	}
	return agg.Message(), nil
}

// Outcome mirrors react.Outcome.
type Outcome struct {
	FinalAnswer *memory.FinalAnswerPayload
	Err         string
}

// Run drives the state machine until termination.
func (l *Loop) Run(ctx context.Context) Outcome {
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Err: "canceled"}
		}
		if step >= l.cfg.MaxSteps {
			return l.maxStepsOutcome()
		}

		if l.planning != nil && (l.cfg.PlanningInterval == 0 && step == 0 || l.cfg.PlanningInterval > 0 && step%l.cfg.PlanningInterval == 0) {
			planText, err := l.planning(ctx, l.router, l.mem, step > 0)
			if err != nil {
				if ctx.Err() != nil {
					return Outcome{Err: "canceled"}
				}
				l.logger.Warn(ctx, "planning failed", "err", err)
			} else {
				l.mem.Append(memory.Step{Kind: memory.KindPlanning, Start: time.Now(), End: time.Now(), Payload: memory.PlanningPayload{PlanText: planText, IsUpdate: step > 0}})
			}
		}

		msg, err := l.thinking(ctx, l.router, l.mem, l.sink)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{Err: "canceled"}
			}
			l.consecutiveModelErrs++
			l.mem.Append(memory.Step{Kind: memory.KindAction, Start: time.Now(), End: time.Now(), Payload: memory.ActionPayload{Err: err}})
			if l.consecutiveModelErrs >= 2 {
				return Outcome{Err: "model_error"}
			}
			continue
		}
		l.consecutiveModelErrs = 0

		text := model.TextContent(msg)
		code, ok := ExtractCode(text)
		if !ok {
			l.mem.Append(memory.Step{Kind: memory.KindAction, Start: time.Now(), End: time.Now(), Payload: memory.ActionPayload{ModelOutput: text}})
			continue
		}

		if out, done := l.runActing(ctx, text, code); done {
			return out
		}
	}
}

func (l *Loop) maxStepsOutcome() Outcome {
	if fa, ok := l.mem.LastFinalAnswer(); ok {
		return Outcome{FinalAnswer: &fa, Err: "max_steps"}
	}
	return Outcome{Err: "max_steps"}
}

// runActing validates and executes one extracted code block.
func (l *Loop) runActing(ctx context.Context, modelOutput, code string) (Outcome, bool) {
	start := time.Now()

	if verr := sandbox.Validate(code); verr != nil {
		l.mem.Append(memory.Step{
			Kind: memory.KindAction, Start: start, End: time.Now(),
			Payload: memory.ActionPayload{ModelOutput: modelOutput, Err: verr},
		})
		return Outcome{}, false
	}

	result, err := l.gateway.Execute(ctx, code, l.mem.State())
	if err != nil {
		l.consecutiveSandboxErrs++
		l.mem.Append(memory.Step{
			Kind: memory.KindAction, Start: start, End: time.Now(),
			Payload: memory.ActionPayload{ModelOutput: modelOutput, Err: err},
		})
		if l.consecutiveSandboxErrs >= 3 {
			return Outcome{Err: "sandbox_unavailable"}, true
		}
		return Outcome{}, false
	}
	l.consecutiveSandboxErrs = 0

	for k, v := range result.UpdatedState {
		l.mem.State()[k] = v
	}
	// visited_urls must remain a set even if the sandbox echoed it back as a
	// list (invariant 3).
	l.mem.State().VisitedURLs()

	if result.Err != nil {
		l.consecutiveSandboxErrs++
		l.mem.Append(memory.Step{
			Kind: memory.KindAction, Start: start, End: time.Now(),
			Payload: memory.ActionPayload{ModelOutput: modelOutput, Err: result.Err},
		})
		if l.consecutiveSandboxErrs >= 3 {
			return Outcome{Err: "sandbox_unavailable"}, true
		}
		return Outcome{}, false
	}

	if result.FinalAnswer != nil {
		fa, ferr := parseFinalAnswer(result.FinalAnswer.Payload)
		if ferr != nil {
			l.mem.Append(memory.Step{
				Kind: memory.KindAction, Start: start, End: time.Now(),
				Payload: memory.ActionPayload{ModelOutput: modelOutput, Err: agenterr.New(agenterr.KindToolError, ferr.Error())},
			})
			return Outcome{}, false
		}
		l.mem.Append(memory.Step{Kind: memory.KindFinalAnswer, Start: start, End: time.Now(), Payload: fa})
		return Outcome{FinalAnswer: &fa}, true
	}

	l.mem.Append(memory.Step{
		Kind: memory.KindAction, Start: start, End: time.Now(),
		Payload: memory.ActionPayload{ModelOutput: modelOutput},
	})
	return Outcome{}, false
}

func parseFinalAnswer(payload map[string]any) (memory.FinalAnswerPayload, error) {
	answer, _ := payload["answer"].(map[string]any)
	if answer == nil {
		answer = payload
	}
	title, _ := answer["title"].(string)
	content, _ := answer["content"].(string)
	rawSources, sourcesPresent := answer["sources"]
	sources := []string{}
	switch v := rawSources.(type) {
	case []string:
		sources = v
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok {
				sources = append(sources, str)
			}
		}
	}
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" || !sourcesPresent {
		return memory.FinalAnswerPayload{}, errFinalAnswerInvalid
	}
	return memory.FinalAnswerPayload{Title: title, Content: content, Sources: sources}, nil
}

var errFinalAnswerInvalid = agenterr.New(agenterr.KindToolError, "final_answer requires title, content, sources")
