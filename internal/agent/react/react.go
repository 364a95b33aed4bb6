// Package react implements the ReAct Loop (spec.md §4.6): a
// Planning→Thinking→Acting→Observing→Terminal state machine over the Model
// Router, Tool Dispatcher, Stream Aggregator and Memory.
package react

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/agenterr"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/memory"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/router"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/stream"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/telemetry"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/tools"
)

// FinalAnswerTool is the terminal tool name recognised by the loop.
const FinalAnswerTool = "final_answer"

// Config configures one Loop instance, mirroring the agents.react.* TOML
// keys of spec.md §6.
type Config struct {
	MaxSteps         int
	PlanningInterval int
	MaxToolThreads   int
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{MaxSteps: 25, PlanningInterval: 0, MaxToolThreads: 4}
}

// PlanningFunc produces a plan given the current Memory, distinguishing the
// first ("initial_plan") call from later ("update_plan") calls. Callers
// supply it to New; a nil PlanningFunc skips the Planning stage.
type PlanningFunc func(ctx context.Context, r *router.Router, mem *memory.Memory, isUpdate bool) (string, error)

// ThinkingFunc performs the single Router call for one Thinking stage and
// returns the assistant Message (with tool_calls if any).
type ThinkingFunc func(ctx context.Context, r *router.Router, mem *memory.Memory, sink stream.Sink) (model.Message, error)

// Loop runs the ReAct state machine for a single Run.
type Loop struct {
	cfg        Config
	router     *router.Router
	dispatcher *tools.Dispatcher
	mem        *memory.Memory
	planning   PlanningFunc
	thinking   ThinkingFunc
	sink       stream.Sink
	logger     telemetry.Logger
	tracer     telemetry.Tracer

	consecutiveSandboxErrs int
	consecutiveModelErrs   int
}

// New constructs a Loop. planning/thinking customise prompt binding; pass
// nil to use DefaultThinking (a Router.GenerateStream call drained through a
// stream.Aggregator, expecting a JSON tool-call blob per spec.md §6's wire
// format). The Loop's Sink is stream.NoopSink until SetSink is called; the
// Runtime installs a live Sink for streaming Runs.
func New(cfg Config, r *router.Router, d *tools.Dispatcher, mem *memory.Memory, planning PlanningFunc, thinking ThinkingFunc, logger telemetry.Logger, tracer telemetry.Tracer) *Loop {
	if thinking == nil {
		thinking = DefaultThinking
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Loop{cfg: cfg, router: r, dispatcher: d, mem: mem, planning: planning, thinking: thinking, sink: stream.NoopSink, logger: logger, tracer: tracer}
}

// SetSink installs the Sink that Thinking calls tee live Deltas to. A nil
// sink resets to stream.NoopSink.
func (l *Loop) SetSink(sink stream.Sink) {
	if sink == nil {
		sink = stream.NoopSink
	}
	l.sink = sink
}

// DefaultThinking drains Router.GenerateStream through a stream.Aggregator,
// teeing every Delta to sink as it arrives and returning the reassembled
// assistant Message once the stream closes (spec.md §2's "Router hands a
// delta channel to the StreamAggregator which tees to the Loop... and to
// the caller's sink").
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

// Outcome is the terminal result of a Loop run, independent of RunResult's
// richer shape (the runtime package adapts an Outcome into a RunResult).
type Outcome struct {
	FinalAnswer *memory.FinalAnswerPayload
	Err         string // "" | "canceled" | "max_steps" | "sandbox_unavailable" | "model_error"
}

// Run drives the state machine until termination: a final_answer tool call,
// max_steps exceeded, or ctx cancellation.
func (l *Loop) Run(ctx context.Context) Outcome {
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Err: "canceled"}
		}
		if step >= l.cfg.MaxSteps {
			return l.maxStepsOutcome()
		}

		if l.planning != nil && (l.cfg.PlanningInterval == 0 && step == 0 || l.cfg.PlanningInterval > 0 && step%l.cfg.PlanningInterval == 0) {
			if out, done := l.runPlanning(ctx, step); done {
				return out
			}
		}

		msg, err := l.thinking(ctx, l.router, l.mem, l.sink)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{Err: "canceled"}
			}
			l.consecutiveModelErrs++
			l.logger.Warn(ctx, "router generate failed", "err", err)
			l.mem.Append(memory.Step{Kind: memory.KindAction, Start: time.Now(), End: time.Now(), Payload: memory.ActionPayload{Err: err}})
			if l.consecutiveModelErrs >= 2 {
				return Outcome{Err: "model_error"}
			}
			continue
		}
		l.consecutiveModelErrs = 0

		if len(msg.ToolCalls) == 0 {
			l.mem.Append(memory.Step{Kind: memory.KindAction, Start: time.Now(), End: time.Now(), Payload: memory.ActionPayload{ModelOutput: model.TextContent(msg)}})
			continue
		}

		if out, done := l.runActing(ctx, msg); done {
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

func (l *Loop) runPlanning(ctx context.Context, step int) (Outcome, bool) {
	start := time.Now()
	isUpdate := step > 0
	planText, err := l.planning(ctx, l.router, l.mem, isUpdate)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Err: "canceled"}, true
		}
		l.logger.Warn(ctx, "planning failed", "err", err)
		return Outcome{}, false
	}
	l.mem.Append(memory.Step{Kind: memory.KindPlanning, Start: start, End: time.Now(), Payload: memory.PlanningPayload{PlanText: planText, IsUpdate: isUpdate}})
	return Outcome{}, false
}

// runActing runs the Acting/Observing stages for one Thinking result.
func (l *Loop) runActing(ctx context.Context, msg model.Message) (Outcome, bool) {
	start := time.Now()

	// final_answer is handled specially: validated before dispatch, and
	// terminal on success without invoking the Dispatcher.
	for _, tc := range msg.ToolCalls {
		if tc.Name == FinalAnswerTool {
			fa, ferr := parseFinalAnswer(tc.Arguments)
			if ferr != nil {
				l.mem.Append(memory.Step{
					Kind: memory.KindAction, Start: start, End: time.Now(),
					Payload: memory.ActionPayload{
						ModelOutput: model.TextContent(msg),
						ToolCalls: []memory.ToolCallRecord{{
							Call: tc, Err: agenterr.New(agenterr.KindToolError, "final_answer requires title, content, sources"),
						}},
					},
				})
				return Outcome{}, false
			}
			l.mem.Append(memory.Step{Kind: memory.KindFinalAnswer, Start: start, End: time.Now(), Payload: fa})
			return Outcome{FinalAnswer: &fa}, true
		}
	}

	calls := make([]tools.Call, len(msg.ToolCalls))
	for i, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		calls[i] = tools.Call{ID: id, Name: tc.Name, Arguments: tc.Arguments}
	}

	maxParallel := l.cfg.MaxToolThreads
	if maxParallel <= 0 {
		maxParallel = 4
	}
	observations := l.dispatcher.InvokeMany(ctx, calls, maxParallel)

	records := make([]memory.ToolCallRecord, len(msg.ToolCalls))
	sandboxErr := false
	for i, obs := range observations {
		records[i] = memory.ToolCallRecord{Call: msg.ToolCalls[i], Observation: obs.Value, Err: obs.Err}
		var aerr *agenterr.Error
		if obs.Err != nil && isKind(obs.Err, agenterr.KindSandboxError) {
			sandboxErr = true
		}
		_ = aerr
	}
	if sandboxErr {
		l.consecutiveSandboxErrs++
	} else {
		l.consecutiveSandboxErrs = 0
	}

	l.mem.Append(memory.Step{
		Kind: memory.KindAction, Start: start, End: time.Now(),
		Payload: memory.ActionPayload{ModelOutput: model.TextContent(msg), ToolCalls: records},
	})

	if l.consecutiveSandboxErrs >= 3 {
		return Outcome{Err: "sandbox_unavailable"}, true
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Err: "canceled"}, true
	}
	return Outcome{}, false
}

func isKind(err error, kind agenterr.Kind) bool {
	var aerr *agenterr.Error
	for err != nil {
		if e, ok := err.(*agenterr.Error); ok {
			aerr = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return aerr != nil && aerr.Kind == kind
}

// parseFinalAnswer validates the final_answer argument payload per spec.md
// §4.6/§6: title and content are required and non-empty; sources must be
// present as a list, which may be empty.
func parseFinalAnswer(args map[string]any) (memory.FinalAnswerPayload, error) {
	answer, _ := args["answer"].(map[string]any)
	if answer == nil {
		answer = args
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
		return memory.FinalAnswerPayload{}, fmt.Errorf("final_answer requires title, content, sources")
	}
	return memory.FinalAnswerPayload{Title: title, Content: content, Sources: sources}, nil
}

// MarshalFinalAnswer renders a FinalAnswerPayload back into the wire shape
// of spec.md §6 ({"answer": {"title","content","sources"}}).
func MarshalFinalAnswer(fa memory.FinalAnswerPayload) ([]byte, error) {
	return json.Marshal(map[string]any{
		"answer": map[string]any{
			"title":   fa.Title,
			"content": fa.Content,
			"sources": fa.Sources,
		},
	})
}
