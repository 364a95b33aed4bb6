// Package runtime implements the Runtime / Session Manager (spec.md §4.9):
// it owns the Tool Registry, the model router's handles, and the
// InitialState template; it registers agent factories per kind and exposes
// the Run API returning a RunResult or a stream of Events, and
// GetOrCreateAgent/Reset for per-session agent lifecycle.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/codeact"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/manager"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/memory"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/prompt"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/react"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/result"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/router"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/sandbox"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/stream"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/telemetry"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/tools"
)

// Kind names a registered agent variant, per spec.md §6's deepsearch_agent_mode.
type Kind string

const (
	KindReAct   Kind = "react"
	KindCodeAct Kind = "codact"
	KindManager Kind = "manager"
)

// Event is one item of the streaming Run variant: Delta | StepSummary | Final.
type Event struct {
	Delta       *model.Delta
	StepSummary *result.StepSummary
	Final       *result.RunResult
}

// RunOptions configures a single Run call.
type RunOptions struct {
	SessionID string
	Reset     bool
	Images    [][]byte
}

// agentFactory builds one agent's Loop-running entry point bound to a fresh
// Memory and this Runtime's shared registry/router/sandbox. sink is wired
// into the constructed Loop so Thinking calls tee live Deltas to it (Run
// passes stream.NoopSink; RunStream passes a Sink that forwards into its
// Event channel). It returns a function performing a single Run.
type agentFactory func(rt *Runtime, mem *memory.Memory, sink stream.Sink) func(ctx context.Context, task string) (react.Outcome, error)

// Runtime is the process-lifetime owner of tools, models, and initial state.
// It is constructed once at process start and passed explicitly; it is not
// a process-wide mutable global (Design Notes §9).
type Runtime struct {
	registry     *tools.Registry
	router       *router.Router
	gatewayFn    func() sandbox.Gateway
	initialState memory.State

	reactCfg   react.Config
	codactCfg  codeact.Config
	maxDelegationDepth int

	logger telemetry.Logger
	tracer telemetry.Tracer

	mu             sync.Mutex
	factories      map[Kind]agentFactory
	activeSessions map[string]*session
	validAPIKeys   bool
}

type session struct {
	kind Kind
	mem  *memory.Memory
	gw   sandbox.Gateway
}

// Option customises Runtime construction.
type Option func(*Runtime)

// WithReactConfig overrides the default ReAct loop configuration.
func WithReactConfig(cfg react.Config) Option { return func(r *Runtime) { r.reactCfg = cfg } }

// WithCodeActConfig overrides the default CodeAct loop configuration.
func WithCodeActConfig(cfg codeact.Config) Option { return func(r *Runtime) { r.codactCfg = cfg } }

// WithMaxDelegationDepth overrides the Manager's delegation depth limit.
func WithMaxDelegationDepth(n int) Option { return func(r *Runtime) { r.maxDelegationDepth = n } }

// WithLogger overrides the default noop logger.
func WithLogger(l telemetry.Logger) Option { return func(r *Runtime) { r.logger = l } }

// WithTracer overrides the default noop tracer.
func WithTracer(t telemetry.Tracer) Option { return func(r *Runtime) { r.tracer = t } }

// New constructs a Runtime. validAPIKeys reports whether every mandatory
// tool provider's API key was present at construction (spec.md §4.9); a
// false value means some dependent tools were not registered.
func New(registry *tools.Registry, rtr *router.Router, gatewayFn func() sandbox.Gateway, initialState memory.State, validAPIKeys bool, opts ...Option) *Runtime {
	rt := &Runtime{
		registry:           registry,
		router:             rtr,
		gatewayFn:          gatewayFn,
		initialState:       initialState,
		reactCfg:           react.DefaultConfig(),
		codactCfg:          codeact.DefaultConfig(),
		maxDelegationDepth: manager.MaxDelegationDepthDefault,
		logger:             telemetry.NewNoopLogger(),
		tracer:             telemetry.NewNoopTracer(),
		factories:          map[Kind]agentFactory{},
		activeSessions:     map[string]*session{},
		validAPIKeys:       validAPIKeys,
	}
	for _, o := range opts {
		o(rt)
	}
	rt.registerBuiltinFactories()
	return rt
}

// ValidAPIKeys reports the flag recorded at construction.
func (rt *Runtime) ValidAPIKeys() bool { return rt.validAPIKeys }

// Register installs a custom agent factory under kind, overriding any
// built-in factory for the same kind.
func (rt *Runtime) Register(kind Kind, factory agentFactory) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.factories[kind] = factory
}

func (rt *Runtime) registerBuiltinFactories() {
	rt.factories[KindReAct] = func(r *Runtime, mem *memory.Memory, sink stream.Sink) func(context.Context, string) (react.Outcome, error) {
		dispatcher := tools.NewDispatcher(r.registry, r.logger, r.tracer)
		loop := react.New(r.reactCfg, r.router, dispatcher, mem, nil, nil, r.logger, r.tracer)
		loop.SetSink(sink)
		return func(ctx context.Context, task string) (react.Outcome, error) {
			seedMemory(mem, task, prompt.Bind(prompt.VariantReAct, r.registry, r.reactCfg.PlanningInterval, time.Now()))
			return loop.Run(ctx), nil
		}
	}
	rt.factories[KindCodeAct] = func(r *Runtime, mem *memory.Memory, sink stream.Sink) func(context.Context, string) (react.Outcome, error) {
		gw := r.gatewayFn()
		return func(ctx context.Context, task string) (react.Outcome, error) {
			if err := prepareSandbox(ctx, gw, r.registry, r.codactCfg); err != nil {
				return react.Outcome{}, err
			}
			seedMemory(mem, task, prompt.Bind(prompt.VariantCodeAct, r.registry, r.codactCfg.PlanningInterval, time.Now()))
			loop := codeact.New(r.codactCfg, r.router, gw, mem, nil, nil, r.logger, r.tracer)
			loop.SetSink(sink)
			out := loop.Run(ctx)
			return reactOutcomeFromCodeAct(out), nil
		}
	}
	rt.factories[KindManager] = func(r *Runtime, mem *memory.Memory, sink stream.Sink) func(context.Context, string) (react.Outcome, error) {
		dispatcher := tools.NewDispatcher(r.registry, r.logger, r.tracer)
		loop := react.New(r.reactCfg, r.router, dispatcher, mem, nil, nil, r.logger, r.tracer)
		loop.SetSink(sink)
		return func(ctx context.Context, task string) (react.Outcome, error) {
			seedMemory(mem, task, prompt.Bind(prompt.VariantManager, r.registry, r.reactCfg.PlanningInterval, time.Now()))
			return loop.Run(ctx), nil
		}
	}
}

func reactOutcomeFromCodeAct(out codeact.Outcome) react.Outcome {
	return react.Outcome{FinalAnswer: out.FinalAnswer, Err: out.Err}
}

func seedMemory(mem *memory.Memory, task string, binding prompt.Binding) {
	if len(mem.Steps()) == 0 {
		mem.Append(memory.Step{Kind: memory.KindSystemPrompt, Start: time.Now(), End: time.Now(), Payload: memory.SystemPromptPayload{Text: binding.SystemPrompt}})
	}
	mem.Append(memory.Step{Kind: memory.KindTask, Start: time.Now(), End: time.Now(), Payload: memory.TaskPayload{Text: task}})
}

func prepareSandbox(ctx context.Context, gw sandbox.Gateway, registry *tools.Registry, cfg codeact.Config) error {
	shims := make([]sandbox.ToolShim, 0, len(registry.Names()))
	for _, name := range registry.Names() {
		d, _ := registry.Get(name)
		shims = append(shims, sandbox.ToolShim{Name: d.Name, Description: d.Description})
	}
	return gw.Prepare(ctx, shims, sandbox.ResolveAuthorisedImports(nil))
}

// GetOrCreateAgent returns the session's Memory/Loop state for kind,
// creating it on first use. Idempotent for a session per spec.md §4.9.
func (rt *Runtime) GetOrCreateAgent(kind Kind, sessionID string) (*session, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if s, ok := rt.activeSessions[sessionID]; ok {
		return s, nil
	}
	if _, ok := rt.factories[kind]; !ok {
		return nil, fmt.Errorf("runtime: unregistered agent kind %q", kind)
	}
	var gw sandbox.Gateway
	if kind == KindCodeAct && rt.gatewayFn != nil {
		gw = rt.gatewayFn()
	}
	s := &session{kind: kind, mem: memory.New(rt.initialState.Clone()), gw: gw}
	rt.activeSessions[sessionID] = s
	return s, nil
}

// Reset rebuilds a session's Memory from InitialState and, for CodeAct,
// re-prepares the Sandbox namespace (SPEC_FULL.md §10(d): applied uniformly
// to both ReAct and CodeAct, per spec.md's own stated canonical choice).
func (rt *Runtime) Reset(sessionID string) error {
	rt.mu.Lock()
	s, ok := rt.activeSessions[sessionID]
	rt.mu.Unlock()
	if !ok {
		return fmt.Errorf("runtime: unknown session %q", sessionID)
	}
	s.mem.Reset(rt.initialState.Clone())
	if s.gw != nil {
		return prepareSandbox(context.Background(), s.gw, rt.registry, rt.codactCfg)
	}
	return nil
}

// Run performs a single non-streaming Run of kind for task, returning a
// RunResult. The public entry point always returns a RunResult; the only
// propagated errors are programmer errors (spec.md §7).
func (rt *Runtime) Run(ctx context.Context, task string, kind Kind, opts RunOptions) (result.RunResult, error) {
	start := time.Now()
	sessionID := opts.SessionID
	s, err := rt.GetOrCreateAgent(kind, sessionID)
	if err != nil {
		return result.RunResult{}, err
	}
	if opts.Reset {
		_ = rt.Reset(sessionID)
	}

	rt.mu.Lock()
	factory := rt.factories[kind]
	rt.mu.Unlock()

	run := factory(rt, s.mem, stream.NoopSink)
	outcome, err := run(ctx, task)
	if err != nil {
		outcome = react.Outcome{Err: err.Error()}
	}
	return rt.buildResult(kind, s, outcome, start), nil
}

// buildResult assembles a RunResult from a terminated Loop Outcome, shared
// by Run and RunStream.
func (rt *Runtime) buildResult(kind Kind, s *session, outcome react.Outcome, start time.Time) result.RunResult {
	elapsed := time.Since(start)
	steps := result.SummarizeSteps(s.mem.Steps())
	usage := s.mem.TotalTokenUsage()
	modelInfo := map[string]string{"router": rt.router.ID()}

	final := ""
	if outcome.FinalAnswer != nil {
		final = outcome.FinalAnswer.Content
	} else if outcome.Err == "max_steps" {
		final = s.mem.LastAssistantText()
	}

	res := result.Ok(final, usage, steps, agentKindOf(kind), modelInfo, elapsed, time.Now())
	if outcome.Err != "" {
		res = result.Err(outcome.Err, res)
	}
	return res
}

func agentKindOf(k Kind) result.AgentKind {
	switch k {
	case KindCodeAct:
		return result.AgentCodeAct
	case KindManager:
		return result.AgentManager
	default:
		return result.AgentReAct
	}
}

// RunStream performs a streaming Run, returning a channel of Events; the
// channel carries zero or more Delta events as the Loop's Thinking stage
// streams them live, followed by one StepSummary per completed Step, then
// exactly one Final event, after which it closes (spec.md §5's ordering
// guarantee). Deltas are teed through the Loop's Sink via the Stream
// Aggregator (spec.md §2), not replayed after the fact. Once ctx is
// canceled, events that the reader has not yet taken are dropped, and the
// channel can close without the Final event.
func (rt *Runtime) RunStream(ctx context.Context, task string, kind Kind, opts RunOptions) (<-chan Event, error) {
	start := time.Now()
	sessionID := opts.SessionID
	s, err := rt.GetOrCreateAgent(kind, sessionID)
	if err != nil {
		return nil, err
	}
	if opts.Reset {
		_ = rt.Reset(sessionID)
	}

	rt.mu.Lock()
	factory := rt.factories[kind]
	rt.mu.Unlock()

	out := make(chan Event, 16)
	sink := stream.SinkFunc(func(d model.Delta) {
		dCopy := d
		select {
		case out <- Event{Delta: &dCopy}:
		case <-ctx.Done():
		}
	})

	go func() {
		defer close(out)
		run := factory(rt, s.mem, sink)
		outcome, err := run(ctx, task)
		if err != nil {
			outcome = react.Outcome{Err: err.Error()}
		}
		res := rt.buildResult(kind, s, outcome, start)
		for _, step := range res.Steps {
			stepCopy := step
			select {
			case out <- Event{StepSummary: &stepCopy}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- Event{Final: &res}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// RegisterDelegates installs the given AgentHandles as agent-as-tool entries
// on the shared registry, for a Manager-kind Runtime.
func (rt *Runtime) RegisterDelegates(sessionID string, handles ...manager.AgentHandle) error {
	rt.mu.Lock()
	s, ok := rt.activeSessions[sessionID]
	rt.mu.Unlock()
	if !ok {
		return fmt.Errorf("runtime: unknown session %q", sessionID)
	}
	delegator := manager.NewDelegator(rt.registry, s.mem, rt.maxDelegationDepth)
	for _, h := range handles {
		if err := delegator.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// Freeze marks the Runtime's tool registry read-only; called before the
// first Run starts.
func (rt *Runtime) Freeze() { rt.registry.Freeze() }

// TelemetryLogger exposes the Runtime's logger for constructing dependent
// components (e.g. stream aggregators used by callers).
func (rt *Runtime) TelemetryLogger() telemetry.Logger { return rt.logger }
