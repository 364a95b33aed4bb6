// Package tools implements the Tool Registry and Dispatcher (spec.md §4.1):
// descriptors are registered once, then invoked with schema validation,
// per-call timeout, and bounded-parallel fan-out that preserves call order.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/agenterr"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/telemetry"
)

// ParamType enumerates the scalar/collection types a tool parameter may
// declare, per spec.md §3.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
	TypeAny    ParamType = "any"
	TypeList   ParamType = "list"
)

// Param describes one named, typed input parameter.
type Param struct {
	Name     string
	Type     ParamType
	Elem     ParamType // element type when Type == TypeList
	Required bool
	Default  any
}

// Descriptor describes a tool: its unique name, human description, input
// schema, output type tag, and the synchronous callable that implements it.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
	OutputType  string

	// Invoke performs the tool call. args has already been validated against
	// Params by the Dispatcher before Invoke is called.
	Invoke func(ctx context.Context, args map[string]any) (any, error)

	schema *jsonschema.Schema
}

// Registry holds ToolDescriptors. Register is idempotent (replace allowed)
// until Freeze is called; afterwards it is read-only, matching spec.md §4.1.
// Starting a Run does not freeze the registry by itself.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Descriptor
	frozen bool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// Register adds or replaces a tool descriptor. Returns an error once the
// registry has been frozen by Freeze.
func (r *Registry) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("tools: registry is frozen, cannot register %q", d.Name)
	}
	schema, err := compileSchema(d)
	if err != nil {
		return fmt.Errorf("tools: compile schema for %q: %w", d.Name, err)
	}
	d.schema = schema
	r.tools[d.Name] = d
	return nil
}

// Freeze marks the registry read-only. Runtime.Freeze calls it; the host
// calls Runtime.Freeze before its first Run.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns the descriptor registered under name, or false if absent.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Names returns the sorted list of registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Call is the {id, name, arguments} triple of spec.md §3.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Observation is the per-call result produced by Invoke/InvokeMany: exactly
// one of Value or Err is meaningful.
type Observation struct {
	CallID string
	Name   string
	Value  any
	Err    error
}

// Dispatcher runs tool calls against a Registry with schema validation,
// timeouts, and bounded parallel fan-out. The dispatcher never retries;
// retry is a tool-internal concern per spec.md §4.1.
type Dispatcher struct {
	registry *Registry
	logger   telemetry.Logger
	tracer   telemetry.Tracer
}

// NewDispatcher constructs a Dispatcher over the given registry.
func NewDispatcher(registry *Registry, logger telemetry.Logger, tracer telemetry.Tracer) *Dispatcher {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Dispatcher{registry: registry, logger: logger, tracer: tracer}
}

// Invoke validates args against the tool's schema, enforces timeout (if set
// on ctx), and runs the tool. It never panics: tool panics are recovered and
// converted into a tool_error Observation.
func (d *Dispatcher) Invoke(ctx context.Context, call Call) Observation {
	ctx, span := d.tracer.Start(ctx, "tools.invoke")
	defer span.End()

	desc, ok := d.registry.Get(call.Name)
	if !ok {
		err := agenterr.New(agenterr.KindNotFound, fmt.Sprintf("unknown tool %q", call.Name))
		span.RecordError(err)
		return Observation{CallID: call.ID, Name: call.Name, Err: err}
	}

	if err := validateArgs(desc, call.Arguments); err != nil {
		verr := agenterr.Wrap(agenterr.KindSchema, err.Error(), err)
		span.RecordError(verr)
		return Observation{CallID: call.ID, Name: call.Name, Err: verr}
	}

	value, err := d.invokeOne(ctx, desc, call.Arguments)
	if err != nil {
		span.RecordError(err)
		d.logger.Warn(ctx, "tool invocation failed", "tool", call.Name, "call_id", call.ID, "err", err)
		return Observation{CallID: call.ID, Name: call.Name, Err: err}
	}
	return Observation{CallID: call.ID, Name: call.Name, Value: value}
}

func (d *Dispatcher) invokeOne(ctx context.Context, desc *Descriptor, args map[string]any) (out any, err error) {
	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("tool %q panicked: %v", desc.Name, r)}
			}
		}()
		v, e := desc.Invoke(ctx, args)
		done <- result{value: v, err: e}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, agenterr.New(agenterr.KindTimeout, fmt.Sprintf("tool %q timed out", desc.Name))
		}
		return nil, agenterr.New(agenterr.KindCanceled, fmt.Sprintf("tool %q canceled", desc.Name))
	case r := <-done:
		if r.err != nil {
			return nil, agenterr.Wrap(agenterr.KindToolError, r.err.Error(), r.err)
		}
		return r.value, nil
	}
}

// InvokeMany executes up to maxParallel calls concurrently, preserving input
// order in the returned slice. Canceling ctx cancels all pending calls;
// partial failures record a per-slot error without aborting siblings.
func (d *Dispatcher) InvokeMany(ctx context.Context, calls []Call, maxParallel int) []Observation {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	out := make([]Observation, len(calls))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out[i] = d.Invoke(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return out
}

func compileSchema(d *Descriptor) (*jsonschema.Schema, error) {
	props := map[string]any{}
	required := []string{}
	for _, p := range d.Params {
		props[p.Name] = jsonSchemaForParam(p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	url := "mem://tools/" + d.Name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, decoded); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func jsonSchemaForParam(p Param) map[string]any {
	switch p.Type {
	case TypeString:
		return map[string]any{"type": "string"}
	case TypeInt:
		return map[string]any{"type": "integer"}
	case TypeFloat:
		return map[string]any{"type": "number"}
	case TypeBool:
		return map[string]any{"type": "boolean"}
	case TypeList:
		return map[string]any{"type": "array"}
	default:
		return map[string]any{}
	}
}

func validateArgs(d *Descriptor, args map[string]any) error {
	if d.schema == nil {
		return nil
	}
	// A call without arguments is an empty argument object, not JSON null.
	if args == nil {
		args = map[string]any{}
	}
	// jsonschema validates against any (map[string]any / []any / scalars);
	// round-trip through JSON to normalize numeric types the same way a
	// model-provided JSON payload would arrive.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("unmarshal args: %w", err)
	}
	if err := d.schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool %q: %w", d.Name, err)
	}
	return nil
}

// WithTimeout returns a context bounded by d, used by callers that want a
// per-call timeout distinct from the ambient ctx's deadline.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
