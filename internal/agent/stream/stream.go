// Package stream implements the Stream Aggregator (spec.md §4.3): it
// consumes a Delta channel from a model.Client, accumulates content and an
// estimated token count, and republishes each Delta unchanged so a caller's
// sink can render it live while the owning loop still gets a full message.
package stream

import (
	"strings"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
)

// Sink receives republished Deltas for live rendering. Implementations must
// not block for long; the aggregator is a single-producer/single-consumer
// pipe per spec.md §5(ii).
type Sink interface {
	Send(model.Delta)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(model.Delta)

// Send implements Sink.
func (f SinkFunc) Send(d model.Delta) { f(d) }

// NoopSink discards every Delta.
var NoopSink Sink = SinkFunc(func(model.Delta) {})

// Aggregator accumulates a streamed completion while teeing every Delta to
// a Sink.
type Aggregator struct {
	content     strings.Builder
	estTokens   int
	finished    bool
	err         error
	usage       model.TokenUsage
	haveUsage   bool
	toolCallets []model.ToolCall
}

// New constructs an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Drain reads every Delta from src, republishing each to sink and
// accumulating content/tokens/tool-call fragments. It returns once src is
// closed; a Delta carrying an error is recorded as the terminal error and
// marks the Aggregator finished, and draining continues until src closes.
// The estimated token count is a
// whitespace-split count of accumulated content, overridden by the model's
// authoritative Usage if one arrives.
func (a *Aggregator) Drain(src <-chan model.Delta, sink Sink) {
	if sink == nil {
		sink = NoopSink
	}
	for d := range src {
		sink.Send(d)
		if d.Err != nil {
			a.err = d.Err
			a.finished = true
			continue
		}
		if d.Content != "" {
			a.content.WriteString(d.Content)
			a.estTokens = len(strings.Fields(a.content.String()))
		}
		if d.ToolCallDelta != nil {
			a.toolCallets = append(a.toolCallets, *d.ToolCallDelta)
		}
		if d.Usage != nil {
			a.usage = *d.Usage
			a.haveUsage = true
		}
		if d.Finished {
			a.finished = true
		}
	}
}

// Content returns the accumulated text content.
func (a *Aggregator) Content() string { return a.content.String() }

// EstimatedTokens returns the whitespace-split token estimate, or the
// authoritative total from the model's Usage when one was supplied.
func (a *Aggregator) EstimatedTokens() int {
	if a.haveUsage {
		return a.usage.Total()
	}
	return a.estTokens
}

// Usage returns the authoritative TokenUsage if the model supplied one.
func (a *Aggregator) Usage() (model.TokenUsage, bool) { return a.usage, a.haveUsage }

// ToolCalls returns accumulated tool-call delta fragments in arrival order.
func (a *Aggregator) ToolCalls() []model.ToolCall { return a.toolCallets }

// Err returns the terminal error, if the stream ended with one.
func (a *Aggregator) Err() error { return a.err }

// Finished reports whether the stream reached a terminal Delta or closed.
func (a *Aggregator) Finished() bool { return a.finished }

// Message materialises the accumulated content and tool calls into a
// complete assistant Message, the shape the owning loop appends to Memory.
func (a *Aggregator) Message() model.Message {
	return model.Message{
		Role:      model.RoleAssistant,
		Content:   []model.Part{model.TextPart{Text: a.Content()}},
		ToolCalls: a.ToolCalls(),
	}
}
