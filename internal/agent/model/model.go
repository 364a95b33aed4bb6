// Package model defines the provider-agnostic message and streaming types
// used by the router and the ReAct/CodeAct loops. It models conversation
// messages as typed content parts (text, image) plus tool call/result
// metadata, and defines the Client interface implemented by LLM handle
// adapters (internal/llm/anthropic, internal/llm/openai, internal/llm/bedrock).
package model

import (
	"context"
	"errors"
)

// Role is the role of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type (
	// Part is implemented by all message content parts.
	Part interface {
		isPart()
	}

	// TextPart is a plain text content block.
	TextPart struct {
		Text string
	}

	// ImagePart carries image bytes attached to a message.
	ImagePart struct {
		MIMEType string
		Bytes    []byte
	}

	// Message mirrors the wire Message of spec.md §3: a role plus a list of
	// typed content parts (plain text is a single TextPart), with optional tool-call
	// metadata attached by the ReAct loop.
	Message struct {
		Role    Role
		Content []Part

		// ToolCalls carries tool invocations requested by the assistant, when
		// Role is RoleAssistant and the provider used structured tool calling.
		ToolCalls []ToolCall

		// ToolCallID correlates a RoleTool message back to the ToolCall.ID it
		// answers.
		ToolCallID string
	}

	// ToolCall is the {id, name, arguments} triple of spec.md §3.
	ToolCall struct {
		ID        string
		Name      string
		Arguments map[string]any
	}

	// ToolDefinition describes a tool schema passed to the model provider for
	// function/tool calling.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// TokenUsage records input/output token counts.
	TokenUsage struct {
		Input  int
		Output int
	}

	// Options configures a single Generate/GenerateStream call.
	Options struct {
		Stop        []string
		Tools       []ToolDefinition
		Temperature float32
		MaxTokens   int
	}

	// Delta is one incremental piece of a streaming model response.
	Delta struct {
		Content        string
		ToolCallDelta  *ToolCall
		Finished       bool
		Usage          *TokenUsage
		Err            error
	}

	// Client is the LLM handle interface of spec.md §6. Implementations wrap
	// a provider SDK and must be safe for concurrent use across Runs.
	Client interface {
		// Generate performs a single non-streaming completion.
		Generate(ctx context.Context, messages []Message, opts Options) (Message, TokenUsage, error)

		// GenerateStream performs a streaming completion, sending Deltas on
		// the returned channel until the source is exhausted or ctx is
		// canceled. The channel is closed by the implementation.
		GenerateStream(ctx context.Context, messages []Message, opts Options) (<-chan Delta, error)

		// Identify returns a stable model identifier used for RunResult.ModelInfo
		// and Router.ID().
		Identify() string
	}
)

func (TextPart) isPart()  {}
func (ImagePart) isPart() {}

// Total returns the sum of input and output tokens.
func (u TokenUsage) Total() int { return u.Input + u.Output }

// Add returns the element-wise sum of two TokenUsage values.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{Input: u.Input + other.Input, Output: u.Output + other.Output}
}

// ErrStreamingUnsupported indicates the provider does not implement streaming
// for the requested model/parameters.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ProviderError is returned verbatim by Client implementations; the Router
// forwards it unchanged per spec.md §4.2.
type ProviderError struct {
	Kind    string // "network" | "provider" | "canceled"
	Message string
	Cause   error
}

func (e *ProviderError) Error() string { return e.Kind + ": " + e.Message }
func (e *ProviderError) Unwrap() error { return e.Cause }

// TextContent concatenates the text parts of a message's content, ignoring
// non-text parts. Used by the router classifier and by loops that need a
// plain-text view of a message.
func TextContent(m Message) string {
	var out string
	for _, p := range m.Content {
		if t, ok := p.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}
