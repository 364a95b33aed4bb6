// Package anthropic is a reference model.Client adapter over the Claude
// Messages API, exercising github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
)

// Client adapts an anthropic.Client to model.Client.
type Client struct {
	sdk   anthropic.Client
	model anthropic.Model
}

// New constructs a Client for modelID, reading ANTHROPIC_API_KEY from the
// environment via the SDK's default option resolution.
func New(modelID string, opts ...option.RequestOption) *Client {
	return &Client{sdk: anthropic.NewClient(opts...), model: anthropic.Model(modelID)}
}

var _ model.Client = (*Client)(nil)

// Identify returns the configured model id.
func (c *Client) Identify() string { return string(c.model) }

// Generate performs a single non-streaming completion.
func (c *Client) Generate(ctx context.Context, messages []model.Message, opts model.Options) (model.Message, model.TokenUsage, error) {
	params := buildParams(c.model, messages, opts)
	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return model.Message{}, model.TokenUsage{}, &model.ProviderError{Kind: "provider", Message: err.Error(), Cause: err}
	}
	return messageFromResponse(resp), usageFromResponse(resp), nil
}

// GenerateStream performs a streaming completion, translating SDK stream
// events into model.Delta values. Tool-call input arrives as successive
// input_json_delta fragments keyed by content-block index; streamState
// buffers them per block and emits one ToolCallDelta carrying the complete
// call once its block closes, since this package's Delta models a tool call
// as a finished value rather than a partial-JSON cursor.
func (c *Client) GenerateStream(ctx context.Context, messages []model.Message, opts model.Options) (<-chan model.Delta, error) {
	params := buildParams(c.model, messages, opts)
	s := c.sdk.Messages.NewStreaming(ctx, params)

	out := make(chan model.Delta)
	go func() {
		defer close(out)
		state := newStreamState()
		for s.Next() {
			event := s.Current()
			for _, delta := range state.handle(event) {
				select {
				case out <- delta:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := s.Err(); err != nil {
			out <- model.Delta{Err: &model.ProviderError{Kind: "provider", Message: err.Error(), Cause: err}, Finished: true}
		}
	}()
	return out, nil
}

func buildParams(m anthropic.Model, messages []model.Message, opts model.Options) anthropic.MessageNewParams {
	var system string
	var msgs []anthropic.MessageParam
	for _, msg := range messages {
		text := model.TextContent(msg)
		switch msg.Role {
		case model.RoleSystem:
			system = text
		case model.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		case model.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		case model.RoleTool:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     m,
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(opts.Stop) > 0 {
		params.StopSequences = opts.Stop
	}
	return params
}

func messageFromResponse(resp *anthropic.Message) model.Message {
	var parts []model.Part
	var calls []model.ToolCall
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			parts = append(parts, model.TextPart{Text: b.Text})
		case anthropic.ToolUseBlock:
			var args map[string]any
			_ = json.Unmarshal(b.Input, &args)
			calls = append(calls, model.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	return model.Message{Role: model.RoleAssistant, Content: parts, ToolCalls: calls}
}

func usageFromResponse(resp *anthropic.Message) model.TokenUsage {
	return model.TokenUsage{Input: int(resp.Usage.InputTokens), Output: int(resp.Usage.OutputTokens)}
}

// toolBuffer accumulates one tool_use content block's input_json_delta
// fragments until its ContentBlockStopEvent arrives.
type toolBuffer struct {
	id, name  string
	fragments []string
}

// streamState tracks in-flight tool_use blocks across a single streamed
// response, keyed by content-block index.
type streamState struct {
	toolBlocks map[int64]*toolBuffer
}

func newStreamState() *streamState {
	return &streamState{toolBlocks: map[int64]*toolBuffer{}}
}

// handle translates one SDK stream event into zero or more Deltas.
func (s *streamState) handle(event anthropic.MessageStreamEventUnion) []model.Delta {
	switch e := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if tu, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
			s.toolBlocks[e.Index] = &toolBuffer{id: tu.ID, name: tu.Name}
		}
	case anthropic.ContentBlockDeltaEvent:
		switch d := e.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				return []model.Delta{{Content: d.Text}}
			}
		case anthropic.InputJSONDelta:
			if tb := s.toolBlocks[e.Index]; tb != nil && d.PartialJSON != "" {
				tb.fragments = append(tb.fragments, d.PartialJSON)
			}
		}
	case anthropic.ContentBlockStopEvent:
		if tb, ok := s.toolBlocks[e.Index]; ok {
			delete(s.toolBlocks, e.Index)
			var args map[string]any
			_ = json.Unmarshal([]byte(tb.joinedInput()), &args)
			tc := model.ToolCall{ID: tb.id, Name: tb.name, Arguments: args}
			return []model.Delta{{ToolCallDelta: &tc}}
		}
	case anthropic.MessageDeltaEvent:
		usage := model.TokenUsage{Input: int(e.Usage.InputTokens), Output: int(e.Usage.OutputTokens)}
		return []model.Delta{{Usage: &usage}}
	case anthropic.MessageStopEvent:
		return []model.Delta{{Finished: true}}
	}
	return nil
}

func (tb *toolBuffer) joinedInput() string {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}
