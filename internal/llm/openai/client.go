// Package openai is a reference model.Client adapter over the Chat
// Completions API, exercising github.com/openai/openai-go.
package openai

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
)

// Client adapts an openai.Client to model.Client.
type Client struct {
	sdk   openai.Client
	model openai.ChatModel
}

// New constructs a Client for modelID, reading OPENAI_API_KEY from the
// environment via the SDK's default option resolution.
func New(modelID string, opts ...option.RequestOption) *Client {
	return &Client{sdk: openai.NewClient(opts...), model: openai.ChatModel(modelID)}
}

var _ model.Client = (*Client)(nil)

// Identify returns the configured model id.
func (c *Client) Identify() string { return string(c.model) }

// Generate performs a single non-streaming completion.
func (c *Client) Generate(ctx context.Context, messages []model.Message, opts model.Options) (model.Message, model.TokenUsage, error) {
	params := buildParams(c.model, messages, opts)
	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.Message{}, model.TokenUsage{}, &model.ProviderError{Kind: "provider", Message: err.Error(), Cause: err}
	}
	return messageFromResponse(resp), usageFromResponse(resp), nil
}

// GenerateStream performs a streaming completion.
func (c *Client) GenerateStream(ctx context.Context, messages []model.Message, opts model.Options) (<-chan model.Delta, error) {
	params := buildParams(c.model, messages, opts)
	s := c.sdk.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan model.Delta)
	go func() {
		defer close(out)
		for s.Next() {
			chunk := s.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			d := model.Delta{Content: choice.Delta.Content}
			if choice.FinishReason != "" {
				d.Finished = true
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
		if err := s.Err(); err != nil {
			out <- model.Delta{Err: &model.ProviderError{Kind: "provider", Message: err.Error(), Cause: err}, Finished: true}
		}
	}()
	return out, nil
}

func buildParams(m openai.ChatModel, messages []model.Message, opts model.Options) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		text := model.TextContent(msg)
		switch msg.Role {
		case model.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(text))
		case model.RoleUser:
			msgs = append(msgs, openai.UserMessage(text))
		case model.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(text))
		case model.RoleTool:
			msgs = append(msgs, openai.ToolMessage(text, msg.ToolCallID))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    m,
		Messages: msgs,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if len(opts.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.Stop}
	}
	return params
}

func messageFromResponse(resp *openai.ChatCompletion) model.Message {
	if len(resp.Choices) == 0 {
		return model.Message{Role: model.RoleAssistant}
	}
	choice := resp.Choices[0]
	var calls []model.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		calls = append(calls, model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return model.Message{
		Role:      model.RoleAssistant,
		Content:   []model.Part{model.TextPart{Text: choice.Message.Content}},
		ToolCalls: calls,
	}
}

func usageFromResponse(resp *openai.ChatCompletion) model.TokenUsage {
	return model.TokenUsage{Input: int(resp.Usage.PromptTokens), Output: int(resp.Usage.CompletionTokens)}
}
