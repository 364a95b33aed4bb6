// Package bedrock is a reference model.Client adapter over the AWS Bedrock
// Converse API, exercising github.com/aws/aws-sdk-go-v2's bedrockruntime
// service client.
package bedrock

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
)

// Client adapts a bedrockruntime.Client to model.Client.
type Client struct {
	sdk     *bedrockruntime.Client
	modelID string
}

// New constructs a Client for modelID using the default AWS config chain.
func New(ctx context.Context, modelID string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &Client{sdk: bedrockruntime.NewFromConfig(cfg), modelID: modelID}, nil
}

var _ model.Client = (*Client)(nil)

// Identify returns the configured model id.
func (c *Client) Identify() string { return c.modelID }

// Generate performs a single non-streaming completion via Converse.
func (c *Client) Generate(ctx context.Context, messages []model.Message, opts model.Options) (model.Message, model.TokenUsage, error) {
	input := buildConverseInput(c.modelID, messages, opts)
	resp, err := c.sdk.Converse(ctx, input)
	if err != nil {
		return model.Message{}, model.TokenUsage{}, &model.ProviderError{Kind: "provider", Message: err.Error(), Cause: err}
	}
	return messageFromOutput(resp.Output), usageFromOutput(resp), nil
}

// GenerateStream performs a streaming completion via ConverseStream.
func (c *Client) GenerateStream(ctx context.Context, messages []model.Message, opts model.Options) (<-chan model.Delta, error) {
	input := buildConverseStreamInput(c.modelID, messages, opts)
	resp, err := c.sdk.ConverseStream(ctx, input)
	if err != nil {
		return nil, &model.ProviderError{Kind: "provider", Message: err.Error(), Cause: err}
	}

	out := make(chan model.Delta)
	go func() {
		defer close(out)
		stream := resp.GetStream()
		defer stream.Close()
		for event := range stream.Events() {
			switch e := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if text, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
					select {
					case out <- model.Delta{Content: text.Value}:
					case <-ctx.Done():
						return
					}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				select {
				case out <- model.Delta{Finished: true}:
				case <-ctx.Done():
				}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- model.Delta{Err: &model.ProviderError{Kind: "provider", Message: err.Error(), Cause: err}, Finished: true}
		}
	}()
	return out, nil
}

func buildMessages(messages []model.Message) []types.Message {
	var out []types.Message
	for _, msg := range messages {
		text := model.TextContent(msg)
		var role types.ConversationRole
		switch msg.Role {
		case model.RoleUser, model.RoleTool:
			role = types.ConversationRoleUser
		case model.RoleAssistant:
			role = types.ConversationRoleAssistant
		default:
			continue
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
		})
	}
	return out
}

func buildConverseInput(modelID string, messages []model.Message, opts model.Options) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: buildMessages(messages),
	}
	if opts.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(opts.MaxTokens))}
	}
	return input
}

func buildConverseStreamInput(modelID string, messages []model.Message, opts model.Options) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(modelID),
		Messages: buildMessages(messages),
	}
	if opts.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(opts.MaxTokens))}
	}
	return input
}

func messageFromOutput(output types.ConverseOutput) model.Message {
	member, ok := output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return model.Message{Role: model.RoleAssistant}
	}
	var parts []model.Part
	for _, block := range member.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			parts = append(parts, model.TextPart{Text: text.Value})
		}
	}
	return model.Message{Role: model.RoleAssistant, Content: parts}
}

func usageFromOutput(resp *bedrockruntime.ConverseOutput) model.TokenUsage {
	if resp == nil || resp.Usage == nil {
		return model.TokenUsage{}
	}
	return model.TokenUsage{Input: int(aws.ToInt32(resp.Usage.InputTokens)), Output: int(aws.ToInt32(resp.Usage.OutputTokens))}
}
