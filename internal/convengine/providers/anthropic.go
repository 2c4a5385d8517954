// Package providers implements convengine.LLMClient against concrete LLM
// vendor SDKs. Each adapter owns its own request/response conversion and
// retry policy; the conversation engine never sees vendor types.
package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaydb/dbagent/internal/convengine"
	"github.com/relaydb/dbagent/internal/models"
)

// AnthropicClient adapts Anthropic's Messages API to convengine.LLMClient.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

// NewAnthropicClient builds an AnthropicClient. MaxTokens defaults to 4096.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (a *AnthropicClient) ModelID() string { return a.model }

func (a *AnthropicClient) Provider() string { return "claude" }

// Chat sends the full history as a single non-streaming completion. Turn
// iteration and history growth are the conversation engine's job, not the
// client's — this adapter makes exactly one round trip per call.
func (a *AnthropicClient) Chat(ctx context.Context, messages []*models.ChatMessage, systemPrompt string, tools []convengine.ToolDef) (convengine.Response, error) {
	msgParams, err := convertMessages(messages)
	if err != nil {
		return convengine.Response{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		Messages:  msgParams,
		MaxTokens: a.maxTokens,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		toolParams, err := convertTools(tools)
		if err != nil {
			return convengine.Response{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = toolParams
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return convengine.Response{}, fmt.Errorf("anthropic: %w", err)
	}

	return toResponse(msg), nil
}

func convertMessages(messages []*models.ChatMessage) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						return nil, fmt.Errorf("tool call %s: %w", tc.ID, err)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return out, nil
}

func convertTools(tools []convengine.ToolDef) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("invalid schema for %s: %w", t.Name, err)
			}
		}
		tp := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if tp.OfTool != nil {
			tp.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, tp)
	}
	return out, nil
}

func toResponse(msg *anthropic.Message) convengine.Response {
	resp := convengine.Response{FinishReason: convengine.FinishStop}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, convengine.ResponseToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: json.RawMessage(variant.Input),
			})
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = convengine.FinishToolCalls
	}
	return resp
}
