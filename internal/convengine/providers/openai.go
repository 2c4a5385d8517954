package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/relaydb/dbagent/internal/convengine"
	"github.com/relaydb/dbagent/internal/models"
)

// OpenAIClient adapts go-openai's chat completions API to
// convengine.LLMClient. It also serves any OpenAI-compatible endpoint
// (OpenRouter, local gateways) via BaseURL.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for OpenAI-compatible endpoints
}

// NewOpenAIClient builds an OpenAIClient.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

func (o *OpenAIClient) ModelID() string { return o.model }

func (o *OpenAIClient) Provider() string { return "openai" }

func (o *OpenAIClient) Chat(ctx context.Context, messages []*models.ChatMessage, systemPrompt string, tools []convengine.ToolDef) (convengine.Response, error) {
	chatMessages, err := convertMessagesOpenAI(messages, systemPrompt)
	if err != nil {
		return convengine.Response{}, fmt.Errorf("openai: convert messages: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: chatMessages,
	}
	if len(tools) > 0 {
		req.Tools = convertToolsOpenAI(tools)
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return convengine.Response{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return convengine.Response{}, fmt.Errorf("openai: empty response")
	}
	return toResponseOpenAI(resp.Choices[0]), nil
}

func convertMessagesOpenAI(messages []*models.ChatMessage, systemPrompt string) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		if m == nil {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, msg)
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out, nil
}

func convertToolsOpenAI(tools []convengine.ToolDef) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

func toResponseOpenAI(choice openai.ChatCompletionChoice) convengine.Response {
	resp := convengine.Response{
		Content:      choice.Message.Content,
		FinishReason: convengine.FinishStop,
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, convengine.ResponseToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = convengine.FinishToolCalls
	}
	return resp
}
