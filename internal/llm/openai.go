package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/convoflow/convoflow/internal/retry"
	"github.com/convoflow/convoflow/pkg/models"
)

// OpenAIProvider talks to the OpenAI chat completions API (or a compatible
// endpoint via BaseURL).
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	retryCfg     retry.Config
}

// OpenAIConfig configures an OpenAIProvider. APIKey is required.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewOpenAIProvider creates a provider with sane defaults.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4o
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		retryCfg:     retry.Config{MaxAttempts: cfg.MaxRetries, Backoff: cfg.RetryDelay, Jitter: true},
	}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	ccr := openai.ChatCompletionRequest{
		Model:     p.model(req.Model),
		Messages:  convertOpenAIMessages(req.Messages, req.System),
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
	}
	if req.Temperature > 0 {
		ccr.Temperature = req.Temperature
	}
	for _, tool := range req.Tools {
		ccr.Tools = append(ccr.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Schema,
			},
		})
	}

	completion, err := retry.DoWithValue(ctx, p.retryCfg, func() (openai.ChatCompletionResponse, error) {
		resp, err := p.client.CreateChatCompletion(ctx, ccr)
		if err != nil && !openaiRetryable(err) {
			return resp, retry.Permanent(err)
		}
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	choice := completion.Choices[0]
	resp := &Response{
		Text: choice.Message.Content,
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
		StopReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}

	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return nil, ErrEmptyCompletion
	}
	return resp, nil
}

func (p *OpenAIProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func convertOpenAIMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		// Tool responses become their own role-tool messages.
		if len(msg.ToolResults) > 0 {
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: tr.CallID,
					Name:       tr.Name,
					Content:    tr.Content,
				})
			}
			continue
		}

		m := openai.ChatCompletionMessage{Content: msg.Content}
		if msg.Role == "assistant" {
			m.Role = openai.ChatMessageRoleAssistant
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
		} else {
			m.Role = openai.ChatMessageRoleUser
		}
		result = append(result, m)
	}
	return result
}

func openaiRetryable(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") ||
		strings.Contains(s, "500") ||
		strings.Contains(s, "502") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection")
}
