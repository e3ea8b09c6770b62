package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/convoflow/convoflow/internal/retry"
	"github.com/convoflow/convoflow/pkg/models"
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	retryCfg     retry.Config
}

// AnthropicConfig configures an AnthropicProvider. APIKey is required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewAnthropicProvider creates a provider with sane defaults.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		retryCfg:     retry.Config{MaxAttempts: cfg.MaxRetries, Backoff: cfg.RetryDelay, Jitter: true},
	}, nil
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	msgs, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params.Messages = msgs

	tools, err := convertAnthropicTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params.Tools = tools

	msg, err := retry.DoWithValue(ctx, p.retryCfg, func() (*anthropic.Message, error) {
		m, err := p.client.Messages.New(ctx, params)
		if err != nil && !anthropicRetryable(err) {
			return nil, retry.Permanent(err)
		}
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	resp := &Response{
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		StopReason: string(msg.StopReason),
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:   b.ID,
				Name: b.Name,
				Args: json.RawMessage(b.Input),
			})
		}
	}
	resp.Text = text.String()

	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return nil, ErrEmptyCompletion
	}
	return resp, nil
}

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func convertAnthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.CallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Args, &input); err != nil {
				return nil, fmt.Errorf("anthropic: invalid tool call args for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool definition for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

func anthropicRetryable(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") ||
		strings.Contains(s, "500") ||
		strings.Contains(s, "502") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "529") ||
		strings.Contains(s, "overloaded") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection")
}
