// Package llm wraps the model providers behind one non-streaming contract.
// The turn pipeline is request/response: each loop iteration sends the full
// conversation and consumes the complete answer, so streaming buys nothing
// here.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/convoflow/convoflow/pkg/models"
)

// ErrEmptyCompletion is returned when a provider produces neither text nor
// tool calls.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Message is one turn of the conversation sent to the provider. System
// content travels separately on the Request.
type Message struct {
	Role        string // "user" or "assistant"
	Content     string
	ToolCalls   []models.ToolCall // assistant messages requesting tools
	ToolResults []ToolResponse    // user messages answering tool calls
}

// ToolResponse is the sanitized payload returned to the model for one call.
type ToolResponse struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// ToolDef describes a callable tool in provider-neutral terms. Schema is a
// JSON Schema object for the arguments.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request is a single completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDef
	MaxTokens   int
	Temperature float32
}

// Usage carries the provider-reported token counts for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the provider's complete answer.
type Response struct {
	Text       string
	ToolCalls  []models.ToolCall
	Usage      Usage
	StopReason string
}

// Provider is the completion contract the pipeline depends on.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}

const defaultMaxTokens = 4096

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
