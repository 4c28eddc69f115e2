// Package llm adapts abstract model roles onto a local OpenAI-compatible
// inference server. Components never name concrete models; the adapter maps
// each role to the backend ID configured for it.
package llm

import (
	"context"

	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// ResponseFormat asks the backend for structured output. Only "json_object"
// is used by the router.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request is one chat completion call targeting a model role.
type Request struct {
	Role           types.ModelRole
	Messages       []types.Message
	Tools          []types.ToolDefinition
	MaxTokens      int
	Temperature    float64
	ResponseFormat *ResponseFormat
}

// Usage is the backend-reported token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the assistant turn returned by the backend.
type Response struct {
	Content      string
	ToolCalls    []types.ToolCall
	Model        string
	FinishReason string
	Usage        Usage
}

// Client performs chat completions. Implementations must honour context
// cancellation.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}
