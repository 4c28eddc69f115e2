package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// Config points the adapter at an OpenAI-compatible server and maps roles to
// backend model IDs.
type Config struct {
	BaseURL string
	APIKey  string
	Models  map[types.ModelRole]string
	Timeout time.Duration
}

// OpenAIClient speaks the /v1/chat/completions wire format.
type OpenAIClient struct {
	cfg    Config
	http   *http.Client
	logger *logging.Logger
}

func NewOpenAIClient(cfg Config, logger *logging.Logger) *OpenAIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAIClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrNop(logger).Component("llm"),
	}
}

// ModelFor resolves a role to its configured backend model ID. ROUTER and
// REASONING fall back to the STANDARD model when unconfigured, so a minimal
// single-model setup still serves every request.
func (c *OpenAIClient) ModelFor(role types.ModelRole) (string, error) {
	if model, ok := c.cfg.Models[role]; ok && model != "" {
		return model, nil
	}
	if role == types.RoleRouter || role == types.RoleReasoning {
		if model, ok := c.cfg.Models[types.RoleStandard]; ok && model != "" {
			c.logger.Debug("role not configured, using standard model", "role", string(role))
			return model, nil
		}
	}
	return "", errors.New(errors.KindInternal, fmt.Sprintf("no model configured for role %s", role))
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                `json:"name"`
		Description string                `json:"description"`
		Parameters  types.ParameterSchema `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []wireMessage   `json:"messages"`
	Tools          []wireTool      `json:"tools,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Chat sends one completion request. 5xx and 429 responses come back as
// retryable upstream errors; other failures are permanent.
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (*Response, error) {
	model, err := c.ModelFor(req.Role)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(buildChatRequest(model, req))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "encode chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "build chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Upstream("chat completion request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, errors.Upstream("read chat completion response", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("chat completion returned %d: %s", resp.StatusCode, truncate(string(data), 300))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, errors.Upstream(msg, fmt.Errorf("status %d", resp.StatusCode))
		}
		return nil, errors.New(errors.KindInternal, msg)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Parse("decode chat completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.Parse("chat completion returned no choices", nil)
	}

	choice := parsed.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		Model:        parsed.Model,
		FinishReason: choice.FinishReason,
		Usage:        parsed.Usage,
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := decodeArguments(tc.Function.Arguments)
		if err != nil {
			c.logger.Warn("dropping tool call with unrecoverable arguments",
				"tool", tc.Function.Name, "error", err)
			continue
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	c.logger.Debug("chat completion",
		"model", model, "latency_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", parsed.Usage.PromptTokens, "completion_tokens", parsed.Usage.CompletionTokens,
		"tool_calls", len(out.ToolCalls))
	return out, nil
}

func buildChatRequest(model string, req Request) chatRequest {
	out := chatRequest{
		Model:          model,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		ResponseFormat: req.ResponseFormat,
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out.Messages = append(out.Messages, wm)
	}
	for _, t := range req.Tools {
		wt := wireTool{Type: "function"}
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		out.Tools = append(out.Tools, wt)
	}
	return out
}

// decodeArguments parses a tool-call argument string, repairing almost-JSON
// output from smaller local models before giving up.
func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, errors.Parse("repair tool call arguments", err)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, errors.Parse("decode repaired tool call arguments", err)
	}
	return args, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
