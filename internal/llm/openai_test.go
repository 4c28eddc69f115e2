package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(Config{
		BaseURL: srv.URL,
		Models: map[types.ModelRole]string{
			types.RoleStandard: "qwen2.5-14b",
			types.RoleRouter:   "qwen2.5-3b",
		},
	}, nil)
}

func TestChatMapsRoleToModel(t *testing.T) {
	var gotBody chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"model": "qwen2.5-14b",
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hello"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	})

	resp, err := client.Chat(context.Background(), Request{
		Role:     types.RoleStandard,
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "qwen2.5-14b", gotBody.Model)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestReasoningFallsBackToStandardModel(t *testing.T) {
	var gotBody chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "ok"}, "finish_reason": "stop"},
			},
		})
	})

	// No reasoning model is configured; the standard one serves the call.
	_, err := client.Chat(context.Background(), Request{
		Role:     types.RoleReasoning,
		Messages: []types.Message{{Role: types.RoleUser, Content: "think hard"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-14b", gotBody.Model)

	model, err := client.ModelFor(types.RoleRouter)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-3b", model, "a configured role never falls back")
}

func TestChatUnknownRoleFailsWithoutRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := client.Chat(context.Background(), Request{Role: types.RoleCoding})
	assert.ErrorContains(t, err, "no model configured")
}

func TestChatParsesToolCalls(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{
						{
							"id":   "call_1",
							"type": "function",
							"function": map[string]any{
								"name":      "read_file",
								"arguments": `{"path": "/tmp/a.txt"}`,
							},
						},
						{
							// Almost-JSON from a small model gets repaired.
							"id":   "call_2",
							"type": "function",
							"function": map[string]any{
								"name":      "search_text",
								"arguments": `{pattern: 'TODO', path: "/src"}`,
							},
						},
					},
				},
				"finish_reason": "tool_calls",
			}},
		})
	})

	resp, err := client.Chat(context.Background(), Request{
		Role:     types.RoleStandard,
		Messages: []types.Message{{Role: types.RoleUser, Content: "find todos"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "read_file", resp.ToolCalls[0].Name)
	assert.Equal(t, "/tmp/a.txt", resp.ToolCalls[0].Arguments["path"])
	assert.Equal(t, "TODO", resp.ToolCalls[1].Arguments["pattern"])
}

func TestChatStatusCodeClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := client.Chat(context.Background(), Request{Role: types.RoleStandard})
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.retryable, apperrors.IsRetryable(err), "status %d", tc.status)
	}
}

func TestChatSendsToolDefinitionsAndHistory(t *testing.T) {
	var gotBody chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "done"}, "finish_reason": "stop"},
			},
		})
	})

	_, err := client.Chat(context.Background(), Request{
		Role: types.RoleStandard,
		Messages: []types.Message{
			{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{
				{ID: "call_1", Name: "read_file", Arguments: map[string]any{"path": "/tmp/a"}},
			}},
			{Role: types.RoleToolMessage, Content: "contents", ToolCallID: "call_1"},
		},
		Tools: []types.ToolDefinition{{
			Name:        "read_file",
			Description: "Read a file",
			Parameters: types.ParameterSchema{
				Type:       "object",
				Properties: map[string]types.Property{"path": {Type: "string"}},
				Required:   []string{"path"},
			},
		}},
	})
	require.NoError(t, err)

	require.Len(t, gotBody.Messages, 2)
	require.Len(t, gotBody.Messages[0].ToolCalls, 1)
	assert.Equal(t, "function", gotBody.Messages[0].ToolCalls[0].Type)
	assert.JSONEq(t, `{"path":"/tmp/a"}`, gotBody.Messages[0].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_1", gotBody.Messages[1].ToolCallID)
	require.Len(t, gotBody.Tools, 1)
	assert.Equal(t, "read_file", gotBody.Tools[0].Function.Name)
}

func TestDecodeArgumentsEmpty(t *testing.T) {
	args, err := decodeArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)
}
