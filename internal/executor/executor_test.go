package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/governance"
	"github.com/alextra-lab/personal-agent-sub000/internal/llm"
	"github.com/alextra-lab/personal-agent-sub000/internal/llm/llmtest"
	"github.com/alextra-lab/personal-agent-sub000/internal/router"
	"github.com/alextra-lab/personal-agent-sub000/internal/session"
	"github.com/alextra-lab/personal-agent-sub000/internal/tools"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// echoTool answers with its path argument so tests can see real output flow.
type echoTool struct{ calls int }

func (e *echoTool) Name() string { return "echo" }

func (e *echoTool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "echo",
		Description: "echo a path back",
		Parameters: types.ParameterSchema{
			Type:       "object",
			Properties: map[string]types.Property{"path": {Type: "string"}},
		},
		TimeoutSeconds: 5,
	}
}

func (e *echoTool) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	e.calls++
	path, _ := args["path"].(string)
	return &types.ToolResult{ToolName: "echo", Success: true, Output: "echoed " + path}, nil
}

type fixture struct {
	exec     *Executor
	fake     *llmtest.Fake
	sessions *session.Store
	registry *tools.Registry
	tool     *echoTool
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	store, err := governance.NewFromDocument(governance.Document{
		Modes: map[types.Mode]governance.ModeDefinition{
			types.ModeNormal: {SustainedSeconds: 30},
		},
		Tools: map[string]governance.ToolPolicy{
			"echo": {
				RiskLevel:      governance.RiskLow,
				AllowedInModes: []types.Mode{types.ModeNormal},
				TimeoutSeconds: 5,
			},
			"scoped": {
				RiskLevel:      governance.RiskMedium,
				AllowedInModes: []types.Mode{types.ModeNormal},
				AllowedPaths:   []string{"/data/**"},
				TimeoutSeconds: 5,
			},
		},
	}, nil)
	require.NoError(t, err)

	fake := llmtest.NewFake()
	rt, err := router.New(router.Config{Policy: router.PolicyHeuristicOnly}, fake, store, nil, nil)
	require.NoError(t, err)

	registry := tools.NewRegistry()
	tool := &echoTool{}
	require.NoError(t, registry.Register(tool))
	toolExec := tools.NewExecutor(tools.ExecutorConfig{}, registry, store, nil, nil, nil)

	sessions, err := session.Open(filepath.Join(t.TempDir(), "sessions.db"), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	exec := New(cfg, Deps{
		LLM:      fake,
		Router:   rt,
		Tools:    toolExec,
		Registry: registry,
		Store:    store,
		Sessions: sessions,
	}, nil)

	return &fixture{exec: exec, fake: fake, sessions: sessions, registry: registry, tool: tool}
}

func (f *fixture) newSession(t *testing.T) *types.Session {
	t.Helper()
	sess, err := f.sessions.Create(context.Background(), types.ChannelChat, types.ModeNormal)
	require.NoError(t, err)
	return sess
}

func TestGreetingDelegatesToStandardModel(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.Respond("Hello! How can I help?")
	sess := f.newSession(t)

	result, err := f.exec.Execute(context.Background(), sess, "hello", false)
	require.NoError(t, err)

	assert.Equal(t, types.StateCompleted, result.State)
	assert.Equal(t, "Hello! How can I help?", result.Content)
	assert.Equal(t, types.DecisionDelegate, result.Routing.Decision)
	assert.Equal(t, types.RoleStandard, result.Routing.TargetModel)

	// Exactly one model call, served by the standard role.
	require.Equal(t, 1, f.fake.CallCount())
	assert.Equal(t, types.RoleStandard, f.fake.Requests[0].Role)

	// The turn is persisted: system, user, assistant.
	stored, err := f.sessions.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 3)
	assert.Equal(t, types.RoleUser, stored.Messages[1].Role)
	assert.Equal(t, "Hello! How can I help?", stored.Messages[2].Content)
}

func TestHandleVerdictAnswersFromBareMessage(t *testing.T) {
	fake := llmtest.NewFake().
		Respond(`{"decision":"HANDLE","confidence":0.9,"reason":"trivial"}`).
		Respond("You're welcome!")
	rt, err := router.New(router.Config{Policy: router.PolicyLLMOnly}, fake, nil, nil, nil)
	require.NoError(t, err)
	exec := New(Config{}, Deps{LLM: fake, Router: rt}, nil)

	sess := &types.Session{
		ID:      "s1",
		Channel: types.ChannelChat,
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "system prompt"},
			{Role: types.RoleUser, Content: "what is in my home directory"},
			{Role: types.RoleAssistant, Content: "a list of files"},
		},
	}
	result, err := exec.Execute(context.Background(), sess, "thanks!", false)
	require.NoError(t, err)

	assert.Equal(t, types.DecisionHandle, result.Routing.Decision)
	assert.Equal(t, "You're welcome!", result.Content)

	// First call routes; the second answers from the bare user message, with
	// no history and no tools.
	require.Equal(t, 2, fake.CallCount())
	answer := fake.Requests[1]
	assert.Equal(t, types.RoleRouter, answer.Role)
	require.Len(t, answer.Messages, 1)
	assert.Equal(t, types.RoleUser, answer.Messages[0].Role)
	assert.Equal(t, "thanks!", answer.Messages[0].Content)
	assert.Empty(t, answer.Tools)
}

func TestUsageAccumulatesAcrossModelCalls(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.RespondWith(llm.Response{
		ToolCalls: []types.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"path": "/a"}}},
		Usage:     llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}).RespondWith(llm.Response{
		Content:      "done",
		FinishReason: "stop",
		Usage:        llm.Usage{PromptTokens: 20, CompletionTokens: 7, TotalTokens: 27},
	})
	sess := f.newSession(t)

	result, err := f.exec.Execute(context.Background(), sess, "echo the file for me", false)
	require.NoError(t, err)

	require.NotNil(t, result.Usage)
	assert.Equal(t, 30, result.Usage.PromptTokens)
	assert.Equal(t, 12, result.Usage.CompletionTokens)
	assert.Equal(t, 42, result.Usage.TotalTokens)
}

func TestToolRoundTrip(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.RespondWith(llm.Response{
		ToolCalls: []types.ToolCall{{ID: "call-1", Name: "echo", Arguments: map[string]any{"path": "/tmp/x"}}},
	}).Respond("The file is at /tmp/x.")
	sess := f.newSession(t)

	result, err := f.exec.Execute(context.Background(), sess, "please search for something in my files", false)
	require.NoError(t, err)

	assert.Equal(t, types.StateCompleted, result.State)
	assert.Equal(t, "The file is at /tmp/x.", result.Content)
	require.Len(t, result.ToolResults, 1)
	assert.True(t, result.ToolResults[0].Success)
	assert.Equal(t, 1, f.tool.calls)

	// Delegated requests carry the mode-filtered tool catalogue.
	require.GreaterOrEqual(t, f.fake.CallCount(), 2)
	assert.NotEmpty(t, f.fake.Requests[0].Tools)

	// The second model call sees the tool message linked to the call ID.
	second := f.fake.Requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, types.RoleToolMessage, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Equal(t, "echoed /tmp/x", last.Content)

	// Persisted history includes the assistant tool-call turn.
	stored, err := f.sessions.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 5)
	assert.Len(t, stored.Messages[2].ToolCalls, 1)
}

func TestRepeatedToolCallCap(t *testing.T) {
	f := newFixture(t, Config{})
	// The final script step repeats, so the model keeps asking for the
	// identical call forever.
	f.fake.RespondWith(llm.Response{
		ToolCalls: []types.ToolCall{{ID: "c", Name: "echo", Arguments: map[string]any{"path": "/same"}}},
	})
	sess := f.newSession(t)

	result, err := f.exec.Execute(context.Background(), sess, "search for the file", false)
	require.NoError(t, err)

	assert.Equal(t, types.StateCompleted, result.State)
	assert.Contains(t, result.Content, "repeated")
	assert.Len(t, result.ToolResults, 3, "identical call runs at most MaxRepeatedToolCalls times")
}

func TestToolIterationCap(t *testing.T) {
	f := newFixture(t, Config{MaxToolIterations: 2, MaxRepeatedToolCalls: 10})
	f.fake.RespondWith(llm.Response{
		ToolCalls: []types.ToolCall{{ID: "c", Name: "echo", Arguments: map[string]any{"path": "/same"}}},
	})
	sess := f.newSession(t)

	result, err := f.exec.Execute(context.Background(), sess, "search for the file", false)
	require.NoError(t, err)

	assert.Equal(t, types.StateCompleted, result.State)
	assert.Contains(t, result.Content, "iteration cap")
	assert.Len(t, result.ToolResults, 2)
}

func TestModelFailureFallsBackToSynthesis(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.Fail(errors.Upstream("backend down", fmt.Errorf("connection refused")))
	sess := f.newSession(t)

	result, err := f.exec.Execute(context.Background(), sess, "hello", false)
	require.NoError(t, err, "model failure must still produce an answer")

	assert.Equal(t, types.StateCompleted, result.State)
	assert.Contains(t, result.Content, "unavailable")
}

func TestForbiddenPathReportedToModel(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.registry.Register(&scopedTool{}))
	f.fake.RespondWith(llm.Response{
		ToolCalls: []types.ToolCall{{ID: "c1", Name: "scoped", Arguments: map[string]any{"path": "/etc/passwd"}}},
	}).Respond("I am not allowed to read that file.")
	sess := f.newSession(t)

	result, err := f.exec.Execute(context.Background(), sess, "search for the password file", false)
	require.NoError(t, err)

	assert.Equal(t, types.StateCompleted, result.State)
	require.Len(t, result.ToolResults, 1)
	assert.False(t, result.ToolResults[0].Success)

	// The denial reaches the model as a tool error message.
	second := f.fake.Requests[1].Messages
	last := second[len(second)-1]
	assert.Contains(t, last.Content, "tool error")
}

func TestCancellationFailsTask(t *testing.T) {
	f := newFixture(t, Config{})
	sess := f.newSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.exec.Execute(ctx, sess, "hello", false)
	require.Error(t, err)
	assert.Equal(t, errors.KindCancelled, errors.KindOf(err))
	assert.Equal(t, types.StateFailed, result.State)
	assert.NotEmpty(t, result.TraceID)
}

func TestCompressReplacesHistory(t *testing.T) {
	f := newFixture(t, Config{})
	sess := f.newSession(t)
	require.NoError(t, f.sessions.Append(context.Background(), sess.ID,
		types.Message{Role: types.RoleUser, Content: "my name is Alex"},
		types.Message{Role: types.RoleAssistant, Content: "Nice to meet you, Alex."},
	))
	sess, err := f.sessions.Get(context.Background(), sess.ID)
	require.NoError(t, err)

	f.fake.Respond("The user introduced themselves as Alex.").Respond("Hi again, Alex!")

	result, err := f.exec.Execute(context.Background(), sess, "hello", true)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, result.State)

	// First model call is the summarisation pass.
	require.GreaterOrEqual(t, f.fake.CallCount(), 2)
	assert.Contains(t, f.fake.Requests[0].Messages[0].Content, "Summarise")

	// History is now summary plus the new turn.
	stored, err := f.sessions.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 4)
	assert.Contains(t, stored.Messages[1].Content, "Alex")
	assert.Equal(t, types.RoleUser, stored.Messages[2].Role)
}

// scopedTool exists so path-policy denials can be exercised end to end.
type scopedTool struct{}

func (scopedTool) Name() string { return "scoped" }

func (scopedTool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "scoped",
		Description: "reads files under /data",
		Parameters: types.ParameterSchema{
			Type:       "object",
			Properties: map[string]types.Property{"path": {Type: "string"}},
		},
		TimeoutSeconds: 5,
	}
}

func (scopedTool) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	return &types.ToolResult{ToolName: "scoped", Success: true, Output: "read"}, nil
}
