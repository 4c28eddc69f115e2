package tools

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/governance"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// stubTool is a scriptable tool for pipeline tests.
type stubTool struct {
	name     string
	required []string
	calls    atomic.Int64
	execute  func(ctx context.Context, args map[string]any) (*types.ToolResult, error)
}

func (s *stubTool) Name() string { return s.name }

func (s *stubTool) Definition() types.ToolDefinition {
	props := map[string]types.Property{
		"path":  {Type: "string"},
		"count": {Type: "integer"},
	}
	return types.ToolDefinition{
		Name:           s.name,
		Description:    "stub",
		Parameters:     types.ParameterSchema{Type: "object", Properties: props, Required: s.required},
		TimeoutSeconds: 5,
	}
}

func (s *stubTool) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	s.calls.Add(1)
	if s.execute != nil {
		return s.execute(ctx, args)
	}
	return &types.ToolResult{ToolName: s.name, Success: true, Output: "ok"}, nil
}

type stubApprover struct {
	decision bool
	asked    int
}

func (a *stubApprover) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	a.asked++
	return a.decision, nil
}

func executorFixture(t *testing.T, approver Approver) (*Executor, *Registry) {
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
			"destroy": {
				RiskLevel:        governance.RiskHigh,
				AllowedInModes:   []types.Mode{types.ModeNormal},
				RequiresApproval: true,
				TimeoutSeconds:   5,
			},
			"limited": {
				RiskLevel:      governance.RiskMedium,
				AllowedInModes: []types.Mode{types.ModeNormal},
				TimeoutSeconds: 5,
				RateLimit:      &governance.RateLimit{N: 1, WindowSeconds: 60},
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

	registry := NewRegistry()
	exec := NewExecutor(ExecutorConfig{}, registry, store, approver, nil, nil)
	return exec, registry
}

func execute(t *testing.T, exec *Executor, call types.ToolCall) (*types.ToolResult, error) {
	t.Helper()
	return exec.Execute(context.Background(), telemetry.TraceContext{}, call, types.ModeNormal, "test", time.Minute)
}

func TestExecuteUnknownTool(t *testing.T) {
	exec, _ := executorFixture(t, nil)
	result, err := execute(t, exec, types.ToolCall{Name: "nope"})
	assert.False(t, result.Success)
	assert.Equal(t, errors.KindUserInput, errors.KindOf(err))
}

func TestExecuteDeniedWithoutPolicy(t *testing.T) {
	exec, registry := executorFixture(t, nil)
	require.NoError(t, registry.Register(&stubTool{name: "unlisted"}))

	result, err := execute(t, exec, types.ToolCall{Name: "unlisted"})
	assert.False(t, result.Success)
	assert.Equal(t, errors.KindPolicyDenied, errors.KindOf(err))
}

func TestExecuteHappyPath(t *testing.T) {
	exec, registry := executorFixture(t, nil)
	tool := &stubTool{name: "echo"}
	require.NoError(t, registry.Register(tool))

	result, err := execute(t, exec, types.ToolCall{Name: "echo", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "echo", result.ToolName)
	assert.GreaterOrEqual(t, result.LatencyMs, 0.0)
}

func TestExecuteApprovalFlow(t *testing.T) {
	approver := &stubApprover{decision: false}
	exec, registry := executorFixture(t, approver)
	tool := &stubTool{name: "destroy"}
	require.NoError(t, registry.Register(tool))

	result, err := execute(t, exec, types.ToolCall{Name: "destroy", Arguments: map[string]any{}})
	assert.False(t, result.Success)
	assert.Equal(t, errors.KindPolicyDenied, errors.KindOf(err))
	assert.Equal(t, 1, approver.asked)
	assert.Equal(t, int64(0), tool.calls.Load(), "denied tool must not run")

	approver.decision = true
	result, err = execute(t, exec, types.ToolCall{Name: "destroy", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(1), tool.calls.Load())
}

func TestExecuteApprovalRequiredWithoutApprover(t *testing.T) {
	exec, registry := executorFixture(t, nil)
	require.NoError(t, registry.Register(&stubTool{name: "destroy"}))

	_, err := execute(t, exec, types.ToolCall{Name: "destroy", Arguments: map[string]any{}})
	assert.Equal(t, errors.KindPolicyDenied, errors.KindOf(err))
}

func TestExecuteRateLimit(t *testing.T) {
	exec, registry := executorFixture(t, nil)
	require.NoError(t, registry.Register(&stubTool{name: "limited"}))

	_, err := execute(t, exec, types.ToolCall{Name: "limited", Arguments: map[string]any{}})
	require.NoError(t, err)
	_, err = execute(t, exec, types.ToolCall{Name: "limited", Arguments: map[string]any{}})
	assert.Equal(t, errors.KindExhausted, errors.KindOf(err))
}

func TestExecuteArgumentValidation(t *testing.T) {
	exec, registry := executorFixture(t, nil)
	require.NoError(t, registry.Register(&stubTool{name: "echo", required: []string{"path"}}))

	_, err := execute(t, exec, types.ToolCall{Name: "echo", Arguments: map[string]any{}})
	assert.Equal(t, errors.KindUserInput, errors.KindOf(err))

	_, err = execute(t, exec, types.ToolCall{Name: "echo", Arguments: map[string]any{"path": 42.0}})
	assert.Equal(t, errors.KindUserInput, errors.KindOf(err))

	_, err = execute(t, exec, types.ToolCall{Name: "echo", Arguments: map[string]any{"path": "/x", "bogus": "y"}})
	assert.Equal(t, errors.KindUserInput, errors.KindOf(err))

	_, err = execute(t, exec, types.ToolCall{Name: "echo", Arguments: map[string]any{"path": "/x", "count": 3.0}})
	assert.NoError(t, err)
}

func TestExecutePathPolicy(t *testing.T) {
	exec, registry := executorFixture(t, nil)
	tool := &stubTool{name: "scoped"}
	require.NoError(t, registry.Register(tool))

	_, err := execute(t, exec, types.ToolCall{Name: "scoped", Arguments: map[string]any{"path": "/etc/passwd"}})
	assert.Equal(t, errors.KindPolicyDenied, errors.KindOf(err))
	assert.Equal(t, int64(0), tool.calls.Load())

	result, err := execute(t, exec, types.ToolCall{Name: "scoped", Arguments: map[string]any{"path": "/data/in.csv"}})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestExecuteCachesLowRiskResults(t *testing.T) {
	exec, registry := executorFixture(t, nil)
	tool := &stubTool{name: "echo"}
	require.NoError(t, registry.Register(tool))

	args := map[string]any{"path": "/x"}
	_, err := execute(t, exec, types.ToolCall{Name: "echo", Arguments: args})
	require.NoError(t, err)
	_, err = execute(t, exec, types.ToolCall{Name: "echo", Arguments: args})
	require.NoError(t, err)
	assert.Equal(t, int64(1), tool.calls.Load(), "second call must be served from cache")

	// Different arguments miss the cache.
	_, err = execute(t, exec, types.ToolCall{Name: "echo", Arguments: map[string]any{"path": "/y"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), tool.calls.Load())
}

func TestExecuteRecoversToolPanic(t *testing.T) {
	exec, registry := executorFixture(t, nil)
	require.NoError(t, registry.Register(&stubTool{
		name:    "echo",
		execute: func(ctx context.Context, args map[string]any) (*types.ToolResult, error) { panic("boom") },
	}))

	result, err := execute(t, exec, types.ToolCall{Name: "echo", Arguments: map[string]any{}})
	assert.False(t, result.Success)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, errors.KindInternal, errors.KindOf(err))
}

func TestExecuteHonoursPolicyTimeout(t *testing.T) {
	exec, registry := executorFixture(t, nil)
	require.NoError(t, registry.Register(&stubTool{
		name: "limited",
		execute: func(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.LessOrEqual(t, time.Until(deadline), 5*time.Second)
			return &types.ToolResult{ToolName: "limited", Success: true}, nil
		},
	}))
	_, err := execute(t, exec, types.ToolCall{Name: "limited", Arguments: map[string]any{}})
	require.NoError(t, err)
}

func TestRegistryTiers(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&stubTool{name: "echo"}))

	// Duplicate names are rejected across tiers.
	assert.Error(t, registry.Register(&stubTool{name: "echo"}))
	assert.Error(t, registry.RegisterDynamic(&stubTool{name: "echo"}))

	// MCP tools need the prefix.
	assert.Error(t, registry.RegisterMCP(&stubTool{name: "fetch"}))
	require.NoError(t, registry.RegisterMCP(&stubTool{name: "mcp_fetch"}))

	assert.Equal(t, []string{"echo", "mcp_fetch"}, registry.Names())

	registry.ClearMCP()
	assert.Equal(t, []string{"echo"}, registry.Names())
	_, ok := registry.Get("mcp_fetch")
	assert.False(t, ok)
}

func TestRegistryRejectsZeroTimeout(t *testing.T) {
	registry := NewRegistry()
	bad := &zeroTimeoutTool{}
	assert.ErrorContains(t, registry.Register(bad), "positive timeout")
}

type zeroTimeoutTool struct{}

func (zeroTimeoutTool) Name() string { return "bad" }
func (zeroTimeoutTool) Definition() types.ToolDefinition {
	return types.ToolDefinition{Name: "bad"}
}
func (zeroTimeoutTool) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	return nil, nil
}

func TestListForMode(t *testing.T) {
	exec, registry := executorFixture(t, nil)
	_ = exec
	require.NoError(t, registry.Register(&stubTool{name: "echo"}))
	require.NoError(t, registry.Register(&stubTool{name: "unlisted"}))

	store, err := governance.NewFromDocument(governance.Document{
		Modes: map[types.Mode]governance.ModeDefinition{types.ModeNormal: {SustainedSeconds: 1}},
		Tools: map[string]governance.ToolPolicy{
			"echo": {RiskLevel: governance.RiskLow, AllowedInModes: []types.Mode{types.ModeNormal}, TimeoutSeconds: 5},
		},
	}, nil)
	require.NoError(t, err)

	defs := registry.ListForMode(store, types.ModeNormal)
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)

	assert.Empty(t, registry.ListForMode(store, types.ModeLockdown))
}
