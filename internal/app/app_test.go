package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextra-lab/personal-agent-sub000/internal/config"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Service.DataDir = t.TempDir()
	// Point at a path that does not exist so the built-in policy is used.
	cfg.Governance.PolicyPath = filepath.Join(t.TempDir(), "missing.yaml")
	return cfg
}

func TestNewWiresEverything(t *testing.T) {
	a, err := New(testConfig(t), nil, nil)
	require.NoError(t, err)
	defer a.Shutdown()

	assert.NotNil(t, a.Executor())
	assert.NotNil(t, a.Sessions())
	assert.NotNil(t, a.Memory())
	assert.Equal(t, types.ModeNormal, a.Modes().Current())
	assert.Nil(t, a.gateway, "gateway stays off unless enabled")
	assert.Nil(t, a.search, "search sink stays off without a URL")
	assert.NotNil(t, a.sched)

	names := a.tools.Names()
	assert.Contains(t, names, "read_file")
	assert.Contains(t, names, "write_file")
	assert.Contains(t, names, "system_metrics_snapshot")
}

func TestNewReadsPolicyFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Governance.PolicyPath = filepath.Join("..", "..", "config", "governance.yaml")

	a, err := New(cfg, nil, nil)
	require.NoError(t, err)
	defer a.Shutdown()

	_, ok := a.policy.ToolPolicyFor("write_file")
	assert.True(t, ok)
}

func TestLifecycleDisabledSkipsScheduler(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lifecycle.Enabled = false

	a, err := New(cfg, nil, nil)
	require.NoError(t, err)
	defer a.Shutdown()

	assert.Nil(t, a.sched)
}

func TestDefaultPolicyValidates(t *testing.T) {
	a, err := New(testConfig(t), nil, nil)
	require.NoError(t, err)
	defer a.Shutdown()

	decision := a.policy.CheckToolAllowed("write_file", types.ModeLockdown, "test")
	assert.False(t, decision.Allowed)
	decision = a.policy.CheckToolAllowed("system_metrics_snapshot", types.ModeLockdown, "test")
	assert.True(t, decision.Allowed)
}

func TestRoleModels(t *testing.T) {
	models := roleModels(map[string]string{"router": "small", "coding": "coder"})
	assert.Equal(t, "small", models[types.RoleRouter])
	assert.Equal(t, "coder", models[types.RoleCoding])
}

func TestTranscriptTail(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleSystem, Content: "sys"},
		{Role: types.RoleUser, Content: "one"},
		{Role: types.RoleAssistant, Content: "two"},
		{Role: types.RoleToolMessage, Content: "tool output"},
		{Role: types.RoleUser, Content: "three"},
	}
	tail := transcriptTail(messages, 2)
	assert.Equal(t, "assistant: two\nuser: three", tail)
	assert.Empty(t, transcriptTail(nil, 4))
}
