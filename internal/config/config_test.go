package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8420, cfg.Service.Port)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "heuristic_then_llm", cfg.Router.Policy)
	assert.Equal(t, 8, cfg.Executor.MaxToolIterations)
	assert.Equal(t, 30, cfg.Lifecycle.RetentionHotDays)
	assert.Equal(t, "qwen2.5:3b", cfg.LLM.ModelFor(types.RoleRouter))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  port: 9000
llm:
  base_url: http://gpu-box:8080
  models:
    router: llama3.2:3b
router:
  policy: heuristic_only
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Service.Port)
	assert.Equal(t, "http://gpu-box:8080", cfg.LLM.BaseURL)
	assert.Equal(t, "llama3.2:3b", cfg.LLM.ModelFor(types.RoleRouter))
	assert.Equal(t, "heuristic_only", cfg.Router.Policy)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.Sensors.PollIntervalSeconds)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  port: 9000\n"), 0o644))

	t.Setenv("AGENT_SERVICE_PORT", "9999")
	t.Setenv("LLM_BASE_URL", "http://override:1234")
	t.Setenv("AGENT_MCP_GATEWAY_ENABLED", "true")
	t.Setenv("METRICS_DAEMON_POLL_INTERVAL_SECONDS", "10")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Service.Port)
	assert.Equal(t, "http://override:1234", cfg.LLM.BaseURL)
	assert.True(t, cfg.MCP.GatewayEnabled)
	assert.Equal(t, 10, cfg.Sensors.PollIntervalSeconds)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"port out of range": "service:\n  port: 70000\n",
		"unknown policy":    "router:\n  policy: coin_flip\n",
		"bad disk percent":  "lifecycle:\n  disk_alert_percent: 150\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "agent.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/agent.yaml")
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*24*60*60, int(cfg.Lifecycle.SessionTTL().Seconds()))
	assert.Equal(t, 5, int(cfg.Sensors.PollInterval().Seconds()))
	assert.Equal(t, 60, int(cfg.Sensors.EmitInterval().Seconds()))
}
