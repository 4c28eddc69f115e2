// Package config loads service configuration from an optional YAML file plus
// environment variables. Environment always wins; every key has a default so
// the service starts with no config at all.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// Config is the full service configuration tree.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Sensors    SensorsConfig    `mapstructure:"sensors"`
	Router     RouterConfig     `mapstructure:"router"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	MCP        MCPConfig        `mapstructure:"mcp"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type ServiceConfig struct {
	Port        int    `mapstructure:"port"`
	DataDir     string `mapstructure:"data_dir"`
	DatabaseURL string `mapstructure:"database_url"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type LLMConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	APIKey         string            `mapstructure:"api_key"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Models         map[string]string `mapstructure:"models"`
}

// ModelFor maps a model role to its configured backend name.
func (c LLMConfig) ModelFor(role types.ModelRole) string {
	return c.Models[strings.ToLower(string(role))]
}

type GovernanceConfig struct {
	PolicyPath string `mapstructure:"policy_path"`
}

type SensorsConfig struct {
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	EmitIntervalSeconds int    `mapstructure:"emit_interval_seconds"`
	WindowCapacity      int    `mapstructure:"window_capacity"`
	DiskPath            string `mapstructure:"disk_path"`
}

type RouterConfig struct {
	Policy              string  `mapstructure:"policy"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

type ExecutorConfig struct {
	MaxToolIterations    int `mapstructure:"max_tool_iterations"`
	MaxRepeatedToolCalls int `mapstructure:"max_repeated_tool_calls"`
	ContextWindowTokens  int `mapstructure:"context_window_tokens"`
}

type TelemetryConfig struct {
	ElasticsearchURL string `mapstructure:"elasticsearch_url"`
	JSONLDir         string `mapstructure:"jsonl_dir"`
	BufferSize       int    `mapstructure:"buffer_size"`
}

type MCPConfig struct {
	GatewayEnabled bool   `mapstructure:"gateway_enabled"`
	GatewayCommand string `mapstructure:"gateway_command"`
}

type MemoryConfig struct {
	EmbeddingBaseURL string `mapstructure:"embedding_base_url"`
	EmbeddingModel   string `mapstructure:"embedding_model"`
}

type LifecycleConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	RetentionHotDays int     `mapstructure:"retention_hot_days"`
	DiskAlertPercent float64 `mapstructure:"disk_alert_percent"`
	SessionTTLDays   int     `mapstructure:"session_ttl_days"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// SessionTTL converts the day count to a duration.
func (c LifecycleConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLDays) * 24 * time.Hour
}

// PollInterval converts the second count to a duration.
func (c SensorsConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// EmitInterval converts the second count to a duration.
func (c SensorsConfig) EmitInterval() time.Duration {
	return time.Duration(c.EmitIntervalSeconds) * time.Second
}

// envAliases maps flat legacy environment names onto config keys. These take
// precedence over the AGENT_ prefixed forms.
var envAliases = map[string]string{
	"llm.base_url":                  "LLM_BASE_URL",
	"llm.api_key":                   "LLM_API_KEY",
	"service.port":                  "AGENT_SERVICE_PORT",
	"service.database_url":          "AGENT_DATABASE_URL",
	"telemetry.elasticsearch_url":   "AGENT_ELASTICSEARCH_URL",
	"mcp.gateway_enabled":           "AGENT_MCP_GATEWAY_ENABLED",
	"mcp.gateway_command":           "AGENT_MCP_GATEWAY_COMMAND",
	"lifecycle.enabled":             "AGENT_DATA_LIFECYCLE_ENABLED",
	"lifecycle.retention_hot_days":  "AGENT_RETENTION_HOT_DAYS",
	"lifecycle.disk_alert_percent":  "AGENT_DISK_USAGE_ALERT_PERCENT",
	"sensors.poll_interval_seconds": "METRICS_DAEMON_POLL_INTERVAL_SECONDS",
}

// Load reads configuration from the given file (optional, "" skips the file
// pass) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8420)
	v.SetDefault("service.data_dir", "./data")
	v.SetDefault("service.database_url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")

	v.SetDefault("llm.base_url", "http://localhost:11434")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.models", map[string]string{
		"router":    "qwen2.5:3b",
		"standard":  "qwen2.5:14b",
		"reasoning": "qwq:32b",
		"coding":    "qwen2.5-coder:14b",
	})

	v.SetDefault("governance.policy_path", "./config/governance.yaml")

	v.SetDefault("sensors.poll_interval_seconds", 5)
	v.SetDefault("sensors.emit_interval_seconds", 60)
	v.SetDefault("sensors.window_capacity", 720)
	v.SetDefault("sensors.disk_path", "/")

	v.SetDefault("router.policy", "heuristic_then_llm")
	v.SetDefault("router.confidence_threshold", 0.7)

	v.SetDefault("executor.max_tool_iterations", 8)
	v.SetDefault("executor.max_repeated_tool_calls", 3)
	v.SetDefault("executor.context_window_tokens", 8000)

	v.SetDefault("telemetry.elasticsearch_url", "")
	v.SetDefault("telemetry.jsonl_dir", "")
	v.SetDefault("telemetry.buffer_size", 1024)

	v.SetDefault("mcp.gateway_enabled", false)
	v.SetDefault("mcp.gateway_command", "")

	v.SetDefault("memory.embedding_base_url", "")
	v.SetDefault("memory.embedding_model", "nomic-embed-text")

	v.SetDefault("lifecycle.enabled", true)
	v.SetDefault("lifecycle.retention_hot_days", 30)
	v.SetDefault("lifecycle.disk_alert_percent", 85)
	v.SetDefault("lifecycle.session_ttl_days", 30)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("tracing.sample_rate", 1.0)
}

func (c *Config) validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port %d out of range", c.Service.Port)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url must be set")
	}
	if c.Lifecycle.RetentionHotDays < 1 {
		return fmt.Errorf("lifecycle.retention_hot_days must be at least 1")
	}
	if c.Lifecycle.DiskAlertPercent <= 0 || c.Lifecycle.DiskAlertPercent > 100 {
		return fmt.Errorf("lifecycle.disk_alert_percent must be in (0,100]")
	}
	switch c.Router.Policy {
	case "heuristic_only", "heuristic_then_llm", "llm_only":
	default:
		return fmt.Errorf("router.policy %q unknown", c.Router.Policy)
	}
	return nil
}
