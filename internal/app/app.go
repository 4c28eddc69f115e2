// Package app assembles the service: telemetry bus and sinks, governance,
// sensors, modes, router, tools, sessions, memory, scheduler, executor, and
// the HTTP server, in dependency order with a matching shutdown order.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alextra-lab/personal-agent-sub000/internal/async"
	"github.com/alextra-lab/personal-agent-sub000/internal/brain"
	"github.com/alextra-lab/personal-agent-sub000/internal/config"
	"github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/executor"
	"github.com/alextra-lab/personal-agent-sub000/internal/governance"
	"github.com/alextra-lab/personal-agent-sub000/internal/llm"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/mcp"
	"github.com/alextra-lab/personal-agent-sub000/internal/modes"
	"github.com/alextra-lab/personal-agent-sub000/internal/observability"
	"github.com/alextra-lab/personal-agent-sub000/internal/reflection"
	"github.com/alextra-lab/personal-agent-sub000/internal/router"
	"github.com/alextra-lab/personal-agent-sub000/internal/scheduler"
	"github.com/alextra-lab/personal-agent-sub000/internal/sensors"
	"github.com/alextra-lab/personal-agent-sub000/internal/server"
	"github.com/alextra-lab/personal-agent-sub000/internal/session"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry/essink"
	"github.com/alextra-lab/personal-agent-sub000/internal/tools"
	"github.com/alextra-lab/personal-agent-sub000/internal/tools/builtin"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// App owns every long-lived component.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	tracing  *observability.TracerProvider
	bus      *telemetry.Bus
	search   *essink.Sink

	policy   *governance.Store
	sensors  *sensors.Daemon
	modes    *modes.Manager
	llm      llm.Client
	router   *router.Router
	tools    *tools.Registry
	toolExec *tools.Executor
	gateway  *mcp.Gateway
	sessions *session.Store
	memory   *brain.Memory
	journal  *reflection.Writer
	sched    *scheduler.Scheduler
	executor *executor.Executor
	server   *server.Server

	mu               sync.Mutex
	lastConsolidated time.Time
}

// New constructs every component without starting any of them. approver may
// be nil; high-risk tool calls are then denied outright.
func New(cfg *config.Config, logger *logging.Logger, approver tools.Approver) (*App, error) {
	a := &App{cfg: cfg, logger: logging.OrNop(logger).Component("app")}

	a.registry = prometheus.NewRegistry()
	a.metrics = observability.MustNewMetrics(a.registry)

	tracing, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracing = tracing

	sinks, err := a.buildSinks(logger)
	if err != nil {
		return nil, err
	}
	a.bus = telemetry.NewBus(logger, cfg.Telemetry.BufferSize, sinks...)

	a.policy, err = loadPolicy(cfg.Governance.PolicyPath, logger)
	if err != nil {
		return nil, err
	}

	a.modes = modes.NewManager(a.policy, a.bus, logger)
	a.metrics.SetMode(a.modes.Current())

	a.sensors = sensors.NewDaemon(sensors.Config{
		PollInterval: cfg.Sensors.PollInterval(),
		EmitInterval: cfg.Sensors.EmitInterval(),
		Capacity:     cfg.Sensors.WindowCapacity,
		DiskPath:     cfg.Sensors.DiskPath,
		OnSample:     a.modes.EvaluateFromMetrics,
	}, a.bus, logger)

	a.llm = llm.NewRetryingClient(llm.NewOpenAIClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Models:  roleModels(cfg.LLM.Models),
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}, logger), errors.DefaultRetryConfig(), logger)

	a.router, err = router.New(router.Config{
		Policy:              router.Policy(cfg.Router.Policy),
		ConfidenceThreshold: cfg.Router.ConfidenceThreshold,
	}, a.llm, a.policy, a.bus, logger)
	if err != nil {
		return nil, fmt.Errorf("init router: %w", err)
	}

	a.tools = tools.NewRegistry()
	if err := registerBuiltins(a.tools, a.sensors); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}
	a.toolExec = tools.NewExecutor(tools.ExecutorConfig{}, a.tools, a.policy, approver, a.bus, logger)

	if cfg.MCP.GatewayEnabled {
		command, args, err := mcp.ParseCommand(cfg.MCP.GatewayCommand)
		if err != nil {
			return nil, fmt.Errorf("mcp gateway command: %w", err)
		}
		process := mcp.NewProcess(mcp.ProcessConfig{Command: command, Args: args}, logger)
		a.gateway = mcp.NewGateway(mcp.NewClient(process, logger), a.tools, a.policy, logger)
	}

	a.sessions, err = session.Open(sessionDBPath(cfg), 0, logger)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	a.memory, err = brain.Open(brain.Config{
		PersistPath:      filepath.Join(cfg.Service.DataDir, "memory"),
		EmbeddingBaseURL: cfg.Memory.EmbeddingBaseURL,
		EmbeddingModel:   cfg.Memory.EmbeddingModel,
		APIKey:           cfg.LLM.APIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}

	a.journal, err = reflection.NewWriter(filepath.Join(cfg.Service.DataDir, "reflections"), logger)
	if err != nil {
		return nil, fmt.Errorf("open reflection journal: %w", err)
	}

	a.executor = executor.New(executor.Config{
		MaxToolIterations:    cfg.Executor.MaxToolIterations,
		MaxRepeatedToolCalls: cfg.Executor.MaxRepeatedToolCalls,
		ContextWindowTokens:  cfg.Executor.ContextWindowTokens,
	}, executor.Deps{
		LLM:      a.llm,
		Router:   a.router,
		Tools:    a.toolExec,
		Registry: a.tools,
		Store:    a.policy,
		Sessions: a.sessions,
		Sensors:  a.sensors,
		Journal:  a.journal,
		Bus:      a.bus,
		Mode:     a.modes.Current,
	}, logger)

	if cfg.Lifecycle.Enabled {
		if a.sched, err = a.buildScheduler(logger); err != nil {
			return nil, fmt.Errorf("init scheduler: %w", err)
		}
	}

	a.server = server.New(server.Config{Port: cfg.Service.Port, EnableCORS: true}, server.Deps{
		Runner:     a.executor,
		Sessions:   a.sessions,
		Modes:      a.modes,
		Sensors:    a.sensors,
		Registry:   a.registry,
		Components: a.componentStatus,
	}, logger)

	return a, nil
}

func (a *App) buildSinks(logger *logging.Logger) ([]telemetry.Sink, error) {
	sinks := []telemetry.Sink{observability.NewMetricsSink(a.metrics)}

	jsonlDir := a.cfg.Telemetry.JSONLDir
	if jsonlDir == "" {
		jsonlDir = filepath.Join(a.cfg.Service.DataDir, "telemetry")
	}
	jsonl, err := telemetry.NewJSONLSink(telemetry.JSONLConfig{
		Path: filepath.Join(jsonlDir, "events.jsonl"),
	})
	if err != nil {
		return nil, fmt.Errorf("open telemetry log: %w", err)
	}
	sinks = append(sinks, jsonl)

	if url := a.cfg.Telemetry.ElasticsearchURL; url != "" {
		a.search, err = essink.New(essink.Config{
			BaseURL:     url,
			IndexPrefix: "agent",
			BufferDir:   filepath.Join(a.cfg.Service.DataDir, "telemetry", "spill"),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open search sink: %w", err)
		}
		sinks = append(sinks, a.search)
	}
	return sinks, nil
}

func (a *App) buildScheduler(logger *logging.Logger) (*scheduler.Scheduler, error) {
	jsonlDir := a.cfg.Telemetry.JSONLDir
	if jsonlDir == "" {
		jsonlDir = filepath.Join(a.cfg.Service.DataDir, "telemetry")
	}
	archiver := scheduler.NewArchiver(filepath.Join(a.cfg.Service.DataDir, "archive"), []scheduler.Source{
		{Type: "telemetry", Dir: jsonlDir, MinAge: 24 * time.Hour},
		{Type: "reflections", Dir: filepath.Join(a.cfg.Service.DataDir, "reflections"), MinAge: 24 * time.Hour},
	}, logger)

	deps := scheduler.Deps{
		Sensors:         a.sensors,
		CurrentMode:     a.modes.Current,
		Archiver:        archiver,
		CleanupSessions: a.sessions.DeleteIdleBefore,
		Consolidate:     a.consolidate,
		LastActivity:    a.lastActivity,
	}
	if a.search != nil {
		deps.PurgeIndices = a.search.DeleteIndicesOlderThan
	}
	return scheduler.New(scheduler.Config{
		DiskAlertPercent: a.cfg.Lifecycle.DiskAlertPercent,
		RetentionHotDays: a.cfg.Lifecycle.RetentionHotDays,
		SessionTTL:       a.cfg.Lifecycle.SessionTTL(),
	}, deps, a.bus, logger)
}

// Run starts the background components and the HTTP server, then blocks
// until ctx is cancelled and everything has shut down.
func (a *App) Run(ctx context.Context) error {
	a.sensors.Start(ctx)
	if a.sched != nil {
		a.sched.Start(ctx)
	}
	if a.gateway != nil {
		// A broken gateway only loses MCP tools, never the service.
		if err := a.gateway.Connect(ctx); err != nil {
			a.logger.Warn("mcp gateway unavailable, continuing without it", "err", err)
			a.gateway = nil
		}
	}

	serveErr := make(chan error, 1)
	async.Go(a.logger, "http-serve", func() { serveErr <- a.server.Start() })

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	a.Shutdown()
	return err
}

// Shutdown stops components in reverse dependency order. Safe to call after
// a failed Run.
func (a *App) Shutdown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Stop(stopCtx); err != nil {
		a.logger.Warn("http shutdown failed", "err", err)
	}
	if a.gateway != nil {
		if err := a.gateway.Close(); err != nil {
			a.logger.Warn("mcp gateway close failed", "err", err)
		}
	}
	if a.sched != nil {
		a.sched.Stop()
	}
	a.sensors.Stop()
	if err := a.bus.Close(); err != nil {
		a.logger.Warn("telemetry bus close failed", "err", err)
	}
	if err := a.sessions.Close(); err != nil {
		a.logger.Warn("session store close failed", "err", err)
	}
	if err := a.tracing.Shutdown(stopCtx); err != nil {
		a.logger.Warn("tracer shutdown failed", "err", err)
	}
}

// Executor exposes the request runner for in-process callers.
func (a *App) Executor() *executor.Executor { return a.executor }

// Sessions exposes the session store for in-process callers.
func (a *App) Sessions() *session.Store { return a.sessions }

// Modes exposes the mode manager.
func (a *App) Modes() *modes.Manager { return a.modes }

// Memory exposes the long-term memory store.
func (a *App) Memory() *brain.Memory { return a.memory }

// componentStatus reports cheap per-component states for /health. No probe
// touches the network; this must stay fast enough for load balancers.
func (a *App) componentStatus() map[string]string {
	status := map[string]string{
		"llm": "configured",
		"db":  "open",
	}
	if _, ok := a.sensors.Latest(); ok {
		status["sensors"] = "running"
	} else {
		status["sensors"] = "no_data"
	}
	if a.gateway != nil {
		status["mcp"] = "connected"
	} else {
		status["mcp"] = "disabled"
	}
	if a.search != nil {
		status["search_index"] = "enabled"
	} else {
		status["search_index"] = "disabled"
	}
	if a.sched != nil {
		status["lifecycle"] = "enabled"
	} else {
		status["lifecycle"] = "disabled"
	}
	return status
}

// lastActivity reports when any session last recorded a turn. Sessions are
// listed newest-first, so one row answers it.
func (a *App) lastActivity(ctx context.Context) (time.Time, error) {
	summaries, err := a.sessions.List(ctx, 1)
	if err != nil {
		return time.Time{}, err
	}
	if len(summaries) == 0 {
		return time.Time{}, nil
	}
	return summaries[0].UpdatedAt, nil
}

// consolidate folds recently active conversations into long-term memory.
// Runs only when the scheduler judged the host idle.
func (a *App) consolidate(ctx context.Context) error {
	a.mu.Lock()
	since := a.lastConsolidated
	a.lastConsolidated = time.Now().UTC()
	a.mu.Unlock()

	summaries, err := a.sessions.List(ctx, 20)
	if err != nil {
		return err
	}
	for _, summary := range summaries {
		if !summary.UpdatedAt.After(since) {
			continue
		}
		sess, err := a.sessions.Get(ctx, summary.ID)
		if err != nil {
			continue
		}
		if content := transcriptTail(sess.Messages, 6); content != "" {
			if err := a.memory.StoreConversation(ctx, sess.ID, content); err != nil {
				a.logger.Warn("memory consolidation failed for session", "session_id", sess.ID, "err", err)
			}
		}
	}
	return nil
}

// transcriptTail renders the last n user and assistant turns as plain text.
func transcriptTail(messages []types.Message, n int) string {
	var turns []string
	for _, msg := range messages {
		if msg.Role != types.RoleUser && msg.Role != types.RoleAssistant {
			continue
		}
		if msg.Content == "" {
			continue
		}
		turns = append(turns, string(msg.Role)+": "+msg.Content)
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return strings.Join(turns, "\n")
}

func registerBuiltins(registry *tools.Registry, daemon *sensors.Daemon) error {
	builtins := []tools.Tool{
		builtin.ReadFile{},
		builtin.WriteFile{},
		builtin.ListDirectory{},
		builtin.SearchText{},
		builtin.SystemMetrics{Provider: daemon},
	}
	for _, tool := range builtins {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// loadPolicy reads the policy file, falling back to the built-in default
// when no file exists so a fresh install starts governed.
func loadPolicy(path string, logger *logging.Logger) (*governance.Store, error) {
	store, err := governance.Load(path, logger)
	if err == nil {
		return store, nil
	}
	if !stderrors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	logging.OrNop(logger).Component("app").Warn("policy file missing, using built-in defaults", "path", path)
	return governance.NewFromDocument(DefaultPolicy(), logger)
}

func roleModels(models map[string]string) map[types.ModelRole]string {
	out := make(map[types.ModelRole]string, len(models))
	for role, model := range models {
		out[types.ModelRole(strings.ToUpper(role))] = model
	}
	return out
}

func sessionDBPath(cfg *config.Config) string {
	if cfg.Service.DatabaseURL != "" {
		return cfg.Service.DatabaseURL
	}
	return filepath.Join(cfg.Service.DataDir, "sessions.db")
}
