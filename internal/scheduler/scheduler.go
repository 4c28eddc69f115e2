// Package scheduler runs the maintenance jobs: disk alerts, telemetry
// archiving, retention purges, session cleanup, and idle-time memory
// consolidation. Jobs are cron-driven and skip when a previous run is still
// going.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/sensors"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// Config sets schedules and retention windows.
type Config struct {
	DiskCheckSpec      string
	ArchiveSpec        string
	PurgeSpec          string
	ConsolidationSpec  string
	SessionCleanupSpec string

	DiskAlertPercent float64
	RetentionHotDays int
	SessionTTL       time.Duration

	// Idle gates for consolidation.
	IdleCPUPercent    float64
	IdleMemoryPercent float64
	ConsolidationIdle time.Duration
}

func (c *Config) applyDefaults() {
	if c.DiskCheckSpec == "" {
		c.DiskCheckSpec = "0 * * * *"
	}
	if c.ArchiveSpec == "" {
		c.ArchiveSpec = "0 2 * * *"
	}
	if c.PurgeSpec == "" {
		c.PurgeSpec = "0 3 * * 0"
	}
	if c.ConsolidationSpec == "" {
		c.ConsolidationSpec = "*/30 * * * *"
	}
	if c.SessionCleanupSpec == "" {
		c.SessionCleanupSpec = "30 * * * *"
	}
	if c.DiskAlertPercent <= 0 {
		c.DiskAlertPercent = 85
	}
	if c.RetentionHotDays <= 0 {
		c.RetentionHotDays = 30
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * 24 * time.Hour
	}
	if c.IdleCPUPercent <= 0 {
		c.IdleCPUPercent = 30
	}
	if c.IdleMemoryPercent <= 0 {
		c.IdleMemoryPercent = 70
	}
	if c.ConsolidationIdle <= 0 {
		c.ConsolidationIdle = 10 * time.Minute
	}
}

// Deps are the collaborators jobs act on. Nil fields disable the jobs that
// need them.
type Deps struct {
	Sensors         *sensors.Daemon
	CurrentMode     func() types.Mode
	Archiver        *Archiver
	PurgeIndices    func(ctx context.Context, cutoff time.Time) (int, error)
	CleanupSessions func(ctx context.Context, cutoff time.Time) (int64, error)
	Consolidate     func(ctx context.Context) error
	// LastActivity reports when the most recent conversation turn landed.
	// Zero time means no activity on record.
	LastActivity func(ctx context.Context) (time.Time, error)
}

// Scheduler wires the jobs into a cron runner.
type Scheduler struct {
	cfg    Config
	deps   Deps
	bus    *telemetry.Bus
	logger *logging.Logger
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, deps Deps, bus *telemetry.Bus, logger *logging.Logger) (*Scheduler, error) {
	cfg.applyDefaults()
	log := logging.OrNop(logger).Component("scheduler")

	s := &Scheduler{
		cfg:    cfg,
		deps:   deps,
		bus:    bus,
		logger: log,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger{log}),
			cron.Recover(cronLogger{log}),
		)),
	}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{"disk_check", cfg.DiskCheckSpec, s.runDiskCheck},
		{"archive", cfg.ArchiveSpec, s.runArchive},
		{"purge", cfg.PurgeSpec, s.runPurge},
		{"session_cleanup", cfg.SessionCleanupSpec, s.runSessionCleanup},
		{"consolidation", cfg.ConsolidationSpec, s.runConsolidation},
	}
	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { s.runJob(job.name, job.run) }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// runJob wraps a job with lifecycle events. Exposed to tests so jobs can be
// driven without waiting on cron.
func (s *Scheduler) runJob(name string, run func(ctx context.Context)) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	s.emit("lifecycle_"+name+"_started", telemetry.LevelInfo, nil)
	run(ctx)
	s.emit("lifecycle_"+name+"_completed", telemetry.LevelInfo, map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Scheduler) runDiskCheck(ctx context.Context) {
	if s.deps.Sensors == nil {
		return
	}
	snap, ok := s.deps.Sensors.Latest()
	if !ok {
		return
	}
	if snap.DiskPercent >= s.cfg.DiskAlertPercent {
		s.logger.Warn("disk usage above alert threshold",
			"disk_percent", snap.DiskPercent, "threshold", s.cfg.DiskAlertPercent)
		s.emit("lifecycle_disk_alert", telemetry.LevelWarn, map[string]any{
			"disk_percent": snap.DiskPercent,
			"threshold":    s.cfg.DiskAlertPercent,
		})
	}
}

func (s *Scheduler) runArchive(ctx context.Context) {
	if s.deps.Archiver == nil {
		return
	}
	archived, err := s.deps.Archiver.Run(ctx)
	if err != nil {
		s.logger.Warn("archive job failed", "err", err)
		return
	}
	s.logger.Info("archive job finished", "files", archived)
}

func (s *Scheduler) runPurge(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionHotDays)
	if s.deps.Archiver != nil {
		removed, err := s.deps.Archiver.PurgeOlderThan(cutoff)
		if err != nil {
			s.logger.Warn("archive purge failed", "err", err)
		} else if removed > 0 {
			s.logger.Info("archives purged", "files", removed)
		}
	}
	if s.deps.PurgeIndices != nil {
		removed, err := s.deps.PurgeIndices(ctx, cutoff)
		if err != nil {
			s.logger.Warn("index purge failed", "err", err)
		} else if removed > 0 {
			s.logger.Info("telemetry indices purged", "indices", removed)
		}
	}
}

func (s *Scheduler) runSessionCleanup(ctx context.Context) {
	if s.deps.CleanupSessions == nil {
		return
	}
	cutoff := time.Now().UTC().Add(-s.cfg.SessionTTL)
	if _, err := s.deps.CleanupSessions(ctx, cutoff); err != nil {
		s.logger.Warn("session cleanup failed", "err", err)
	}
}

// runConsolidation triggers memory consolidation only when the host is
// genuinely idle: NORMAL mode, no recent conversation activity, and resource
// usage under the idle gates.
func (s *Scheduler) runConsolidation(ctx context.Context) {
	if s.deps.Consolidate == nil {
		return
	}
	if s.deps.CurrentMode != nil && s.deps.CurrentMode() != types.ModeNormal {
		s.logger.Debug("skipping consolidation, mode not NORMAL")
		return
	}
	if s.deps.LastActivity != nil {
		last, err := s.deps.LastActivity(ctx)
		if err != nil {
			s.logger.Warn("idle check failed, skipping consolidation", "err", err)
			return
		}
		if !last.IsZero() && time.Since(last) < s.cfg.ConsolidationIdle {
			s.logger.Debug("skipping consolidation, recent activity", "last_activity", last)
			return
		}
	}
	if s.deps.Sensors != nil {
		snap, ok := s.deps.Sensors.Latest()
		if !ok || snap.CPUPercent > s.cfg.IdleCPUPercent || snap.MemoryPercent > s.cfg.IdleMemoryPercent {
			s.logger.Debug("skipping consolidation, host busy")
			return
		}
	}
	if err := s.deps.Consolidate(ctx); err != nil {
		s.logger.Warn("consolidation failed", "err", err)
	}
}

func (s *Scheduler) emit(name string, level telemetry.Level, fields map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(telemetry.NewEvent(name, telemetry.TraceContext{}, fields).WithLevel(level))
}

// cronLogger adapts the service logger to cron's logging interface.
type cronLogger struct {
	log *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error(msg, append(keysAndValues, "err", err)...)
}
