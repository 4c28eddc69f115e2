package sensors

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/alextra-lab/personal-agent-sub000/internal/async"
	"github.com/alextra-lab/personal-agent-sub000/internal/logging"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
)

const (
	// DefaultPollInterval keeps one hour of history at the default capacity.
	DefaultPollInterval = 5 * time.Second
	// DefaultEmitInterval spaces sensor_poll telemetry events; every poll
	// still lands in the in-memory window.
	DefaultEmitInterval = time.Minute
	defaultCapacity     = 720
)

// Config tunes the sensor daemon.
type Config struct {
	PollInterval time.Duration
	// EmitInterval decimates sensor_poll telemetry to one event per
	// interval. Polling itself always runs at PollInterval.
	EmitInterval time.Duration
	Capacity     int
	DiskPath     string
	// OnSample is called with every completed reading, on the poll
	// goroutine. Keep it fast.
	OnSample func(Snapshot)
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.EmitInterval <= 0 {
		c.EmitInterval = DefaultEmitInterval
	}
	if c.Capacity <= 0 {
		c.Capacity = defaultCapacity
	}
	if c.DiskPath == "" {
		c.DiskPath = "/"
	}
}

// Daemon polls host metrics in the background. Start and Stop are idempotent.
type Daemon struct {
	cfg       Config
	logger    *logging.Logger
	bus       *telemetry.Bus
	gpu       *gpuProbe
	emitEvery int
	polls     int

	mu      sync.Mutex
	history *ring
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewDaemon(cfg Config, bus *telemetry.Bus, logger *logging.Logger) *Daemon {
	cfg.applyDefaults()
	emitEvery := int(cfg.EmitInterval / cfg.PollInterval)
	if emitEvery < 1 {
		emitEvery = 1
	}
	return &Daemon{
		cfg:       cfg,
		logger:    logging.OrNop(logger).Component("sensors"),
		bus:       bus,
		gpu:       newGPUProbe(),
		emitEvery: emitEvery,
		history:   newRing(cfg.Capacity),
	}
}

// Start begins polling. A second call while running is a no-op.
func (d *Daemon) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.running = true

	d.logger.Info("sensor daemon starting",
		"poll_interval", d.cfg.PollInterval.String(), "gpu_available", d.gpu.Available())
	async.Go(d.logger, "sensor-poll", func() { d.run(ctx) })
}

// Stop halts polling and waits for the poll loop to exit. History survives a
// stop so callers can still inspect the last readings.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done
	d.logger.Info("sensor daemon stopped")
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	// Prime cpu.Percent so the first interval reading is meaningful.
	_, _ = cpu.PercentWithContext(ctx, 0, false)
	d.poll(ctx)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Daemon) poll(ctx context.Context) {
	snap := Snapshot{Timestamp: time.Now().UTC()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	} else if err != nil {
		d.logger.Warn("cpu probe failed", "error", err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryPercent = vm.UsedPercent
		snap.MemoryUsedMB = float64(vm.Used) / (1024 * 1024)
	} else {
		d.logger.Warn("memory probe failed", "error", err)
	}
	if du, err := disk.UsageWithContext(ctx, d.cfg.DiskPath); err == nil {
		snap.DiskPercent = du.UsedPercent
	} else {
		d.logger.Warn("disk probe failed", "error", err, "path", d.cfg.DiskPath)
	}
	if d.gpu.Available() {
		snap.GPUAvailable = true
		if util, memPct, err := d.gpu.read(ctx); err == nil {
			snap.GPUPercent = util
			snap.GPUMemoryPercent = memPct
		}
	}

	d.mu.Lock()
	d.history.push(snap)
	d.mu.Unlock()

	// One sensor_poll event per emit interval; the first poll always emits.
	d.polls++
	if d.bus != nil && (d.polls-1)%d.emitEvery == 0 {
		d.bus.Emit(telemetry.NewEvent("sensor_poll", telemetry.TraceContext{}, map[string]any{
			"cpu_percent":    snap.CPUPercent,
			"memory_percent": snap.MemoryPercent,
			"disk_percent":   snap.DiskPercent,
			"gpu_percent":    snap.GPUPercent,
			"gpu_available":  snap.GPUAvailable,
		}).WithLevel(telemetry.LevelDebug))
	}
	if d.cfg.OnSample != nil {
		d.cfg.OnSample(snap)
	}
}

// Latest returns the most recent snapshot, if any reading has completed.
func (d *Daemon) Latest() (Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history.latest()
}

// Window returns all snapshots taken within the trailing duration, oldest
// first. The slice is a copy.
func (d *Daemon) Window(span time.Duration) []Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history.window(time.Now().UTC().Add(-span))
}

// observe injects a snapshot directly, bypassing the host probes. Test hook.
func (d *Daemon) observe(snap Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history.push(snap)
}
