// Package monitor measures host resource usage over the lifetime of a single
// request, summarised into the trace record when the request completes.
package monitor

import (
	"time"

	"github.com/alextra-lab/personal-agent-sub000/internal/governance"
	"github.com/alextra-lab/personal-agent-sub000/internal/sensors"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
)

// Stats summarise one metric across the request window.
type Stats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Summary is the per-request resource report. ThresholdViolations names each
// threshold exceeded by at least one sample during the request.
type Summary struct {
	Start               time.Time `json:"start"`
	End                 time.Time `json:"end"`
	DurationSeconds     float64   `json:"duration_s"`
	SampleCount         int       `json:"sample_count"`
	CPU                 Stats     `json:"cpu"`
	Memory              Stats     `json:"memory"`
	GPU                 *Stats    `json:"gpu,omitempty"`
	ThresholdViolations []string  `json:"threshold_violations,omitempty"`
}

// Fields renders the summary for a telemetry event.
func (s Summary) Fields() map[string]any {
	fields := map[string]any{
		"duration_s":           s.DurationSeconds,
		"sample_count":         s.SampleCount,
		"cpu_min":              s.CPU.Min,
		"cpu_max":              s.CPU.Max,
		"cpu_avg":              s.CPU.Avg,
		"memory_min":           s.Memory.Min,
		"memory_max":           s.Memory.Max,
		"memory_avg":           s.Memory.Avg,
		"threshold_violations": s.ThresholdViolations,
	}
	if s.GPU != nil {
		fields["gpu_min"] = s.GPU.Min
		fields["gpu_max"] = s.GPU.Max
		fields["gpu_avg"] = s.GPU.Avg
	}
	return fields
}

// SnapshotSource is the slice of sensor history a monitor reads. Satisfied by
// the sensor daemon.
type SnapshotSource interface {
	Window(span time.Duration) []sensors.Snapshot
}

// Monitor is bound to one trace at request start and closed at completion.
type Monitor struct {
	trace      telemetry.TraceContext
	source     SnapshotSource
	thresholds governance.Thresholds
	start      time.Time
}

// Start binds a monitor to the request's trace. Thresholds are those of the
// mode the request is running under.
func Start(trace telemetry.TraceContext, source SnapshotSource, thresholds governance.Thresholds) *Monitor {
	return &Monitor{
		trace:      trace,
		source:     source,
		thresholds: thresholds,
		start:      time.Now().UTC(),
	}
}

// TraceID returns the trace the monitor is bound to.
func (m *Monitor) TraceID() string { return m.trace.TraceID }

// Stop summarises the sensor samples taken while the request ran.
func (m *Monitor) Stop() Summary {
	end := time.Now().UTC()
	summary := Summary{
		Start:           m.start,
		End:             end,
		DurationSeconds: end.Sub(m.start).Seconds(),
	}
	if m.source == nil {
		return summary
	}

	samples := m.source.Window(end.Sub(m.start))
	summary.SampleCount = len(samples)
	if len(samples) == 0 {
		return summary
	}

	var cpu, mem, gpu accumulator
	gpuSeen := false
	violated := make(map[string]bool)
	for _, s := range samples {
		cpu.add(s.CPUPercent)
		mem.add(s.MemoryPercent)
		if s.GPUAvailable {
			gpu.add(s.GPUPercent)
			gpuSeen = true
		}
		m.markViolations(s, violated)
	}
	summary.CPU = cpu.stats()
	summary.Memory = mem.stats()
	if gpuSeen {
		g := gpu.stats()
		summary.GPU = &g
	}
	for _, name := range []string{"cpu_percent", "memory_percent", "disk_percent", "gpu_percent"} {
		if violated[name] {
			summary.ThresholdViolations = append(summary.ThresholdViolations, name)
		}
	}
	return summary
}

func (m *Monitor) markViolations(s sensors.Snapshot, violated map[string]bool) {
	th := m.thresholds
	if th.CPUPercent > 0 && s.CPUPercent > th.CPUPercent {
		violated["cpu_percent"] = true
	}
	if th.MemoryPercent > 0 && s.MemoryPercent > th.MemoryPercent {
		violated["memory_percent"] = true
	}
	if th.DiskPercent > 0 && s.DiskPercent > th.DiskPercent {
		violated["disk_percent"] = true
	}
	if th.GPUPercent > 0 && s.GPUAvailable && s.GPUPercent > th.GPUPercent {
		violated["gpu_percent"] = true
	}
}

type accumulator struct {
	min, max, sum float64
	n             int
}

func (a *accumulator) add(v float64) {
	if a.n == 0 || v < a.min {
		a.min = v
	}
	if a.n == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.n++
}

func (a *accumulator) stats() Stats {
	if a.n == 0 {
		return Stats{}
	}
	return Stats{Min: a.min, Max: a.max, Avg: a.sum / float64(a.n)}
}
