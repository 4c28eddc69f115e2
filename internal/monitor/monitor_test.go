package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alextra-lab/personal-agent-sub000/internal/governance"
	"github.com/alextra-lab/personal-agent-sub000/internal/sensors"
	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
)

type fixedSource struct {
	samples []sensors.Snapshot
}

func (f fixedSource) Window(span time.Duration) []sensors.Snapshot { return f.samples }

func TestStopSummarisesSamples(t *testing.T) {
	source := fixedSource{samples: []sensors.Snapshot{
		{CPUPercent: 20, MemoryPercent: 50},
		{CPUPercent: 60, MemoryPercent: 70},
		{CPUPercent: 40, MemoryPercent: 60},
	}}
	m := Start(telemetry.TraceContext{TraceID: "t1"}, source, governance.Thresholds{CPUPercent: 50})

	summary := m.Stop()
	assert.Equal(t, "t1", m.TraceID())
	assert.Equal(t, 3, summary.SampleCount)
	assert.Equal(t, 20.0, summary.CPU.Min)
	assert.Equal(t, 60.0, summary.CPU.Max)
	assert.Equal(t, 40.0, summary.CPU.Avg)
	assert.Equal(t, 60.0, summary.Memory.Avg)
	assert.Nil(t, summary.GPU)
	assert.Equal(t, []string{"cpu_percent"}, summary.ThresholdViolations)
	assert.GreaterOrEqual(t, summary.DurationSeconds, 0.0)
}

func TestStopWithGPUSamples(t *testing.T) {
	source := fixedSource{samples: []sensors.Snapshot{
		{CPUPercent: 10, GPUAvailable: true, GPUPercent: 80},
		{CPUPercent: 10, GPUAvailable: true, GPUPercent: 90},
	}}
	m := Start(telemetry.TraceContext{}, source, governance.Thresholds{GPUPercent: 85})

	summary := m.Stop()
	assert.NotNil(t, summary.GPU)
	assert.Equal(t, 85.0, summary.GPU.Avg)
	assert.Equal(t, []string{"gpu_percent"}, summary.ThresholdViolations)

	fields := summary.Fields()
	assert.Equal(t, 90.0, fields["gpu_max"])
	assert.Equal(t, []string{"gpu_percent"}, fields["threshold_violations"])
}

func TestThresholdNamesListedOnce(t *testing.T) {
	source := fixedSource{samples: []sensors.Snapshot{
		{CPUPercent: 80, MemoryPercent: 90},
		{CPUPercent: 85, MemoryPercent: 40},
		{CPUPercent: 20, MemoryPercent: 30},
	}}
	m := Start(telemetry.TraceContext{}, source, governance.Thresholds{CPUPercent: 50, MemoryPercent: 75, DiskPercent: 95})

	summary := m.Stop()
	// Repeated breaches collapse to one entry per threshold; untouched
	// thresholds never appear.
	assert.Equal(t, []string{"cpu_percent", "memory_percent"}, summary.ThresholdViolations)
}

func TestStopWithoutSamples(t *testing.T) {
	m := Start(telemetry.TraceContext{}, fixedSource{}, governance.Thresholds{})
	summary := m.Stop()
	assert.Equal(t, 0, summary.SampleCount)
	assert.Equal(t, Stats{}, summary.CPU)

	m = Start(telemetry.TraceContext{}, nil, governance.Thresholds{})
	assert.Equal(t, 0, m.Stop().SampleCount)
}
