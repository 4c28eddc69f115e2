package builtin

import (
	"context"
	"encoding/json"

	"github.com/alextra-lab/personal-agent-sub000/internal/sensors"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// MetricsProvider exposes the latest sensor reading. Satisfied by the sensor
// daemon.
type MetricsProvider interface {
	Latest() (sensors.Snapshot, bool)
}

// SystemMetrics reports the most recent host resource snapshot.
type SystemMetrics struct {
	Provider MetricsProvider
}

func (SystemMetrics) Name() string { return "system_metrics_snapshot" }

func (SystemMetrics) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "system_metrics_snapshot",
		Description: "Report the latest CPU, memory, disk, and GPU usage of the host.",
		Parameters: types.ParameterSchema{
			Type:       "object",
			Properties: map[string]types.Property{},
		},
		TimeoutSeconds: 5,
	}
}

func (t SystemMetrics) Execute(ctx context.Context, args map[string]any) (*types.ToolResult, error) {
	if t.Provider == nil {
		return failure("system_metrics_snapshot", "sensor daemon not running"), nil
	}
	snap, ok := t.Provider.Latest()
	if !ok {
		return failure("system_metrics_snapshot", "no sensor reading available yet"), nil
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return failure("system_metrics_snapshot", err.Error()), nil
	}
	return &types.ToolResult{
		ToolName: "system_metrics_snapshot",
		Success:  true,
		Output:   string(data),
		Metadata: map[string]any{
			"cpu_percent":    snap.CPUPercent,
			"memory_percent": snap.MemoryPercent,
			"disk_percent":   snap.DiskPercent,
		},
	}, nil
}
