// Package observability exposes Prometheus collectors and OpenTelemetry
// tracing for the service. Metrics are fed from the telemetry bus so the
// request path never touches a collector directly.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alextra-lab/personal-agent-sub000/internal/telemetry"
	"github.com/alextra-lab/personal-agent-sub000/internal/types"
)

// Metrics holds the service collectors.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	toolCallsTotal  *prometheus.CounterVec
	modeTransitions *prometheus.CounterVec
	currentMode     *prometheus.GaugeVec
	resourceUsage   *prometheus.GaugeVec
	telemetryEvents *prometheus.CounterVec
}

// MustNewMetrics constructs and registers the collectors. Registration
// conflicts reuse the existing collector so repeated construction in tests
// does not panic; any other registration error does.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "executor",
			Name:      "requests_total",
			Help:      "Requests processed, by final state and routing decision.",
		},
		[]string{"state", "decision"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agent",
			Subsystem: "executor",
			Name:      "request_duration_seconds",
			Help:      "End to end request latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"decision"},
	)
	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool executions, by tool name and outcome.",
		},
		[]string{"tool", "status"},
	)
	modeTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "modes",
			Name:      "transitions_total",
			Help:      "Mode transitions, by source and target mode.",
		},
		[]string{"from", "to"},
	)
	currentMode := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agent",
			Subsystem: "modes",
			Name:      "current",
			Help:      "1 for the current operational mode, 0 otherwise.",
		},
		[]string{"mode"},
	)
	resourceUsage := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agent",
			Subsystem: "sensors",
			Name:      "usage_percent",
			Help:      "Latest sampled resource usage.",
		},
		[]string{"resource"},
	)
	telemetryEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent",
			Subsystem: "telemetry",
			Name:      "events_total",
			Help:      "Telemetry events observed on the bus, by name.",
		},
		[]string{"event"},
	)

	collectors := []prometheus.Collector{
		requestsTotal, requestDuration, toolCallsTotal,
		modeTransitions, currentMode, resourceUsage, telemetryEvents,
	}
	for i, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			collectors[i] = already.ExistingCollector
		}
	}

	return &Metrics{
		requestsTotal:   collectors[0].(*prometheus.CounterVec),
		requestDuration: collectors[1].(*prometheus.HistogramVec),
		toolCallsTotal:  collectors[2].(*prometheus.CounterVec),
		modeTransitions: collectors[3].(*prometheus.CounterVec),
		currentMode:     collectors[4].(*prometheus.GaugeVec),
		resourceUsage:   collectors[5].(*prometheus.GaugeVec),
		telemetryEvents: collectors[6].(*prometheus.CounterVec),
	}
}

// SetMode flips the current-mode gauge to the given mode.
func (m *Metrics) SetMode(mode types.Mode) {
	for _, candidate := range []types.Mode{
		types.ModeNormal, types.ModeAlert, types.ModeDegraded, types.ModeLockdown, types.ModeRecovery,
	} {
		value := 0.0
		if candidate == mode {
			value = 1
		}
		m.currentMode.WithLabelValues(string(candidate)).Set(value)
	}
}

// MetricsSink feeds the collectors from bus events so producers stay
// decoupled from Prometheus.
type MetricsSink struct {
	metrics *Metrics
}

func NewMetricsSink(metrics *Metrics) *MetricsSink {
	return &MetricsSink{metrics: metrics}
}

func (s *MetricsSink) Name() string { return "prometheus" }

func (s *MetricsSink) Write(event telemetry.Event) error {
	s.metrics.telemetryEvents.WithLabelValues(event.EventName).Inc()

	switch event.EventName {
	case "request_trace":
		state, _ := event.Fields["state"].(string)
		decision, _ := event.Fields["decision"].(string)
		s.metrics.requestsTotal.WithLabelValues(state, decision).Inc()
		if totalMs, ok := event.Fields["total_ms"].(float64); ok {
			s.metrics.requestDuration.WithLabelValues(decision).Observe(totalMs / 1000)
		}
	case "tool_call_completed":
		tool, _ := event.Fields["tool"].(string)
		s.metrics.toolCallsTotal.WithLabelValues(tool, "success").Inc()
	case "tool_call_failed":
		tool, _ := event.Fields["tool"].(string)
		s.metrics.toolCallsTotal.WithLabelValues(tool, "failure").Inc()
	case "mode_transition":
		from, _ := event.Fields["from"].(string)
		to, _ := event.Fields["to"].(string)
		s.metrics.modeTransitions.WithLabelValues(from, to).Inc()
		s.metrics.SetMode(types.Mode(to))
	case "sensor_poll":
		s.gauge("cpu", event.Fields["cpu_percent"])
		s.gauge("memory", event.Fields["memory_percent"])
		s.gauge("disk", event.Fields["disk_percent"])
		s.gauge("gpu", event.Fields["gpu_percent"])
	}
	return nil
}

func (s *MetricsSink) gauge(resource string, value any) {
	if v, ok := value.(float64); ok {
		s.metrics.resourceUsage.WithLabelValues(resource).Set(v)
	}
}

func (s *MetricsSink) Close() error { return nil }
