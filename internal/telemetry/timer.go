package telemetry

import (
	"strings"
	"sync"
	"time"
)

// Phase buckets a timed span for aggregation.
type Phase string

const (
	PhaseSetup         Phase = "setup"
	PhaseContext       Phase = "context"
	PhaseRouting       Phase = "routing"
	PhaseLLMInference  Phase = "llm_inference"
	PhaseToolExecution Phase = "tool_execution"
	PhaseSynthesis     Phase = "synthesis"
	PhasePersistence   Phase = "persistence"
	PhaseOther         Phase = "other"
)

// phasePrefixes maps span-name prefixes to phases. The table is fixed; an
// unknown prefix classifies as PhaseOther.
var phasePrefixes = []struct {
	prefix string
	phase  Phase
}{
	{"setup", PhaseSetup},
	{"init", PhaseSetup},
	{"context", PhaseContext},
	{"memory", PhaseContext},
	{"routing", PhaseRouting},
	{"route", PhaseRouting},
	{"llm_call", PhaseLLMInference},
	{"llm", PhaseLLMInference},
	{"tool_execution", PhaseToolExecution},
	{"tool", PhaseToolExecution},
	{"synthesis", PhaseSynthesis},
	{"synthesize", PhaseSynthesis},
	{"persistence", PhasePersistence},
	{"persist", PhasePersistence},
}

// ClassifyPhase derives the phase from a span name prefix.
func ClassifyPhase(name string) Phase {
	for _, entry := range phasePrefixes {
		if name == entry.prefix || strings.HasPrefix(name, entry.prefix+":") || strings.HasPrefix(name, entry.prefix+"_") {
			return entry.phase
		}
	}
	return PhaseOther
}

// TimingSpan is one finalised timed segment within a request.
type TimingSpan struct {
	Name       string         `json:"name"`
	Sequence   int            `json:"sequence"`
	Phase      Phase          `json:"phase"`
	OffsetMs   float64        `json:"offset_ms"`
	DurationMs float64        `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PhaseSummary aggregates the spans of one phase.
type PhaseSummary struct {
	DurationMs float64 `json:"duration_ms"`
	Steps      int     `json:"steps"`
}

// Summary is the whole-request timing rollup.
type Summary struct {
	TotalMs    float64                `json:"total_ms"`
	TotalSteps int                    `json:"total_steps"`
	Phases     map[Phase]PhaseSummary `json:"phases"`
}

// Timer times the phases of a single request. The sequence counter is
// monotone within one Timer; End of an unknown span is a no-op returning 0.
type Timer struct {
	mu      sync.Mutex
	started time.Time
	seq     int
	open    map[string]openSpan
	spans   []TimingSpan
}

type openSpan struct {
	seq   int
	start time.Time
}

// NewTimer creates a Timer anchored at the current time.
func NewTimer() *Timer {
	return &Timer{
		started: time.Now(),
		open:    make(map[string]openSpan),
	}
}

// Start opens a span with the given name. Starting an already-open name
// restarts it.
func (t *Timer) Start(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[name] = openSpan{seq: t.seq, start: time.Now()}
	t.seq++
}

// End finalises the named span and returns its duration in milliseconds.
// Ending a span that was never started returns 0.
func (t *Timer) End(name string, metadata map[string]any) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	span, ok := t.open[name]
	if !ok {
		return 0
	}
	delete(t.open, name)

	now := time.Now()
	durationMs := float64(now.Sub(span.start).Microseconds()) / 1000.0
	t.spans = append(t.spans, TimingSpan{
		Name:       name,
		Sequence:   span.seq,
		Phase:      ClassifyPhase(name),
		OffsetMs:   float64(span.start.Sub(t.started).Microseconds()) / 1000.0,
		DurationMs: durationMs,
		Metadata:   metadata,
	})
	return durationMs
}

// Breakdown returns the finalised spans in end order.
func (t *Timer) Breakdown() []TimingSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TimingSpan, len(t.spans))
	copy(out, t.spans)
	return out
}

// Summarize rolls the finalised spans up by phase.
func (t *Timer) Summarize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := Summary{Phases: make(map[Phase]PhaseSummary)}
	for _, span := range t.spans {
		summary.TotalMs += span.DurationMs
		summary.TotalSteps++
		phase := summary.Phases[span.Phase]
		phase.DurationMs += span.DurationMs
		phase.Steps++
		summary.Phases[span.Phase] = phase
	}
	return summary
}
