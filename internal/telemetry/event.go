package telemetry

import "time"

// Level is the severity attached to an event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one append-only telemetry record. Events are never mutated after
// emission; sinks receive the same value the caller handed to the bus.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	EventName string         `json:"event_name"`
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id,omitempty"`
	Level     Level          `json:"level"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// NewEvent builds an info-level event stamped with the current time.
func NewEvent(name string, trace TraceContext, fields map[string]any) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		EventName: name,
		TraceID:   trace.TraceID,
		Level:     LevelInfo,
		Fields:    fields,
	}
}

// WithLevel returns a copy of the event at the given level.
func (e Event) WithLevel(level Level) Event {
	e.Level = level
	return e
}
