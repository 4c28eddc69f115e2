// Package telemetry implements the trace and telemetry bus: trace contexts,
// structured events fanned out to sinks, and the per-request phase timer.
package telemetry

import "github.com/google/uuid"

// TraceContext identifies one request through every component it touches.
type TraceContext struct {
	TraceID      string `json:"trace_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
}

// NewTrace creates a fresh trace context for an incoming request.
func NewTrace() TraceContext {
	return TraceContext{TraceID: uuid.NewString()}
}

// NewSpan derives a child context from parent and returns the new span ID.
func NewSpan(parent TraceContext) (TraceContext, string) {
	spanID := uuid.NewString()
	return TraceContext{TraceID: parent.TraceID, ParentSpanID: spanID}, spanID
}
