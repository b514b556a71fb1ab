// Package telemetry defines the logging, metrics, and tracing interfaces
// used throughout the gateway, and ships Clue/OTEL-backed and no-op
// implementations of each. The interface shapes mirror the teacher's
// runtime telemetry package so call sites read the same way regardless of
// which concrete implementation is wired in.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the gateway.
// Implementations typically delegate to Clue but the interface is
// intentionally small so tests can provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for gateway
// instrumentation: request counts, error counts, token usage, and latency.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so gateway code can remain agnostic of
// the underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// CallTelemetry captures observability metadata collected during a single
// provider adapter call: wall-clock time, tokens, model identity, and a
// free-form extras bag for provider-specific detail (response headers,
// rate-limit state).
type CallTelemetry struct {
	DurationMs int64
	InputTokens  int
	OutputTokens int
	Provider   string
	Model      string
	Extra      map[string]any
}
