// Package telemetry defines the logging, metrics and tracing contracts used
// by the ingestion and retrieval paths, with Clue/OpenTelemetry and no-op
// implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log lines as alternating key/value pairs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters and histograms. Tags alternate keys and
	// values.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
	}

	// Tracer starts spans.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is an in-flight span.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// Set groups the three collaborators so components take a single value.
	Set struct {
		Logger  Logger
		Metrics Metrics
		Tracer  Tracer
	}
)

// Metric names.
const (
	MetricMessagesStored    = "acontext.messages.stored"
	MetricMessagesRejected  = "acontext.messages.rejected"
	MetricRetrievals        = "acontext.retrievals"
	MetricRetrievalDuration = "acontext.retrieval.duration"
	MetricStrategyRemoved   = "acontext.editing.removed"
	MetricTokenCounterError = "acontext.tokens.errors"
)

// Clue returns a Set backed by Clue logging and the global OpenTelemetry
// providers.
func Clue() Set {
	return Set{Logger: NewClueLogger(), Metrics: NewClueMetrics(), Tracer: NewClueTracer()}
}

// Noop returns a Set that discards everything.
func Noop() Set {
	return Set{Logger: NewNoopLogger(), Metrics: NewNoopMetrics(), Tracer: NewNoopTracer()}
}

// WithDefaults fills nil collaborators with no-op implementations.
func (s Set) WithDefaults() Set {
	if s.Logger == nil {
		s.Logger = NewNoopLogger()
	}
	if s.Metrics == nil {
		s.Metrics = NewNoopMetrics()
	}
	if s.Tracer == nil {
		s.Tracer = NewNoopTracer()
	}
	return s
}
