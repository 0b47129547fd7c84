package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/payhook"

// Tracer wraps an OpenTelemetry tracer. A nil *Tracer starts no spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer uses the global tracer provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// NewTracerFrom uses tp.
func NewTracerFrom(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// StartAttempt starts a span for one delivery attempt.
func (t *Tracer) StartAttempt(ctx context.Context, jobID, merchantID string, attempt int) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "payhook.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("payhook.job_id", jobID),
			attribute.String("payhook.merchant_id", merchantID),
			attribute.Int("payhook.attempt", attempt),
		),
	)
}

// EndAttempt annotates and ends span.
func (t *Tracer) EndAttempt(span trace.Span, outcome string, statusCode int, latency time.Duration, err error) {
	if t == nil {
		return
	}
	span.SetAttributes(
		attribute.String("payhook.outcome", outcome),
		attribute.Int("http.status_code", statusCode),
		attribute.Int64("payhook.latency_ms", latency.Milliseconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
