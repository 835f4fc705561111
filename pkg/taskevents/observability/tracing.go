package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the taskevents tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("taskevents")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartEmitSpan starts a span for a coordinator emission.
	StartEmitSpan(ctx context.Context, eventType, emissionID string) (context.Context, trace.Span)

	// StartIntegrationSpan starts a span for a single integration invocation.
	// It should be a child of the emit span.
	StartIntegrationSpan(ctx context.Context, integration string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartEmitSpan starts a span for a coordinator emission.
func (m *otelSpanManager) StartEmitSpan(ctx context.Context, eventType, emissionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "taskevents.emit",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("emission.id", emissionID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartIntegrationSpan starts a span for an integration invocation.
func (m *otelSpanManager) StartIntegrationSpan(ctx context.Context, integration string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "taskevents.integration."+integration,
		trace.WithAttributes(
			attribute.String("integration.name", integration),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
