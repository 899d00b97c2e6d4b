package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartPublishSpan starts a producer span for one publish call.
	StartPublishSpan(ctx context.Context, kind string) (context.Context, trace.Span)

	// StartDispatchSpan starts a consumer span for one envelope. The span
	// is linked to the publish span so the two can be correlated even
	// though dispatch runs on the worker goroutine.
	StartDispatchSpan(ctx context.Context, eventID, kind string, publish trace.SpanContext) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider as configured at
// the time of the call:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{tracer: otel.Tracer("eventbus")}
}

// StartPublishSpan starts a producer span.
func (m *otelSpanManager) StartPublishSpan(ctx context.Context, kind string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "eventbus.publish",
		trace.WithAttributes(
			attribute.String("event.kind", kind),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// StartDispatchSpan starts a consumer span linked to the publish span.
func (m *otelSpanManager) StartDispatchSpan(ctx context.Context, eventID, kind string, publish trace.SpanContext) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{
		trace.WithAttributes(
			attribute.String("event.id", eventID),
			attribute.String("event.kind", kind),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	}
	if publish.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: publish}))
	}
	return m.tracer.Start(ctx, "eventbus.dispatch", opts...)
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
