package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder exports bus metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublished records an accepted publish.
	RecordPublished(ctx context.Context, kind string)

	// RecordDispatch records the outcome of dispatching one envelope.
	// A nil err means the envelope reached processed.
	RecordDispatch(ctx context.Context, kind string, duration time.Duration, err error)

	// RecordHandler records one handler invocation.
	RecordHandler(ctx context.Context, kind string, err error)

	// RecordPersistenceError records a failed log operation.
	RecordPersistenceError(ctx context.Context, op string)

	// RecordQueueDepth adjusts the queue depth gauge by delta.
	RecordQueueDepth(ctx context.Context, delta int64)

	// RecordResubmitted records envelopes fed back through publish by
	// replay or retry.
	RecordResubmitted(ctx context.Context, op string, count int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	published         metric.Int64Counter
	processed         metric.Int64Counter
	failed            metric.Int64Counter
	dispatchLatency   metric.Float64Histogram
	handlersExecuted  metric.Int64Counter
	handlersFailed    metric.Int64Counter
	persistenceErrors metric.Int64Counter
	queueDepth        metric.Int64UpDownCounter
	resubmitted       metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventbus")
	m := &otelMetrics{}
	var err error

	if m.published, err = meter.Int64Counter("eventbus.events.published",
		metric.WithDescription("Number of events accepted by publish"),
	); err != nil {
		return nil, err
	}

	if m.processed, err = meter.Int64Counter("eventbus.events.processed",
		metric.WithDescription("Number of envelopes that completed dispatch"),
	); err != nil {
		return nil, err
	}

	if m.failed, err = meter.Int64Counter("eventbus.events.failed",
		metric.WithDescription("Number of envelopes that failed outside any handler"),
	); err != nil {
		return nil, err
	}

	if m.dispatchLatency, err = meter.Float64Histogram("eventbus.dispatch.latency_ms",
		metric.WithDescription("Envelope dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.handlersExecuted, err = meter.Int64Counter("eventbus.handlers.executed",
		metric.WithDescription("Number of handler invocations that returned without error"),
	); err != nil {
		return nil, err
	}

	if m.handlersFailed, err = meter.Int64Counter("eventbus.handlers.failed",
		metric.WithDescription("Number of handler invocations that errored, panicked or timed out"),
	); err != nil {
		return nil, err
	}

	if m.persistenceErrors, err = meter.Int64Counter("eventbus.persistence.errors",
		metric.WithDescription("Number of failed event log operations"),
	); err != nil {
		return nil, err
	}

	if m.queueDepth, err = meter.Int64UpDownCounter("eventbus.queue.depth",
		metric.WithDescription("Envelopes waiting for dispatch"),
	); err != nil {
		return nil, err
	}

	if m.resubmitted, err = meter.Int64Counter("eventbus.events.resubmitted",
		metric.WithDescription("Number of logged envelopes republished by replay or retry"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func kindAttr(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}

// RecordPublished records an accepted publish.
func (m *otelMetrics) RecordPublished(ctx context.Context, kind string) {
	m.published.Add(ctx, 1, kindAttr(kind))
}

// RecordDispatch records the outcome of one envelope.
func (m *otelMetrics) RecordDispatch(ctx context.Context, kind string, duration time.Duration, err error) {
	attrs := kindAttr(kind)
	if err != nil {
		m.failed.Add(ctx, 1, attrs)
		return
	}
	m.processed.Add(ctx, 1, attrs)
	m.dispatchLatency.Record(ctx, Milliseconds(duration), attrs)
}

// RecordHandler records one handler invocation.
func (m *otelMetrics) RecordHandler(ctx context.Context, kind string, err error) {
	if err != nil {
		m.handlersFailed.Add(ctx, 1, kindAttr(kind))
		return
	}
	m.handlersExecuted.Add(ctx, 1, kindAttr(kind))
}

// RecordPersistenceError records a failed log operation.
func (m *otelMetrics) RecordPersistenceError(ctx context.Context, op string) {
	m.persistenceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

// RecordQueueDepth adjusts the queue depth gauge.
func (m *otelMetrics) RecordQueueDepth(ctx context.Context, delta int64) {
	m.queueDepth.Add(ctx, delta)
}

// RecordResubmitted records republished envelopes.
func (m *otelMetrics) RecordResubmitted(ctx context.Context, op string, count int) {
	m.resubmitted.Add(ctx, int64(count), metric.WithAttributes(attribute.String("operation", op)))
}
