package eventbus

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/filter"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

// busConfig holds construction-time settings for a Bus.
type busConfig struct {
	source         string
	log            store.Log
	ownsLog        bool
	filter         *filter.Spec
	historySize    int
	handlerTimeout time.Duration
	drainTimeout   time.Duration
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	schemas        *event.Registry
}

// defaultBusConfig returns the default bus configuration.
func defaultBusConfig() busConfig {
	return busConfig{
		source:      "eventbus",
		historySize: 1000,
	}
}

// Option configures a Bus.
type Option func(*busConfig)

// WithSource sets the identity stamped on every envelope this bus publishes.
// Default: "eventbus"
func WithSource(source string) Option {
	return func(c *busConfig) {
		if source != "" {
			c.source = source
		}
	}
}

// WithLog enables persistence. The bus does not close a log passed this
// way; the caller owns it.
func WithLog(log store.Log) Option {
	return func(c *busConfig) {
		c.log = log
		c.ownsLog = false
	}
}

// WithGlobalFilter sets the filter consulted on every publish. Envelopes it
// rejects are dropped with no side effects. The filter is cloned.
func WithGlobalFilter(spec *filter.Spec) Option {
	return func(c *busConfig) {
		c.filter = spec.Clone()
	}
}

// WithHistorySize bounds the in-memory history ring.
// Default: 1000
func WithHistorySize(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.historySize = n
		}
	}
}

// WithHandlerTimeout abandons handlers that run longer than d. The handler
// counts as failed with ErrHandlerTimeout and dispatch moves on. Its
// goroutine is not killed; it sees a cancelled context.
//
// Default: 0 (no timeout, a hung handler stalls the bus)
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *busConfig) {
		if d > 0 {
			c.handlerTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Shutdown waits for the queue to
// drain when its context has no deadline of its own.
//
// Default: 0 (Shutdown waits as long as its context allows)
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *busConfig) {
		if d > 0 {
			c.drainTimeout = d
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *busConfig) {
		c.logger = logger
	}
}

// WithMetrics mirrors the bus counters to recorder, usually
// observability.NewMetricsRecorder().
func WithMetrics(recorder observability.MetricsRecorder) Option {
	return func(c *busConfig) {
		c.metrics = recorder
	}
}

// WithTracing emits publish and dispatch spans through spans, usually
// observability.NewSpanManager().
func WithTracing(spans observability.SpanManager) Option {
	return func(c *busConfig) {
		c.spans = spans
	}
}

// WithSchemaRegistry validates every published event against registry.
// Unknown kinds and failed validators are rejected as invalid events.
func WithSchemaRegistry(registry *event.Registry) Option {
	return func(c *busConfig) {
		c.schemas = registry
	}
}

// withOwnedLog hands the log to the bus; Shutdown closes it.
func withOwnedLog(log store.Log) Option {
	return func(c *busConfig) {
		c.log = log
		c.ownsLog = true
	}
}
