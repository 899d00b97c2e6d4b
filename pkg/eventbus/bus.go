package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/eventbus/pkg/eventbus/config"
	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/filter"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

// Bus is a durable, filtered, replayable in-process event bus.
//
// Publish validates, filters, records and enqueues an event, then returns.
// A single worker goroutine dispatches envelopes in publish order to the
// handlers registered for their kind followed by the global handlers.
//
// All methods are safe for concurrent use.
type Bus struct {
	source         string
	log            store.Log
	ownsLog        bool
	handlerTimeout time.Duration
	drainTimeout   time.Duration
	logger         *slog.Logger
	metrics        *observability.Collector
	spans          observability.SpanManager
	schemas        *event.Registry
	filter         atomic.Pointer[filter.Spec]

	subs    *subscriptions
	history *history
	queue   *dispatchQueue

	// mu orders Publish (read side) against Shutdown (write side) so that
	// no publish is half-done when the queue closes.
	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New creates a bus and starts its dispatch worker.
//
// Example:
//
//	log, err := store.NewSQLiteStore("events.db")
//	if err != nil {
//		return err
//	}
//	bus := eventbus.New(
//		eventbus.WithSource("orders"),
//		eventbus.WithLog(log),
//	)
//	defer bus.Shutdown(context.Background())
func New(opts ...Option) *Bus {
	cfg := defaultBusConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	spans := cfg.spans
	if spans == nil {
		spans = observability.NoopSpanManager{}
	}

	b := &Bus{
		source:         cfg.source,
		log:            cfg.log,
		ownsLog:        cfg.ownsLog,
		handlerTimeout: cfg.handlerTimeout,
		drainTimeout:   cfg.drainTimeout,
		logger:         observability.EnrichLogger(logger, cfg.source),
		metrics:        observability.NewCollector(cfg.metrics),
		spans:          spans,
		schemas:        cfg.schemas,
		subs:           newSubscriptions(),
		history:        newHistory(cfg.historySize),
		queue:          newDispatchQueue(),
		done:           make(chan struct{}),
	}
	if cfg.filter != nil && !cfg.filter.IsEmpty() {
		b.filter.Store(cfg.filter)
	}

	go b.run()
	return b
}

// NewFromSettings builds a bus from loaded settings. When DBPath is set
// the bus opens a SQLite log and closes it on Shutdown.
//
// The bus logs JSON to stderr at LogLevel unless opts include WithLogger,
// and Shutdown waits at most ShutdownTimeout when given a context without
// a deadline.
func NewFromSettings(s config.Settings, opts ...Option) (*Bus, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	base := []Option{
		WithSource(s.Source),
		WithHistorySize(s.HistorySize),
		WithHandlerTimeout(s.HandlerTimeout),
		WithShutdownTimeout(s.ShutdownTimeout),
		WithLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: s.SlogLevel(),
		}))),
	}
	if s.MetricsEnabled {
		base = append(base, WithMetrics(observability.NewMetricsRecorder()))
	}
	if s.TracingEnabled {
		base = append(base, WithTracing(observability.NewSpanManager()))
	}
	if s.DBPath != "" {
		log, err := store.NewSQLiteStore(s.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		base = append(base, withOwnedLog(log))
	}

	return New(append(base, opts...)...), nil
}

// Source returns the identity stamped on published envelopes.
func (b *Bus) Source() string {
	return b.source
}

// Running reports whether the bus still accepts publishes.
func (b *Bus) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// SetGlobalFilter replaces the publish-time filter. A nil or empty spec
// accepts everything. The filter is cloned.
func (b *Bus) SetGlobalFilter(spec *filter.Spec) {
	if spec.IsEmpty() {
		b.filter.Store(nil)
		return
	}
	b.filter.Store(spec.Clone())
}

// Publish validates evt, applies the global filter and, if accepted,
// records and enqueues it. It does not wait for dispatch.
//
// Errors:
//   - *ValidationError (errors.Is ErrInvalidEvent) for a nil event, an empty
//     kind, a schema registry rejection or an unserializable payload
//   - ErrBusClosed after Shutdown
//
// An event rejected by the global filter returns nil and leaves no trace:
// no counters, no history, no log row, no dispatch. A failed log write is
// counted and logged but does not fail the publish.
func (b *Bus) Publish(ctx context.Context, evt event.Event) error {
	env, err := b.envelope(evt)
	if err != nil {
		return err
	}
	kind := env.Metadata.Kind

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	if spec := b.filter.Load(); spec != nil && !spec.Matches(env) {
		observability.LogFiltered(b.logger, kind)
		return nil
	}

	ctx, span := b.spans.StartPublishSpan(ctx, kind)
	defer b.spans.EndSpanWithError(span, nil)

	b.metrics.Published(ctx, kind)
	b.history.add(env)

	d := &delivery{
		evt:     evt,
		env:     env,
		publish: span.SpanContext(),
	}
	if b.log != nil {
		if err := b.log.Save(ctx, env); err != nil {
			b.persistenceError(ctx, env.ID(), "save", err)
		} else {
			d.persisted = true
		}
	}

	b.metrics.Enqueued(ctx)
	b.queue.push(d)
	observability.LogPublished(b.logger, env.ID(), kind)
	return nil
}

// envelope builds the pending envelope for evt. Panics raised by the
// event's own methods are reported as validation errors.
func (b *Bus) envelope(evt event.Event) (env *event.StoredEnvelope, err error) {
	if evt == nil {
		return nil, &ValidationError{Reason: "event is nil"}
	}
	defer func() {
		if r := recover(); r != nil {
			env = nil
			err = &ValidationError{Reason: fmt.Sprintf("reading event panicked: %v", r)}
		}
	}()

	kind := evt.Kind()
	if strings.TrimSpace(kind) == "" {
		return nil, &ValidationError{Reason: "kind is empty"}
	}
	if b.schemas != nil {
		if err := b.schemas.Validate(evt); err != nil {
			return nil, &ValidationError{Kind: kind, Reason: "schema validation failed", Err: err}
		}
	}

	payload, err := json.Marshal(evt.Payload())
	if err != nil {
		return nil, &ValidationError{Kind: kind, Reason: "payload is not serializable", Err: err}
	}

	now := time.Now().UTC()
	meta := event.Metadata{
		ID:        uuid.NewString(),
		Kind:      kind,
		Source:    b.source,
		Priority:  event.PriorityNormal,
		CreatedAt: now,
	}
	if p, ok := evt.(event.Prioritized); ok {
		if !p.Priority().Valid() {
			return nil, &ValidationError{Kind: kind, Reason: "bad priority", Err: event.ErrUnknownPriority}
		}
		meta.Priority = p.Priority()
	}
	if t, ok := evt.(event.Tagged); ok {
		meta.Tags = t.Tags()
	}
	if c, ok := evt.(event.Correlated); ok {
		meta.CorrelationID = c.CorrelationID()
		meta.CausationID = c.CausationID()
	}
	if e, ok := evt.(event.Expiring); ok {
		if at, set := e.ExpiresAt(); set {
			at = at.UTC()
			meta.ExpiresAt = &at
		}
	}
	if r, ok := evt.(event.RetryBudget); ok {
		meta.RetryCount = r.RetryCount()
		meta.MaxRetries = r.MaxRetries()
	}

	return &event.StoredEnvelope{
		Metadata:  meta,
		Payload:   payload,
		Status:    event.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetMetrics returns a point-in-time copy of the bus counters.
func (b *Bus) GetMetrics() observability.Snapshot {
	return b.metrics.Snapshot()
}

// GetHistory returns up to limit envelope summaries matching spec, newest
// first. With a log it reads the log; otherwise the in-memory ring, which
// only holds the most recent publishes. A non-positive limit means no limit.
func (b *Bus) GetHistory(ctx context.Context, limit int, spec *filter.Spec) ([]event.Summary, error) {
	if b.log == nil {
		return b.history.list(limit, spec), nil
	}

	envs, err := b.log.Query(ctx, store.Query{Filter: spec, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	out := make([]event.Summary, len(envs))
	for i, env := range envs {
		out[i] = env.Summary()
	}
	return out, nil
}

// Get returns one envelope by id, from the log when enabled, otherwise
// from the history ring. Returns store.ErrNotFound if unknown.
func (b *Bus) Get(ctx context.Context, id string) (*event.StoredEnvelope, error) {
	if b.log != nil {
		return b.log.Get(ctx, id)
	}
	b.history.mu.Lock()
	defer b.history.mu.Unlock()
	env, ok := b.history.index[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return env.Clone(), nil
}

// CleanupOldEvents deletes log rows created more than retentionDays ago
// and returns how many were removed. The history ring is not touched.
func (b *Bus) CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	if b.log == nil {
		return 0, ErrPersistenceDisabled
	}
	age, err := config.RetentionAge(retentionDays)
	if err != nil {
		return 0, err
	}

	deleted, err := b.log.CleanupOlderThan(ctx, age)
	if err != nil {
		return 0, fmt.Errorf("cleanup event log: %w", err)
	}
	observability.LogCleanup(b.logger, retentionDays, deleted)
	return deleted, nil
}

// Shutdown stops accepting publishes and waits for the worker to dispatch
// everything already queued. If ctx ends first it returns ctx.Err() and
// the worker keeps draining in the background; calling Shutdown again
// waits again. A log opened by NewFromSettings is closed once drained.
//
// A ctx without a deadline is bounded by WithShutdownTimeout when set.
//
// Calling Shutdown from inside a handler waits on the handler's own
// dispatch and only returns when ctx ends.
func (b *Bus) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && b.drainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.drainTimeout)
		defer cancel()
	}

	b.mu.Lock()
	first := !b.closed
	b.closed = true
	b.mu.Unlock()
	if first {
		b.queue.close()
	}

	select {
	case <-b.done:
	case <-ctx.Done():
		observability.LogShutdown(b.logger, b.queue.len(), ctx.Err())
		return ctx.Err()
	}

	b.closeOnce.Do(func() {
		if b.ownsLog && b.log != nil {
			if err := b.log.Close(); err != nil {
				b.closeErr = fmt.Errorf("close event log: %w", err)
			}
		}
		observability.LogShutdown(b.logger, 0, b.closeErr)
	})
	return b.closeErr
}

// persistenceError counts and logs a failed log operation.
func (b *Bus) persistenceError(ctx context.Context, eventID, op string, err error) {
	b.metrics.PersistenceError(ctx, op)
	observability.LogPersistenceError(b.logger, eventID, op, err)
}
