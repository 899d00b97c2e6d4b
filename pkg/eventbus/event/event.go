// Package event defines the data that flows through the bus: the Event
// interface producers publish, the metadata the bus stamps on it, and the
// StoredEnvelope persisted to the log.
//
// Producers usually publish a *BaseEvent[T]:
//
//	evt := event.New("order.placed", OrderPlaced{ID: "o-1"},
//	    event.WithPriority(event.PriorityHigh),
//	    event.WithTags("orders"),
//	)
//
// Handlers read payloads with Decode, which accepts both the live typed
// payload and the raw JSON carried by a replayed RawEvent:
//
//	order, err := event.Decode[OrderPlaced](evt)
package event

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Event is anything that can be published.
// Kind routes the event to subscribers; Payload must be JSON-serializable.
type Event interface {
	Kind() string
	Payload() any
}

// Prioritized events carry a priority. Events without one are Normal.
type Prioritized interface {
	Priority() Priority
}

// Tagged events carry free-form tags.
type Tagged interface {
	Tags() []string
}

// Correlated events carry correlation and causation ids.
type Correlated interface {
	CorrelationID() string
	CausationID() string
}

// Expiring events carry an optional expiry.
type Expiring interface {
	ExpiresAt() (time.Time, bool)
}

// RetryBudget events carry retry counters.
type RetryBudget interface {
	RetryCount() int
	MaxRetries() int
}

// Option configures event creation.
type Option func(*eventConfig)

type eventConfig struct {
	priority      Priority
	tags          []string
	correlationID string
	causationID   string
	expiresAt     time.Time
	retryCount    int
	maxRetries    int
}

// WithPriority sets the event priority (default: PriorityNormal).
func WithPriority(p Priority) Option {
	return func(cfg *eventConfig) {
		cfg.priority = p
	}
}

// WithTags appends tags to the event.
func WithTags(tags ...string) Option {
	return func(cfg *eventConfig) {
		cfg.tags = append(cfg.tags, tags...)
	}
}

// WithCorrelationID sets the correlation ID.
func WithCorrelationID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.correlationID = id
	}
}

// WithCausationID sets the ID of the causing event.
func WithCausationID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.causationID = id
	}
}

// WithTTL sets the expiry to now plus ttl.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *eventConfig) {
		cfg.expiresAt = time.Now().Add(ttl)
	}
}

// WithExpiry sets an absolute expiry.
func WithExpiry(t time.Time) Option {
	return func(cfg *eventConfig) {
		cfg.expiresAt = t
	}
}

// WithMaxRetries sets how many times RetryFailed may resubmit the event.
func WithMaxRetries(n int) Option {
	return func(cfg *eventConfig) {
		cfg.maxRetries = n
	}
}

// WithRetryCount sets the retry counter.
func WithRetryCount(n int) Option {
	return func(cfg *eventConfig) {
		cfg.retryCount = n
	}
}

// BaseEvent is the generic Event implementation.
// T is the payload type.
type BaseEvent[T any] struct {
	kind    string
	payload T
	cfg     eventConfig
}

// New creates an event of the given kind.
func New[T any](kind string, payload T, opts ...Option) *BaseEvent[T] {
	cfg := eventConfig{priority: PriorityNormal}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &BaseEvent[T]{kind: kind, payload: payload, cfg: cfg}
}

// NewFromParent creates an event caused by parent. It inherits the parent's
// correlation id (or uses the parent's id as the root) and records the
// parent id as causation.
func NewFromParent[T any](parent Metadata, kind string, payload T, opts ...Option) *BaseEvent[T] {
	correlation := parent.CorrelationID
	if correlation == "" {
		correlation = parent.ID
	}
	parentOpts := []Option{
		WithCorrelationID(correlation),
		WithCausationID(parent.ID),
	}
	return New(kind, payload, append(parentOpts, opts...)...)
}

// Kind returns the event kind.
func (e *BaseEvent[T]) Kind() string { return e.kind }

// Payload returns the payload as any.
func (e *BaseEvent[T]) Payload() any { return e.payload }

// TypedPayload returns the strongly-typed payload.
func (e *BaseEvent[T]) TypedPayload() T { return e.payload }

// Priority returns the event priority.
func (e *BaseEvent[T]) Priority() Priority { return e.cfg.priority }

// Tags returns a copy of the event tags.
func (e *BaseEvent[T]) Tags() []string { return slices.Clone(e.cfg.tags) }

// CorrelationID returns the correlation ID.
func (e *BaseEvent[T]) CorrelationID() string { return e.cfg.correlationID }

// CausationID returns the causation ID.
func (e *BaseEvent[T]) CausationID() string { return e.cfg.causationID }

// ExpiresAt returns the expiry, if any.
func (e *BaseEvent[T]) ExpiresAt() (time.Time, bool) {
	return e.cfg.expiresAt, !e.cfg.expiresAt.IsZero()
}

// RetryCount returns the retry counter.
func (e *BaseEvent[T]) RetryCount() int { return e.cfg.retryCount }

// MaxRetries returns the retry budget.
func (e *BaseEvent[T]) MaxRetries() int { return e.cfg.maxRetries }

// RawEvent is an event rebuilt from the log. It carries the stored JSON
// payload unchanged so replayed handlers see the original data.
type RawEvent struct {
	Meta Metadata
	Data json.RawMessage
}

// FromEnvelope rebuilds a publishable event from a stored envelope.
// The original id becomes the causation id; correlation, priority, tags,
// expiry and retry counters are kept. Extra tags are appended once.
func FromEnvelope(env *StoredEnvelope, extraTags ...string) *RawEvent {
	meta := env.Metadata.Clone()
	meta.CausationID = env.Metadata.ID
	if meta.CorrelationID == "" {
		meta.CorrelationID = env.Metadata.ID
	}
	for _, tag := range extraTags {
		if !meta.HasTag(tag) {
			meta.Tags = append(meta.Tags, tag)
		}
	}
	return &RawEvent{Meta: meta, Data: slices.Clone(env.Payload)}
}

// Kind returns the original kind.
func (e *RawEvent) Kind() string { return e.Meta.Kind }

// Payload returns the raw JSON payload.
func (e *RawEvent) Payload() any { return e.Data }

// Priority returns the original priority.
func (e *RawEvent) Priority() Priority { return e.Meta.Priority }

// Tags returns a copy of the tags.
func (e *RawEvent) Tags() []string { return slices.Clone(e.Meta.Tags) }

// CorrelationID returns the correlation ID.
func (e *RawEvent) CorrelationID() string { return e.Meta.CorrelationID }

// CausationID returns the causation ID.
func (e *RawEvent) CausationID() string { return e.Meta.CausationID }

// ExpiresAt returns the original expiry, if any.
func (e *RawEvent) ExpiresAt() (time.Time, bool) {
	if e.Meta.ExpiresAt == nil {
		return time.Time{}, false
	}
	return *e.Meta.ExpiresAt, true
}

// RetryCount returns the retry counter.
func (e *RawEvent) RetryCount() int { return e.Meta.RetryCount }

// MaxRetries returns the retry budget.
func (e *RawEvent) MaxRetries() int { return e.Meta.MaxRetries }

// Decode extracts a payload of type T from evt.
//
// A payload that already has type T is returned as-is. Raw JSON (from a
// RawEvent) is unmarshaled into T. Any other value is round-tripped
// through JSON, which covers map[string]any and pointer payloads.
func Decode[T any](evt Event) (T, error) {
	var out T
	if evt == nil {
		return out, ErrNilEvent
	}

	var data []byte
	switch p := evt.Payload().(type) {
	case T:
		return p, nil
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return out, fmt.Errorf("marshal %s payload: %w", evt.Kind(), err)
		}
		data = b
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", evt.Kind(), err)
	}
	return out, nil
}
