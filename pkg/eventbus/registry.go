package eventbus

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
)

// Handler processes one dispatched event.
//
// During normal dispatch evt is the value passed to Publish. During replay
// and retry it is an *event.RawEvent carrying the stored JSON payload; use
// event.Decode to read it either way. The envelope being dispatched is
// available through EnvelopeFromContext.
//
// A returned error or a panic is counted as a handler failure. Neither stops
// the remaining handlers or changes the envelope's outcome.
type Handler func(ctx context.Context, evt event.Event) error

// Subscription is the handle returned by Subscribe and SubscribeGlobal.
// It is the identity used by Unsubscribe: subscribing the same function
// twice yields two subscriptions and two invocations per event.
type Subscription struct {
	id      string
	kind    string
	global  bool
	handler Handler
	bus     *Bus
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Kind returns the subscribed kind, or "" for a global subscription.
func (s *Subscription) Kind() string { return s.kind }

// Global reports whether the subscription receives every kind.
func (s *Subscription) Global() bool { return s.global }

// Unsubscribe removes the subscription from its bus. Returns false if it
// was already removed.
func (s *Subscription) Unsubscribe() bool {
	if s == nil || s.bus == nil {
		return false
	}
	return s.bus.Unsubscribe(s)
}

// subscriptions is the kind -> handlers table. One mutex guards every
// mutation; lookups copy before release so handlers never run under it.
type subscriptions struct {
	mu     sync.Mutex
	byKind map[string][]*Subscription
	global []*Subscription
}

func newSubscriptions() *subscriptions {
	return &subscriptions{byKind: make(map[string][]*Subscription)}
}

func (r *subscriptions) add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.global {
		r.global = append(r.global, sub)
		return
	}
	r.byKind[sub.kind] = append(r.byKind[sub.kind], sub)
}

func (r *subscriptions) remove(sub *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.global {
		var removed bool
		r.global, removed = without(r.global, sub)
		return removed
	}

	list, removed := without(r.byKind[sub.kind], sub)
	if len(list) == 0 {
		delete(r.byKind, sub.kind)
	} else {
		r.byKind[sub.kind] = list
	}
	return removed
}

// lookup returns the kind handlers followed by the global handlers, each in
// registration order.
func (r *subscriptions) lookup(kind string) []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinded := r.byKind[kind]
	out := make([]*Subscription, 0, len(kinded)+len(r.global))
	out = append(out, kinded...)
	return append(out, r.global...)
}

func (r *subscriptions) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.global)
	for _, list := range r.byKind {
		n += len(list)
	}
	return n
}

func without(list []*Subscription, sub *Subscription) ([]*Subscription, bool) {
	i := slices.Index(list, sub)
	if i < 0 {
		return list, false
	}
	return slices.Delete(slices.Clone(list), i, i+1), true
}

// Subscribe registers handler for events of kind. Handlers for one kind run
// in registration order, before any global handlers.
//
// Panics if kind is empty or handler is nil.
func (b *Bus) Subscribe(kind string, handler Handler) *Subscription {
	if kind == "" {
		panic("eventbus: subscription kind cannot be empty")
	}
	return b.subscribe(kind, false, handler)
}

// SubscribeGlobal registers handler for every event regardless of kind.
//
// Panics if handler is nil.
func (b *Bus) SubscribeGlobal(handler Handler) *Subscription {
	return b.subscribe("", true, handler)
}

func (b *Bus) subscribe(kind string, global bool, handler Handler) *Subscription {
	if handler == nil {
		panic("eventbus: handler cannot be nil")
	}
	sub := &Subscription{
		id:      uuid.NewString(),
		kind:    kind,
		global:  global,
		handler: handler,
		bus:     b,
	}
	b.subs.add(sub)
	return sub
}

// Unsubscribe removes sub. Envelopes already dequeued may still reach it.
// Returns false if sub is nil, belongs to another bus, or was already removed.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	if sub == nil || sub.bus != b {
		return false
	}
	return b.subs.remove(sub)
}
