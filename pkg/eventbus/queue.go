package eventbus

import (
	"sync"

	"github.com/eapache/queue"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
)

// delivery is one queued dispatch: the event as published and its envelope.
type delivery struct {
	evt event.Event
	env *event.StoredEnvelope

	// persisted is false when Save failed; status updates then skip the log.
	persisted bool

	// publish links the dispatch span back to the publish span.
	publish trace.SpanContext
}

// dispatchQueue is an unbounded FIFO with a single consumer. push never
// blocks; the consumer waits on notify when the queue is empty.
type dispatchQueue struct {
	mu     sync.Mutex
	items  *queue.Queue
	closed bool
	notify chan struct{}
}

func newDispatchQueue() *dispatchQueue {
	return &dispatchQueue{
		items:  queue.New(),
		notify: make(chan struct{}, 1),
	}
}

// push appends d. Returns false once the queue is closed.
func (q *dispatchQueue) push(d *delivery) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items.Add(d)
	q.mu.Unlock()

	q.wake()
	return true
}

// pop removes the oldest delivery. done is true when the queue is closed
// and empty, so the consumer can exit.
func (q *dispatchQueue) pop() (d *delivery, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Length() == 0 {
		return nil, q.closed
	}
	return q.items.Remove().(*delivery), false
}

// close stops further pushes. Queued deliveries still drain.
func (q *dispatchQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wake()
}

func (q *dispatchQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func (q *dispatchQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
