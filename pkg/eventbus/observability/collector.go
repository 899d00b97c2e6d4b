package observability

import (
	"context"
	"sync/atomic"
	"time"
)

// Collector keeps the bus counters. Every update is an atomic operation
// and is mirrored to a MetricsRecorder.
//
// Each scalar is individually consistent; a Snapshot taken while the bus is
// busy may see, for example, a publish counted before its queue depth.
type Collector struct {
	recorder MetricsRecorder

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsFailed      atomic.Int64
	handlersExecuted  atomic.Int64
	handlersFailed    atomic.Int64
	persistenceErrors atomic.Int64
	processingNanos   atomic.Int64
	queueDepth        atomic.Int64
	resubmitted       atomic.Int64
}

// NewCollector creates a Collector. A nil recorder disables export.
func NewCollector(recorder MetricsRecorder) *Collector {
	if recorder == nil {
		recorder = NoopMetrics{}
	}
	return &Collector{recorder: recorder}
}

// Published counts an accepted publish.
func (c *Collector) Published(ctx context.Context, kind string) {
	c.eventsPublished.Add(1)
	c.recorder.RecordPublished(ctx, kind)
}

// Processed counts an envelope that finished dispatch and folds its
// processing time into the total.
func (c *Collector) Processed(ctx context.Context, kind string, d time.Duration) {
	c.processingNanos.Add(int64(d))
	c.eventsProcessed.Add(1)
	c.recorder.RecordDispatch(ctx, kind, d, nil)
}

// Failed counts an envelope that failed outside any handler.
func (c *Collector) Failed(ctx context.Context, kind string, d time.Duration, err error) {
	c.eventsFailed.Add(1)
	c.recorder.RecordDispatch(ctx, kind, d, err)
}

// HandlerExecuted counts a handler that returned without error.
func (c *Collector) HandlerExecuted(ctx context.Context, kind string) {
	c.handlersExecuted.Add(1)
	c.recorder.RecordHandler(ctx, kind, nil)
}

// HandlerFailed counts a handler that errored, panicked or timed out.
func (c *Collector) HandlerFailed(ctx context.Context, kind string, err error) {
	c.handlersFailed.Add(1)
	c.recorder.RecordHandler(ctx, kind, err)
}

// PersistenceError counts a failed log operation.
func (c *Collector) PersistenceError(ctx context.Context, op string) {
	c.persistenceErrors.Add(1)
	c.recorder.RecordPersistenceError(ctx, op)
}

// Enqueued increments the queue depth.
func (c *Collector) Enqueued(ctx context.Context) {
	c.queueDepth.Add(1)
	c.recorder.RecordQueueDepth(ctx, 1)
}

// Dequeued decrements the queue depth.
func (c *Collector) Dequeued(ctx context.Context) {
	c.queueDepth.Add(-1)
	c.recorder.RecordQueueDepth(ctx, -1)
}

// Resubmitted counts envelopes republished by replay or retry.
func (c *Collector) Resubmitted(ctx context.Context, op string, n int) {
	if n <= 0 {
		return
	}
	c.resubmitted.Add(int64(n))
	c.recorder.RecordResubmitted(ctx, op, n)
}

// Snapshot returns a point-in-time copy of the counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		EventsPublished:     c.eventsPublished.Load(),
		EventsProcessed:     c.eventsProcessed.Load(),
		EventsFailed:        c.eventsFailed.Load(),
		HandlersExecuted:    c.handlersExecuted.Load(),
		HandlersFailed:      c.handlersFailed.Load(),
		PersistenceErrors:   c.persistenceErrors.Load(),
		ProcessingTimeTotal: time.Duration(c.processingNanos.Load()),
		QueueDepth:          c.queueDepth.Load(),
		EventsResubmitted:   c.resubmitted.Load(),
	}
}

// Snapshot is a copy of the bus counters.
type Snapshot struct {
	EventsPublished     int64         `json:"events_published"`
	EventsProcessed     int64         `json:"events_processed"`
	EventsFailed        int64         `json:"events_failed"`
	HandlersExecuted    int64         `json:"handlers_executed"`
	HandlersFailed      int64         `json:"handlers_failed"`
	PersistenceErrors   int64         `json:"persistence_errors"`
	ProcessingTimeTotal time.Duration `json:"processing_time_total"`
	QueueDepth          int64         `json:"queue_depth"`
	EventsResubmitted   int64         `json:"events_resubmitted"`
}

// AverageProcessingTime is ProcessingTimeTotal / EventsProcessed, or 0
// when nothing has been processed.
func (s Snapshot) AverageProcessingTime() time.Duration {
	if s.EventsProcessed == 0 {
		return 0
	}
	return s.ProcessingTimeTotal / time.Duration(s.EventsProcessed)
}

// AsMap returns the counters keyed by metric name. Times are in seconds.
func (s Snapshot) AsMap() map[string]any {
	total := s.ProcessingTimeTotal.Seconds()
	avg := 0.0
	if s.EventsProcessed > 0 {
		avg = total / float64(s.EventsProcessed)
	}
	return map[string]any{
		"events_published":        s.EventsPublished,
		"events_processed":        s.EventsProcessed,
		"events_failed":           s.EventsFailed,
		"handlers_executed":       s.HandlersExecuted,
		"handlers_failed":         s.HandlersFailed,
		"persistence_errors":      s.PersistenceErrors,
		"processing_time_total":   total,
		"average_processing_time": avg,
		"queue_depth":             s.QueueDepth,
		"events_resubmitted":      s.EventsResubmitted,
	}
}
