package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
)

// run is the single dispatch worker. It exits once the queue is closed and
// drained.
func (b *Bus) run() {
	defer close(b.done)

	for {
		d, done := b.queue.pop()
		if done {
			return
		}
		if d == nil {
			<-b.queue.notify
			continue
		}
		b.dispatchSafely(d)
	}
}

// dispatchSafely keeps the worker alive whatever one envelope does.
func (b *Bus) dispatchSafely(d *delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("dispatch worker recovered",
				slog.String("event_id", d.env.ID()),
				slog.Any("panic", r),
			)
		}
	}()
	b.dispatch(d)
}

// dispatch runs every handler for one envelope and records the outcome.
func (b *Bus) dispatch(d *delivery) {
	id, kind := d.env.ID(), d.env.Metadata.Kind
	ctx, span := b.spans.StartDispatchSpan(context.Background(), id, kind, d.publish)
	b.metrics.Dequeued(ctx)

	elapsed := observability.TimedOperation()
	handlers, failed, err := b.deliver(ctx, d)
	dur := elapsed()

	b.spans.EndSpanWithError(span, err)
	if err != nil {
		b.markFailed(ctx, d, err)
		b.metrics.Failed(ctx, kind, dur, err)
		observability.LogDispatchFault(b.logger, id, kind, err)
		return
	}
	b.metrics.Processed(ctx, kind, dur)
	observability.LogDispatchComplete(b.logger, id, kind, handlers, failed, observability.Milliseconds(dur))
}

// deliver marks the envelope processing, runs its handlers in order and
// marks it processed. Handler failures are counted and skipped; the
// envelope is processed even if every handler failed. A panic anywhere
// else is returned as a *DispatchError.
func (b *Bus) deliver(ctx context.Context, d *delivery) (handlers, failed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DispatchError{
				EventID: d.env.ID(),
				Kind:    d.env.Metadata.Kind,
				Value:   r,
				Stack:   string(debug.Stack()),
			}
		}
	}()

	kind := d.env.Metadata.Kind
	b.setStatus(ctx, d, event.StatusProcessing, "")

	subs := b.subs.lookup(kind)
	hctx := withEnvelope(ctx, d.env)

	var first error
	for _, sub := range subs {
		herr := b.invoke(hctx, sub, d)
		if herr == nil {
			b.metrics.HandlerExecuted(ctx, kind)
			continue
		}
		failed++
		if first == nil {
			first = herr
		}
		b.metrics.HandlerFailed(ctx, kind, herr)
		observability.LogHandlerError(b.logger, d.env.ID(), kind, sub.id, herr)
		b.spans.AddSpanEvent(ctx, "handler.failed",
			attribute.String("subscription.id", sub.id),
			attribute.String("error", herr.Error()),
		)
	}

	var msg string
	if failed > 0 {
		msg = fmt.Sprintf("%d of %d handlers failed: %v", failed, len(subs), first)
	}
	b.setStatus(ctx, d, event.StatusProcessed, msg)
	return len(subs), failed, nil
}

// markFailed records a dispatch fault on the envelope. The log that just
// faulted may fault again, so this has its own recover.
func (b *Bus) markFailed(ctx context.Context, d *delivery, cause error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("marking envelope failed panicked",
				slog.String("event_id", d.env.ID()),
				slog.Any("panic", r),
			)
		}
	}()
	b.setStatus(ctx, d, event.StatusFailed, cause.Error())
}

// invoke runs one handler, applying the handler timeout when configured.
func (b *Bus) invoke(ctx context.Context, sub *Subscription, d *delivery) error {
	if b.handlerTimeout <= 0 {
		return callHandler(ctx, sub, d)
	}

	ctx, cancel := context.WithTimeout(ctx, b.handlerTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- callHandler(ctx, sub, d)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return &HandlerError{
			SubscriptionID: sub.id,
			EventID:        d.env.ID(),
			Kind:           d.env.Metadata.Kind,
			Err:            ErrHandlerTimeout,
		}
	}
}

// callHandler runs the handler inside its own recover boundary.
func callHandler(ctx context.Context, sub *Subscription, d *delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{
				SubscriptionID: sub.id,
				EventID:        d.env.ID(),
				Kind:           d.env.Metadata.Kind,
				Err:            &PanicError{Value: r, Stack: string(debug.Stack())},
			}
		}
	}()

	if herr := sub.handler(ctx, d.evt); herr != nil {
		return &HandlerError{
			SubscriptionID: sub.id,
			EventID:        d.env.ID(),
			Kind:           d.env.Metadata.Kind,
			Err:            herr,
		}
	}
	return nil
}

// setStatus moves the envelope to status in the log, when it was saved,
// and then in history. Log failures are counted, never returned. A panic
// in the log leaves history untouched so a later markFailed can still
// move it.
func (b *Bus) setStatus(ctx context.Context, d *delivery, status event.Status, errMsg string) {
	if b.log != nil && d.persisted {
		if err := b.log.UpdateStatus(ctx, d.env.ID(), status, errMsg); err != nil {
			b.persistenceError(ctx, d.env.ID(), "update_status", err)
		}
	}

	now := time.Now().UTC()
	d.env.Status = status
	d.env.Error = errMsg
	d.env.UpdatedAt = now
	b.history.update(d.env.ID(), status, errMsg, now)
}
