package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/filter"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

// Tags added to resubmitted envelopes.
const (
	ReplayTag = "replay"
	RetryTag  = "retry"
)

// Replay republishes logged envelopes matching spec whose creation time
// falls in [start, end], oldest first. A zero bound is open and a nil spec
// matches everything; non-zero bounds override the filter's own time range.
//
// Each envelope is published again as an *event.RawEvent carrying its
// original payload. The new envelope gets a fresh id, keeps priority, tags
// and correlation, takes the original id as causation id and is tagged
// "replay". Rows that fail to republish are logged and skipped.
//
// Returns the number resubmitted. Requires a log (ErrPersistenceDisabled).
func (b *Bus) Replay(ctx context.Context, spec *filter.Spec, start, end time.Time) (int, error) {
	if b.log == nil {
		return 0, ErrPersistenceDisabled
	}
	if !b.Running() {
		return 0, ErrBusClosed
	}

	scope := spec.Clone()
	if !start.IsZero() || !end.IsZero() {
		s0, e0 := scope.TimeRange()
		if start.IsZero() {
			start = s0
		}
		if end.IsZero() {
			end = e0
		}
		scope.SetTimeRange(start, end)
	}

	envs, err := b.log.Query(ctx, store.Query{Filter: scope, Ascending: true})
	if err != nil {
		return 0, fmt.Errorf("replay query: %w", err)
	}

	return b.resubmit(ctx, ReplayTag, envs, func(env *event.StoredEnvelope) event.Event {
		return event.FromEnvelope(env, ReplayTag)
	})
}

// RetryFailed republishes failed envelopes that still have retry budget
// (RetryCount < MaxRetries), oldest first, up to limit (non-positive means
// no limit). Each copy has RetryCount+1 and the "retry" tag. A failed
// envelope that already has a retry copy in the log is skipped.
//
// Dispatch never retries on its own; this is the only retry path.
func (b *Bus) RetryFailed(ctx context.Context, limit int) (int, error) {
	if b.log == nil {
		return 0, ErrPersistenceDisabled
	}
	if !b.Running() {
		return 0, ErrBusClosed
	}

	failed, err := b.log.Query(ctx, store.Query{
		Statuses:  []event.Status{event.StatusFailed},
		Ascending: true,
	})
	if err != nil {
		return 0, fmt.Errorf("retry query: %w", err)
	}
	retries, err := b.log.Query(ctx, store.Query{Filter: filter.New().AddTag(RetryTag)})
	if err != nil {
		return 0, fmt.Errorf("retry query: %w", err)
	}
	retried := make(map[string]bool, len(retries))
	for _, env := range retries {
		retried[env.Metadata.CausationID] = true
	}

	var eligible []*event.StoredEnvelope
	for _, env := range failed {
		if retried[env.ID()] || env.Metadata.RetryCount >= env.Metadata.MaxRetries {
			continue
		}
		eligible = append(eligible, env)
		if limit > 0 && len(eligible) == limit {
			break
		}
	}

	return b.resubmit(ctx, RetryTag, eligible, func(env *event.StoredEnvelope) event.Event {
		raw := event.FromEnvelope(env, RetryTag)
		raw.Meta.RetryCount++
		return raw
	})
}

// resubmit publishes a rebuilt event for each envelope. It stops early if
// ctx ends or the bus closes.
func (b *Bus) resubmit(
	ctx context.Context,
	op string,
	envs []*event.StoredEnvelope,
	rebuild func(*event.StoredEnvelope) event.Event,
) (int, error) {
	var n int
	var stopErr error
	for _, env := range envs {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		if err := b.Publish(ctx, rebuild(env)); err != nil {
			if errors.Is(err, ErrBusClosed) {
				stopErr = err
				break
			}
			b.logger.Warn("resubmit failed",
				slog.String("operation", op),
				slog.String("event_id", env.ID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n++
	}

	b.metrics.Resubmitted(ctx, op, n)
	observability.LogResubmitted(b.logger, op, len(envs), n)
	return n, stopErr
}
