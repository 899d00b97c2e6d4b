package eventbus_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/eventbus/pkg/eventbus"
	"github.com/randalmurphal/eventbus/pkg/eventbus/config"
	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/filter"
	"github.com/randalmurphal/eventbus/pkg/eventbus/observability"
	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

func newSQLiteLog(t *testing.T) *store.SQLiteStore {
	t.Helper()
	log, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestPublish_OneRowPerEvent(t *testing.T) {
	log := newSQLiteLog(t)
	bus := newTestBus(t, eventbus.WithLog(log))
	ctx := context.Background()

	const publishers, perPublisher = 4, 25
	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < publishers; p++ {
		g.Go(func() error {
			for i := 0; i < perPublisher; i++ {
				if err := bus.Publish(gctx, event.New("order.placed", sequenced{N: i})); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	waitDispatched(t, bus, publishers*perPublisher)

	rows, err := log.Query(ctx, store.Query{})
	require.NoError(t, err)
	require.Len(t, rows, publishers*perPublisher)

	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		assert.False(t, seen[row.ID()], "duplicate id %s", row.ID())
		seen[row.ID()] = true
		assert.Equal(t, event.StatusProcessed, row.Status)
		assert.Equal(t, "eventbus", row.Metadata.Source)
	}
}

func TestPublish_InvalidEvent(t *testing.T) {
	registry := event.NewRegistry()
	registry.MustRegister(&event.Schema{Kind: "order.placed"})

	tests := []struct {
		name  string
		evt   event.Event
		cause error
	}{
		{"nil event", nil, nil},
		{"typed nil", (*event.BaseEvent[int])(nil), nil},
		{"empty kind", event.New("", 1), nil},
		{"blank kind", event.New("  ", 1), nil},
		{"unserializable payload", event.New("order.placed", make(chan int)), nil},
		{"unknown kind", event.New("order.lost", 1), event.ErrUnknownKind},
		{"bad priority", event.New("order.placed", 1, event.WithPriority(event.Priority(42))), event.ErrUnknownPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := store.NewMemoryStore()
			bus := newTestBus(t,
				eventbus.WithLog(log),
				eventbus.WithSchemaRegistry(registry),
			)
			rec := &recorder{}
			bus.SubscribeGlobal(rec.handle)

			err := bus.Publish(context.Background(), tt.evt)
			require.Error(t, err)
			assert.ErrorIs(t, err, eventbus.ErrInvalidEvent)
			var verr *eventbus.ValidationError
			assert.ErrorAs(t, err, &verr)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}

			assert.Equal(t, observability.Snapshot{}, bus.GetMetrics())
			stats, err := log.Stats(context.Background())
			require.NoError(t, err)
			assert.Zero(t, stats.Total)

			// A valid publish afterwards is the only one the handler sees.
			require.NoError(t, bus.Publish(context.Background(), event.New("order.placed", 1)))
			waitDispatched(t, bus, 1)
			assert.Equal(t, 1, rec.count())
		})
	}
}

func TestPublish_GlobalFilterRejects(t *testing.T) {
	log := store.NewMemoryStore()
	bus := newTestBus(t,
		eventbus.WithLog(log),
		eventbus.WithGlobalFilter(filter.New().AddKind("order.placed")),
	)
	rec := &recorder{}
	bus.SubscribeGlobal(rec.handle)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, event.New("order.cancelled", 1)))

	assert.Equal(t, observability.Snapshot{}, bus.GetMetrics())
	history, err := bus.GetHistory(ctx, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, bus.Publish(ctx, event.New("order.placed", 2)))
	waitDispatched(t, bus, 1)

	events, _ := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "order.placed", events[0].Kind())

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Total)
}

func TestSetGlobalFilter(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	bus.SetGlobalFilter(filter.New().SetPriorityRange(event.PriorityHigh, event.PriorityCritical))
	require.NoError(t, bus.Publish(ctx, event.New("a", 1)))
	require.NoError(t, bus.Publish(ctx, event.New("a", 2, event.WithPriority(event.PriorityCritical))))
	assert.EqualValues(t, 1, bus.GetMetrics().EventsPublished)

	bus.SetGlobalFilter(nil)
	require.NoError(t, bus.Publish(ctx, event.New("a", 3)))
	assert.EqualValues(t, 2, bus.GetMetrics().EventsPublished)
}

func TestDispatch_HandlerFailureIsolated(t *testing.T) {
	log := store.NewMemoryStore()
	bus := newTestBus(t, eventbus.WithLog(log))
	ctx := context.Background()

	bus.Subscribe("order.placed", func(context.Context, event.Event) error {
		return errors.New("boom")
	})
	rec := &recorder{}
	bus.Subscribe("order.placed", rec.handle)

	require.NoError(t, bus.Publish(ctx, event.New("order.placed", orderPlaced{OrderID: "o-1"})))
	waitDispatched(t, bus, 1)

	assert.Equal(t, 1, rec.count())
	m := bus.GetMetrics()
	assert.EqualValues(t, 1, m.HandlersFailed)
	assert.EqualValues(t, 1, m.HandlersExecuted)
	assert.EqualValues(t, 1, m.EventsProcessed)
	assert.Zero(t, m.EventsFailed)

	history, err := bus.GetHistory(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, history, 1)

	env, err := log.Get(ctx, history[0].ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusProcessed, env.Status)
	assert.Contains(t, env.Error, "1 of 2 handlers failed")
	assert.Contains(t, env.Error, "boom")
}

func TestDispatch_HandlerPanicIsolated(t *testing.T) {
	bus := newTestBus(t)

	bus.Subscribe("k", func(context.Context, event.Event) error {
		panic("handler exploded")
	})
	rec := &recorder{}
	bus.SubscribeGlobal(rec.handle)

	require.NoError(t, bus.Publish(context.Background(), event.New("k", 1)))
	require.NoError(t, bus.Publish(context.Background(), event.New("k", 2)))
	waitDispatched(t, bus, 2)

	assert.Equal(t, 2, rec.count())
	m := bus.GetMetrics()
	assert.EqualValues(t, 2, m.HandlersFailed)
	assert.EqualValues(t, 2, m.HandlersExecuted)
	assert.EqualValues(t, 2, m.EventsProcessed)
}

func TestDispatch_FIFO(t *testing.T) {
	bus := newTestBus(t)

	var got []int
	done := make(chan struct{})
	const n = 200
	bus.Subscribe("seq", func(_ context.Context, evt event.Event) error {
		p, err := event.Decode[sequenced](evt)
		if err != nil {
			return err
		}
		got = append(got, p.N)
		if len(got) == n {
			close(done)
		}
		return nil
	})

	for i := 0; i < n; i++ {
		// Priority never reorders dispatch.
		prio := event.PriorityLow
		if i%2 == 1 {
			prio = event.PriorityCritical
		}
		require.NoError(t, bus.Publish(context.Background(), event.New("seq", sequenced{N: i}, event.WithPriority(prio))))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not finish")
	}
	for i := range got {
		require.Equal(t, i, got[i])
	}
}

func TestDispatch_HandlerOrder(t *testing.T) {
	bus := newTestBus(t)

	var order []string
	mark := func(name string) eventbus.Handler {
		return func(context.Context, event.Event) error {
			order = append(order, name)
			return nil
		}
	}
	bus.SubscribeGlobal(mark("global-1"))
	bus.Subscribe("k", mark("kind-1"))
	bus.Subscribe("other", mark("other"))
	bus.SubscribeGlobal(mark("global-2"))
	bus.Subscribe("k", mark("kind-2"))

	require.NoError(t, bus.Publish(context.Background(), event.New("k", 1)))
	waitDispatched(t, bus, 1)

	assert.Equal(t, []string{"kind-1", "kind-2", "global-1", "global-2"}, order)
}

func TestCleanupOldEvents(t *testing.T) {
	log := newSQLiteLog(t)
	bus := newTestBus(t, eventbus.WithLog(log))
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, event.New("fresh", 1)))
	waitDispatched(t, bus, 1)

	now := time.Now().UTC()
	for i, age := range []time.Duration{10 * 24 * time.Hour, 8 * 24 * time.Hour, 24 * time.Hour} {
		created := now.Add(-age)
		require.NoError(t, log.Save(ctx, &event.StoredEnvelope{
			Metadata:  event.Metadata{ID: fmt.Sprintf("old-%d", i), Kind: "old", CreatedAt: created},
			Payload:   []byte(`{}`),
			Status:    event.StatusProcessed,
			CreatedAt: created,
		}))
	}

	deleted, err := bus.CleanupOldEvents(ctx, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	rows, err := log.Query(ctx, store.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = bus.CleanupOldEvents(ctx, -1)
	assert.Error(t, err)

	// Retention too large for a time.Duration is rejected, not wrapped
	// into a short age that would sweep recent rows.
	for _, days := range []int{config.MaxRetentionDays + 1, 150000, 213504} {
		deleted, err = bus.CleanupOldEvents(ctx, days)
		assert.ErrorContains(t, err, "at most", days)
		assert.Zero(t, deleted)
	}
	rows, err = log.Query(ctx, store.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	deleted, err = bus.CleanupOldEvents(ctx, config.MaxRetentionDays)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestCleanupOldEvents_LeavesHistory(t *testing.T) {
	bus := newTestBus(t)

	require.NoError(t, bus.Publish(context.Background(), event.New("k", 1)))

	_, err := bus.CleanupOldEvents(context.Background(), 0)
	assert.ErrorIs(t, err, eventbus.ErrPersistenceDisabled)

	history, err := bus.GetHistory(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestGetMetrics_AverageProcessingTime(t *testing.T) {
	bus := newTestBus(t)

	m := bus.GetMetrics()
	assert.Zero(t, m.AverageProcessingTime())
	assert.Equal(t, 0.0, m.AsMap()["average_processing_time"])

	bus.Subscribe("slow", func(context.Context, event.Event) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	})
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), event.New("slow", i)))
	}
	waitDispatched(t, bus, 3)

	m = bus.GetMetrics()
	require.EqualValues(t, 3, m.EventsProcessed)
	assert.Greater(t, m.ProcessingTimeTotal, time.Duration(0))
	assert.Equal(t, m.ProcessingTimeTotal/3, m.AverageProcessingTime())

	asMap := m.AsMap()
	assert.InDelta(t, asMap["processing_time_total"].(float64)/3, asMap["average_processing_time"].(float64), 1e-12)
	assert.EqualValues(t, 0, asMap["queue_depth"])
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus(t)
	rec := &recorder{}

	first := bus.Subscribe("k", rec.handle)
	second := bus.Subscribe("k", rec.handle)
	global := bus.SubscribeGlobal(rec.handle)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, "k", first.Kind())
	assert.True(t, global.Global())

	require.NoError(t, bus.Publish(context.Background(), event.New("k", 1)))
	waitDispatched(t, bus, 1)
	assert.Equal(t, 3, rec.count(), "same handler subscribed twice runs twice")

	assert.True(t, bus.Unsubscribe(first))
	assert.False(t, bus.Unsubscribe(first))
	assert.True(t, global.Unsubscribe())
	assert.False(t, bus.Unsubscribe(nil))

	other := newTestBus(t)
	assert.False(t, other.Unsubscribe(second), "subscription belongs to another bus")

	require.NoError(t, bus.Publish(context.Background(), event.New("k", 2)))
	waitDispatched(t, bus, 2)
	assert.Equal(t, 4, rec.count())
}

func TestSubscribe_Panics(t *testing.T) {
	bus := newTestBus(t)

	assert.Panics(t, func() { bus.Subscribe("", func(context.Context, event.Event) error { return nil }) })
	assert.Panics(t, func() { bus.Subscribe("k", nil) })
	assert.Panics(t, func() { bus.SubscribeGlobal(nil) })
}

func TestHandlerTimeout(t *testing.T) {
	log := store.NewMemoryStore()
	bus := newTestBus(t,
		eventbus.WithLog(log),
		eventbus.WithHandlerTimeout(20*time.Millisecond),
	)

	bus.Subscribe("k", func(ctx context.Context, _ event.Event) error {
		<-ctx.Done()
		return ctx.Err()
	})
	rec := &recorder{}
	bus.Subscribe("k", rec.handle)

	require.NoError(t, bus.Publish(context.Background(), event.New("k", 1)))
	waitDispatched(t, bus, 1)

	assert.Equal(t, 1, rec.count())
	m := bus.GetMetrics()
	assert.EqualValues(t, 1, m.HandlersFailed)
	assert.EqualValues(t, 1, m.HandlersExecuted)

	_, envs := rec.snapshot()
	require.Len(t, envs, 1)
	env, err := log.Get(context.Background(), envs[0].ID())
	require.NoError(t, err)
	assert.Equal(t, event.StatusProcessed, env.Status)
	assert.Contains(t, env.Error, eventbus.ErrHandlerTimeout.Error())
}

func TestEnvelopeFromContext(t *testing.T) {
	_, ok := eventbus.EnvelopeFromContext(context.Background())
	assert.False(t, ok)
	_, ok = eventbus.MetadataFromContext(context.Background())
	assert.False(t, ok)

	bus := newTestBus(t, eventbus.WithSource("orders"))
	var parent event.Metadata
	rec := &recorder{}
	bus.Subscribe("order.placed", func(ctx context.Context, evt event.Event) error {
		meta, ok := eventbus.MetadataFromContext(ctx)
		if !ok {
			return errors.New("no metadata")
		}
		parent = meta
		return bus.Publish(ctx, event.NewFromParent(meta, "order.audited", evt.Payload()))
	})
	bus.Subscribe("order.audited", rec.handle)

	require.NoError(t, bus.Publish(context.Background(), event.New("order.placed",
		orderPlaced{OrderID: "o-1"},
		event.WithPriority(event.PriorityHigh),
		event.WithTags("vip"),
	)))
	waitDispatched(t, bus, 2)

	assert.Equal(t, "orders", parent.Source)
	assert.Equal(t, event.PriorityHigh, parent.Priority)
	assert.Equal(t, []string{"vip"}, parent.Tags)

	_, envs := rec.snapshot()
	require.Len(t, envs, 1)
	child := envs[0]
	assert.Equal(t, event.StatusProcessing, child.Status)
	assert.Equal(t, parent.ID, child.Metadata.CausationID)
	assert.Equal(t, parent.ID, child.Metadata.CorrelationID)
	assert.NotEqual(t, parent.ID, child.ID())
}

func TestGetHistory_Ring(t *testing.T) {
	bus := newTestBus(t, eventbus.WithHistorySize(3))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		kind := "even"
		if i%2 == 1 {
			kind = "odd"
		}
		require.NoError(t, bus.Publish(ctx, event.New(kind, i)))
	}
	waitDispatched(t, bus, 5)

	history, err := bus.GetHistory(ctx, 0, nil)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"even", "odd", "even"}, []string{history[0].Kind, history[1].Kind, history[2].Kind})
	for _, s := range history {
		assert.Equal(t, event.StatusProcessed, s.Status)
	}

	odd, err := bus.GetHistory(ctx, 0, filter.New().AddKind("odd"))
	require.NoError(t, err)
	assert.Len(t, odd, 1)

	limited, err := bus.GetHistory(ctx, 2, nil)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	env, err := bus.Get(ctx, history[0].ID)
	require.NoError(t, err)
	assert.Equal(t, history[0].ID, env.ID())

	_, err = bus.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetHistory_Log(t *testing.T) {
	log := newSQLiteLog(t)
	bus := newTestBus(t, eventbus.WithLog(log), eventbus.WithHistorySize(1))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, bus.Publish(ctx, event.New("k", i)))
	}
	waitDispatched(t, bus, 4)

	history, err := bus.GetHistory(ctx, 10, nil)
	require.NoError(t, err)
	assert.Len(t, history, 4, "the log outlives the ring")
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.After(history[i-1].CreatedAt), "newest first")
	}

	env, err := bus.Get(ctx, history[0].ID)
	require.NoError(t, err)
	assert.JSONEq(t, `3`, string(env.Payload))
}

func TestShutdown_Drains(t *testing.T) {
	bus := newTestBus(t)
	rec := &recorder{}
	bus.Subscribe("k", func(ctx context.Context, evt event.Event) error {
		time.Sleep(time.Millisecond)
		return rec.handle(ctx, evt)
	})

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(context.Background(), event.New("k", i)))
	}

	require.NoError(t, bus.Shutdown(context.Background()))
	assert.Equal(t, 20, rec.count())
	assert.False(t, bus.Running())
	assert.EqualValues(t, 0, bus.GetMetrics().QueueDepth)

	assert.ErrorIs(t, bus.Publish(context.Background(), event.New("k", 99)), eventbus.ErrBusClosed)
	assert.NoError(t, bus.Shutdown(context.Background()), "idempotent")
}

func TestShutdown_Deadline(t *testing.T) {
	bus := newTestBus(t)
	release := make(chan struct{})
	bus.Subscribe("k", func(context.Context, event.Event) error {
		<-release
		return nil
	})
	require.NoError(t, bus.Publish(context.Background(), event.New("k", 1)))
	require.NoError(t, bus.Publish(context.Background(), event.New("k", 2)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, bus.Shutdown(context.Background()))
	assert.EqualValues(t, 2, bus.GetMetrics().EventsProcessed)
}

func TestNewFromSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s := config.DefaultSettings()
	s.Source = "billing"
	s.DBPath = path

	bus, err := eventbus.NewFromSettings(s, eventbus.WithLogger(discardLogger))
	require.NoError(t, err)
	assert.Equal(t, "billing", bus.Source())

	require.NoError(t, bus.Publish(context.Background(), event.New("invoice.sent", 1)))
	require.NoError(t, bus.Shutdown(context.Background()))

	// The bus closed its own log; the rows are on disk.
	log, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer log.Close()
	rows, err := log.Query(context.Background(), store.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "billing", rows[0].Metadata.Source)
	assert.Equal(t, event.StatusProcessed, rows[0].Status)

	s.HistorySize = 0
	_, err = eventbus.NewFromSettings(s)
	assert.ErrorContains(t, err, "history_size")

	s = config.DefaultSettings()
	s.DBPath = filepath.Join(t.TempDir(), "missing-dir", "events.db")
	_, err = eventbus.NewFromSettings(s)
	assert.Error(t, err)
}

func TestNewFromSettings_ShutdownTimeout(t *testing.T) {
	s := config.DefaultSettings()
	s.ShutdownTimeout = 20 * time.Millisecond

	bus, err := eventbus.NewFromSettings(s, eventbus.WithLogger(discardLogger))
	require.NoError(t, err)

	release := make(chan struct{})
	bus.Subscribe("k", func(context.Context, event.Event) error {
		<-release
		return nil
	})
	require.NoError(t, bus.Publish(context.Background(), event.New("k", 1)))

	// No deadline on the context; the configured timeout applies.
	assert.ErrorIs(t, bus.Shutdown(context.Background()), context.DeadlineExceeded)

	close(release)
	require.Eventually(t, func() bool {
		return bus.Shutdown(context.Background()) == nil
	}, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, bus.GetMetrics().EventsProcessed)
}

func TestLogging(t *testing.T) {
	h := &testLogHandler{}
	bus := newTestBus(t, eventbus.WithLogger(slog.New(h)))

	bus.Subscribe("k", func(context.Context, event.Event) error {
		return errors.New("nope")
	})
	require.NoError(t, bus.Publish(context.Background(), event.New("k", 1)))
	waitDispatched(t, bus, 1)
	require.NoError(t, bus.Shutdown(context.Background()))

	msgs := h.messages()
	assert.Contains(t, msgs, "event published")
	assert.Contains(t, msgs, "handler failed")
	assert.Contains(t, msgs, "event dispatched")
	assert.Contains(t, msgs, "event bus stopped")
}
