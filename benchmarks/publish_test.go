package benchmarks

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus"
	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

// Payload is a small representative event body.
type Payload struct {
	ID    int               `json:"id"`
	Name  string            `json:"name"`
	Attrs map[string]string `json:"attrs"`
}

func newBus(b *testing.B, opts ...eventbus.Option) *eventbus.Bus {
	b.Helper()
	bus := eventbus.New(opts...)
	bus.Subscribe("bench", func(context.Context, event.Event) error { return nil })
	b.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = bus.Shutdown(ctx)
	})
	return bus
}

func publishN(b *testing.B, bus *eventbus.Bus) {
	ctx := context.Background()
	attrs := map[string]string{"region": "eu", "tier": "gold"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := bus.Publish(ctx, event.New("bench", Payload{ID: i, Name: "item", Attrs: attrs})); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkPublish_NoLog measures publish with only the in-memory history.
func BenchmarkPublish_NoLog(b *testing.B) {
	publishN(b, newBus(b))
}

// BenchmarkPublish_MemoryLog measures publish against the in-memory log.
func BenchmarkPublish_MemoryLog(b *testing.B) {
	publishN(b, newBus(b, eventbus.WithLog(store.NewMemoryStore())))
}

// BenchmarkPublish_SQLite measures publish against a file-backed SQLite log.
func BenchmarkPublish_SQLite(b *testing.B) {
	log, err := store.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = log.Close() })
	publishN(b, newBus(b, eventbus.WithLog(log)))
}

// BenchmarkPublish_Parallel measures contention between concurrent publishers.
func BenchmarkPublish_Parallel(b *testing.B) {
	bus := newBus(b)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			if err := bus.Publish(ctx, event.New("bench", Payload{Name: "item"})); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// BenchmarkPublishAndDrain measures end-to-end time until every envelope
// has been dispatched.
func BenchmarkPublishAndDrain(b *testing.B) {
	for i := 0; i < b.N; i++ {
		bus := eventbus.New()
		bus.Subscribe("bench", func(context.Context, event.Event) error { return nil })
		for j := 0; j < 1000; j++ {
			_ = bus.Publish(context.Background(), event.New("bench", j))
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := bus.Shutdown(ctx); err != nil {
			b.Fatal(err)
		}
		cancel()
	}
}
