package eventbus_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventbus/pkg/eventbus"
	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
)

// Payload types used across tests.

type orderPlaced struct {
	OrderID string  `json:"order_id"`
	Total   float64 `json:"total"`
}

type sequenced struct {
	N int `json:"n"`
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestBus creates a bus with a silent logger and shuts it down when the
// test ends.
func newTestBus(t *testing.T, opts ...eventbus.Option) *eventbus.Bus {
	t.Helper()
	bus := eventbus.New(append([]eventbus.Option{eventbus.WithLogger(discardLogger)}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = bus.Shutdown(ctx)
	})
	return bus
}

// waitDispatched blocks until n envelopes have finished dispatch.
func waitDispatched(t *testing.T, bus *eventbus.Bus, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		m := bus.GetMetrics()
		return m.EventsProcessed+m.EventsFailed >= n
	}, 5*time.Second, time.Millisecond, "dispatch did not finish")
}

// recorder collects the events a handler receives.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
	envs   []*event.StoredEnvelope
}

func (r *recorder) handle(ctx context.Context, evt event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	if env, ok := eventbus.EnvelopeFromContext(ctx); ok {
		r.envs = append(r.envs, env)
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) snapshot() ([]event.Event, []*event.StoredEnvelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...), append([]*event.StoredEnvelope(nil), r.envs...)
}

// testLogHandler captures log records as JSON lines.
type testLogHandler struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (h *testLogHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	return json.NewEncoder(&h.buf).Encode(data)
}

func (h *testLogHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *testLogHandler) WithGroup(_ string) slog.Handler {
	return h
}

func (h *testLogHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []string
	for _, line := range bytes.Split(h.buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err == nil {
			out = append(out, m["msg"].(string))
		}
	}
	return out
}
