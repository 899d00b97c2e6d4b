package eventbus

import (
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/filter"
)

// history is a bounded ring of recently published envelopes. Once full,
// each append evicts the oldest entry.
type history struct {
	mu    sync.Mutex
	limit int
	ring  *queue.Queue
	index map[string]*event.StoredEnvelope
}

func newHistory(limit int) *history {
	return &history{
		limit: limit,
		ring:  queue.New(),
		index: make(map[string]*event.StoredEnvelope, limit),
	}
}

func (h *history) add(env *event.StoredEnvelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.ring.Length() >= h.limit {
		old := h.ring.Remove().(*event.StoredEnvelope)
		delete(h.index, old.ID())
	}
	entry := env.Clone()
	h.ring.Add(entry)
	h.index[entry.ID()] = entry
}

// update applies a status change to a retained entry. Evicted entries and
// backward transitions are ignored.
func (h *history) update(id string, status event.Status, errMsg string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.index[id]
	if !ok || !entry.Status.CanTransitionTo(status) {
		return
	}
	entry.Status = status
	entry.Error = errMsg
	entry.UpdatedAt = at
}

// list returns up to limit summaries matching spec, newest first. A
// non-positive limit returns every match.
func (h *history) list(limit int, spec *filter.Spec) []event.Summary {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []event.Summary
	for i := h.ring.Length() - 1; i >= 0; i-- {
		env := h.ring.Get(i).(*event.StoredEnvelope)
		if !spec.Matches(env) {
			continue
		}
		out = append(out, env.Summary())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ring.Length()
}
