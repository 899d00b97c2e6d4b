package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
)

// MemoryStore keeps envelopes in memory. It is suitable for testing and
// for buses that want query support without durability.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[string]*memoryRow
	seq    int64
	closed bool
}

type memoryRow struct {
	env *event.StoredEnvelope
	seq int64
}

// Compile-time interface check.
var _ Log = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*memoryRow)}
}

// Save implements Log.
func (s *MemoryStore) Save(_ context.Context, env *event.StoredEnvelope) error {
	if env == nil || env.Metadata.ID == "" {
		return fmt.Errorf("save event: envelope id is required")
	}
	row := prepare(env, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.rows[row.Metadata.ID]; ok {
		return fmt.Errorf("save event %s: %w", row.Metadata.ID, ErrDuplicate)
	}

	s.seq++
	s.rows[row.Metadata.ID] = &memoryRow{env: row, seq: s.seq}
	return nil
}

// Get implements Log.
func (s *MemoryStore) Get(_ context.Context, id string) (*event.StoredEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	row, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return row.env.Clone(), nil
}

// Query implements Log.
func (s *MemoryStore) Query(_ context.Context, q Query) ([]*event.StoredEnvelope, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	matched := make([]*memoryRow, 0, len(s.rows))
	for _, row := range s.rows {
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, row.env.Status) {
			continue
		}
		if !q.Filter.Matches(row.env) {
			continue
		}
		matched = append(matched, &memoryRow{env: row.env.Clone(), seq: row.seq})
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *memoryRow) int {
		c := a.env.CreatedAt.Compare(b.env.CreatedAt)
		if c == 0 {
			c = int(a.seq - b.seq)
		}
		if !q.Ascending {
			c = -c
		}
		return c
	})

	envs := make([]*event.StoredEnvelope, len(matched))
	for i, row := range matched {
		envs[i] = row.env
	}
	return page(envs, q.Offset, q.Limit), nil
}

// UpdateStatus implements Log.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status event.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	row, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if err := row.env.Status.CheckTransition(id, status); err != nil {
		return err
	}
	row.env.Status = status
	row.env.Error = errMsg
	row.env.UpdatedAt = time.Now()
	return nil
}

// Delete implements Log.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.rows[id]; !ok {
		return ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

// CleanupOlderThan implements Log.
func (s *MemoryStore) CleanupOlderThan(_ context.Context, age time.Duration) (int64, error) {
	if age < 0 {
		return 0, fmt.Errorf("cleanup: negative age %s", age)
	}
	cutoff := time.Now().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	var deleted int64
	for id, row := range s.rows {
		if row.env.CreatedAt.Before(cutoff) {
			delete(s.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// Stats implements Log.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}, ErrStoreClosed
	}
	stats := Stats{
		ByStatus: make(map[event.Status]int64),
		ByKind:   make(map[string]int64),
	}
	for _, row := range s.rows {
		stats.Total++
		stats.ByStatus[row.env.Status]++
		stats.ByKind[row.env.Metadata.Kind]++
		if stats.Oldest.IsZero() || row.env.CreatedAt.Before(stats.Oldest) {
			stats.Oldest = row.env.CreatedAt
		}
		if row.env.CreatedAt.After(stats.Newest) {
			stats.Newest = row.env.CreatedAt
		}
	}
	return stats, nil
}

// Close implements Log.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
