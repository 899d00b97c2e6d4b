// Package store provides the persistence log for stored envelopes.
//
// Two implementations are provided:
//   - SQLiteStore: durable, file-backed log for production use
//   - MemoryStore: map-backed log for tests and ephemeral buses
//
// Both enforce the forward-only status rules of event.Status on
// UpdateStatus, so an envelope can never move backwards in the log.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/filter"
)

//go:generate mockgen -destination=../internal/mocks/mock_log.go -package=mocks -source=store.go

// Sentinel errors for log operations.
var (
	// ErrNotFound is returned when an envelope does not exist.
	ErrNotFound = errors.New("event not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store closed")

	// ErrDuplicate is returned when saving an envelope whose id already exists.
	ErrDuplicate = errors.New("event already exists")
)

// Log persists envelopes and their dispatch outcome.
// Implementations must be safe for concurrent use.
type Log interface {
	// Save appends a new envelope. Saving an existing id returns ErrDuplicate.
	Save(ctx context.Context, env *event.StoredEnvelope) error

	// Get returns the envelope with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*event.StoredEnvelope, error)

	// Query returns envelopes matching q, newest first unless q.Ascending.
	Query(ctx context.Context, q Query) ([]*event.StoredEnvelope, error)

	// UpdateStatus moves an envelope to status and records errMsg.
	// Illegal transitions return an error wrapping event.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, status event.Status, errMsg string) error

	// Delete removes an envelope, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// CleanupOlderThan deletes envelopes created strictly before now-age
	// and returns how many were removed.
	CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Stats summarizes the log contents.
	Stats(ctx context.Context) (Stats, error)

	// Close releases resources. Operations after Close return ErrStoreClosed.
	Close() error
}

// Query scopes a log read.
type Query struct {
	// Filter restricts results. Nil matches everything.
	Filter *filter.Spec

	// Statuses restricts results to the listed statuses. Empty means any.
	Statuses []event.Status

	// Limit caps the number of results. Zero or negative means no limit.
	Limit int

	// Offset skips that many matching results.
	Offset int

	// Ascending returns oldest first. The default is newest first.
	Ascending bool
}

// Stats summarizes a log.
type Stats struct {
	Total    int64                  `json:"total"`
	ByStatus map[event.Status]int64 `json:"by_status"`
	ByKind   map[string]int64       `json:"by_kind"`
	Oldest   time.Time              `json:"oldest,omitempty"`
	Newest   time.Time              `json:"newest,omitempty"`
}

// timeLayout is fixed-width so lexical order of stored timestamps equals
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// prepare fills defaults on a copy of env before it is written.
func prepare(env *event.StoredEnvelope, now time.Time) *event.StoredEnvelope {
	out := env.Clone()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = out.Metadata.CreatedAt
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}
	if out.Status == "" {
		out.Status = event.StatusPending
	}
	if len(out.Payload) == 0 {
		out.Payload = []byte("null")
	}
	return out
}

// page applies offset and limit to an already-ordered slice.
func page(envs []*event.StoredEnvelope, offset, limit int) []*event.StoredEnvelope {
	if offset > 0 {
		if offset >= len(envs) {
			return nil
		}
		envs = envs[offset:]
	}
	if limit > 0 && len(envs) > limit {
		envs = envs[:limit]
	}
	return envs
}
