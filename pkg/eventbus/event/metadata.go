package event

import (
	"encoding/json"
	"slices"
	"time"
)

// Metadata describes a published event. It is built once by the bus at
// publish time and never changed afterwards.
type Metadata struct {
	ID            string     `json:"event_id"`
	Kind          string     `json:"kind"`
	Source        string     `json:"source"`
	Priority      Priority   `json:"priority"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	Tags          []string   `json:"tags,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	CausationID   string     `json:"causation_id,omitempty"`
}

// HasTag reports whether the metadata carries tag.
func (m Metadata) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// IsExpired reports whether an expiry is set and has passed at now.
// The bus stores expiry but does not act on it.
func (m Metadata) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	out := m
	out.Tags = slices.Clone(m.Tags)
	if m.ExpiresAt != nil {
		exp := *m.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

// StoredEnvelope is the unit written to the log: metadata, the JSON
// payload, and the dispatch outcome.
type StoredEnvelope struct {
	Metadata  Metadata        `json:"metadata"`
	Payload   json.RawMessage `json:"payload"`
	Status    Status          `json:"status"`
	Error     string          `json:"error_message,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ID returns the envelope's event id.
func (e *StoredEnvelope) ID() string {
	return e.Metadata.ID
}

// Clone returns a deep copy of the envelope.
func (e *StoredEnvelope) Clone() *StoredEnvelope {
	if e == nil {
		return nil
	}
	out := *e
	out.Metadata = e.Metadata.Clone()
	out.Payload = slices.Clone(e.Payload)
	return &out
}

// Summary returns the compact view used by history listings.
func (e *StoredEnvelope) Summary() Summary {
	return Summary{
		ID:        e.Metadata.ID,
		Kind:      e.Metadata.Kind,
		Source:    e.Metadata.Source,
		Priority:  e.Metadata.Priority,
		Tags:      slices.Clone(e.Metadata.Tags),
		Status:    e.Status,
		Error:     e.Error,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// Summary is a payload-free view of a stored envelope.
type Summary struct {
	ID        string    `json:"event_id"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	Priority  Priority  `json:"priority"`
	Tags      []string  `json:"tags,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error_message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
