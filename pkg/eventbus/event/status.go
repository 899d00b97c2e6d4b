package event

import (
	"fmt"
	"strings"
)

// Priority ranks an event from low to critical.
// Priority is recorded on every envelope and can be filtered on, but the
// dispatch queue is strictly FIFO and never reorders by it.
type Priority int

// Priority levels, ordered lowest first.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"low", "normal", "high", "critical"}

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Valid reports whether p is one of the defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority converts a name such as "high" to a Priority.
// Matching is case-insensitive.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Priority(i), nil
		}
	}
	return PriorityNormal, fmt.Errorf("%w: %q", ErrUnknownPriority, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPriority, int(p))
	}
	return []byte(priorityNames[p]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Status is the lifecycle state of a stored envelope.
type Status string

// Envelope statuses.
//
// Envelopes only move forward: Pending -> Processing -> Processed|Failed.
// Cancelled is reachable from Pending only. Nothing in the bus produces it
// today; it exists so external tooling can withdraw an envelope that has
// not started dispatch.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusProcessed,
	StatusFailed,
	StatusCancelled,
}

// ParseStatus converts a name such as "failed" to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// String returns the status name.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is a defined status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusProcessed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	default:
		return 2
	}
}

// CanTransitionTo reports whether moving from s to next is legal.
// Re-applying the current status is not a transition and is rejected.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return s == StatusPending
	}
	return next.rank() > s.rank()
}

// CheckTransition returns a *TransitionError when s cannot move to next.
func (s Status) CheckTransition(eventID string, next Status) error {
	if s.CanTransitionTo(next) {
		return nil
	}
	return &TransitionError{EventID: eventID, From: s, To: next}
}
