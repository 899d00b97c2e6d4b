package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for envelope handling.
var (
	// ErrInvalidTransition is returned when a status change would move an
	// envelope backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnknownKind is returned by a Registry asked about a kind it has no schema for.
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrUnknownPriority is returned when parsing an unrecognized priority name.
	ErrUnknownPriority = errors.New("unknown priority")

	// ErrUnknownStatus is returned when parsing an unrecognized status name.
	ErrUnknownStatus = errors.New("unknown status")

	// ErrNilEvent is returned when a nil event is decoded or validated.
	ErrNilEvent = errors.New("nil event")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	EventID string
	From    Status
	To      Status
}

// Error implements error interface.
func (e *TransitionError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
	}
	return fmt.Sprintf("event %s: cannot move from %s to %s", e.EventID, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition so callers can use errors.Is.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
