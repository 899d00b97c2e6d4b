package eventbus

import (
	"errors"
	"fmt"
)

// Sentinel errors for publishing and lifecycle.
var (
	// ErrBusClosed indicates Publish, Replay or RetryFailed was called after Shutdown.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrInvalidEvent indicates Publish was called with something that is not
	// a usable event. Returned wrapped in a *ValidationError.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrPersistenceDisabled indicates an operation that needs the event log
	// was called on a bus without one.
	ErrPersistenceDisabled = errors.New("persistence is disabled")
)

// Sentinel errors for dispatch.
var (
	// ErrHandlerTimeout indicates a handler ran longer than the configured
	// handler timeout and was abandoned.
	ErrHandlerTimeout = errors.New("handler timed out")

	// ErrHandlerPanic indicates a handler panicked.
	ErrHandlerPanic = errors.New("handler panicked")
)

// ValidationError describes why Publish rejected an event.
// errors.Is(err, ErrInvalidEvent) is true for every ValidationError.
type ValidationError struct {
	// Kind is the event kind, empty when it could not be read.
	Kind string
	// Reason is a short description of the problem.
	Reason string
	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msg := "invalid event"
	if e.Kind != "" {
		msg = fmt.Sprintf("invalid event %q", e.Kind)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports ErrInvalidEvent as a match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidEvent
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a failure from one handler invocation.
// It is logged and counted; dispatch continues with the next handler.
type HandlerError struct {
	// SubscriptionID identifies the handler's subscription.
	SubscriptionID string
	// EventID is the envelope being dispatched.
	EventID string
	// Kind is the envelope kind.
	Kind string
	// Err is the handler's error, ErrHandlerTimeout, or a *PanicError.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for %s event %s: %v", e.SubscriptionID, e.Kind, e.EventID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError captures a recovered panic with its stack trace.
type PanicError struct {
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns ErrHandlerPanic for errors.Is support.
func (e *PanicError) Unwrap() error {
	return ErrHandlerPanic
}

// DispatchError is a failure outside the per-handler boundary. The envelope
// is marked failed and the worker moves on to the next one.
type DispatchError struct {
	// EventID is the envelope that failed.
	EventID string
	// Kind is the envelope kind.
	Kind string
	// Value is the recovered panic value.
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch of %s event %s failed: %v", e.Kind, e.EventID, e.Value)
}
