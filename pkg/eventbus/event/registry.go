package event

import (
	"fmt"
	"slices"
	"sync"
)

// Schema declares a known event kind.
type Schema struct {
	// Kind is the event kind (e.g., "order.placed").
	Kind string

	// Description explains the event's purpose.
	Description string

	// Tags enable categorization.
	Tags []string

	// Validator is an optional custom validation function.
	Validator func(Event) error
}

// Validate checks if an event conforms to this schema.
func (s *Schema) Validate(evt Event) error {
	if evt.Kind() != s.Kind {
		return fmt.Errorf("event kind mismatch: expected %s, got %s", s.Kind, evt.Kind())
	}
	if s.Validator != nil {
		if err := s.Validator(evt); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// Registry holds the set of recognized event kinds.
// A bus configured with a Registry rejects events of unregistered kinds.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds or replaces the schema for a kind.
func (r *Registry) Register(schema *Schema) error {
	if schema == nil || schema.Kind == "" {
		return fmt.Errorf("event kind is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schema.Kind] = schema
	return nil
}

// MustRegister adds a schema, panicking on error.
func (r *Registry) MustRegister(schema *Schema) {
	if err := r.Register(schema); err != nil {
		panic(fmt.Sprintf("failed to register event schema: %v", err))
	}
}

// Get returns the schema for a kind.
func (r *Registry) Get(kind string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.schemas[kind]
	return schema, ok
}

// Has returns true if a schema exists for the kind.
func (r *Registry) Has(kind string) bool {
	_, ok := r.Get(kind)
	return ok
}

// Kinds returns all registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.schemas))
	for k := range r.schemas {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Validate checks evt against the schema registered for its kind.
func (r *Registry) Validate(evt Event) error {
	if evt == nil {
		return ErrNilEvent
	}
	schema, ok := r.Get(evt.Kind())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, evt.Kind())
	}
	return schema.Validate(evt)
}
