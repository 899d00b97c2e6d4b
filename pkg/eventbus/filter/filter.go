// Package filter provides the composable predicate used to gate publishes
// and to scope history, query and replay calls.
//
// A Spec is a conjunction of optional groups. Each group that has been
// configured must match; groups that were never configured are ignored.
//
//	f := filter.New().
//	    AddKind("order.placed").
//	    AddTag("vip").
//	    SetPriorityRange(event.PriorityHigh, event.PriorityCritical)
//
//	if f.Matches(env) { ... }
package filter

import (
	"slices"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
)

// Predicate is a custom match function over a stored envelope.
type Predicate func(env *event.StoredEnvelope) bool

// Spec is a set of predicate groups. The zero value and nil both match
// every envelope.
//
// Builder methods mutate the receiver and return it for chaining. A Spec
// must not be mutated while other goroutines call Matches; use Clone to
// derive a new one.
type Spec struct {
	kinds   []string
	sources []string
	tags    []string

	hasPriority bool
	minPriority event.Priority
	maxPriority event.Priority

	start time.Time
	end   time.Time

	custom []Predicate
}

// New returns an empty Spec.
func New() *Spec {
	return &Spec{}
}

// AddKind adds kinds to the accepted kind set.
func (s *Spec) AddKind(kinds ...string) *Spec {
	s.kinds = appendUnique(s.kinds, kinds)
	return s
}

// AddSource adds sources to the accepted source set.
func (s *Spec) AddSource(sources ...string) *Spec {
	s.sources = appendUnique(s.sources, sources)
	return s
}

// AddTag adds tags. An envelope passes the tag group if it shares any one
// of them.
func (s *Spec) AddTag(tags ...string) *Spec {
	s.tags = appendUnique(s.tags, tags)
	return s
}

// SetPriorityRange accepts priorities in [lo, hi].
func (s *Spec) SetPriorityRange(lo, hi event.Priority) *Spec {
	s.hasPriority = true
	s.minPriority = lo
	s.maxPriority = hi
	return s
}

// SetTimeRange accepts envelopes created in [start, end]. A zero bound is open.
func (s *Spec) SetTimeRange(start, end time.Time) *Spec {
	s.start = start
	s.end = end
	return s
}

// AddCustomPredicate adds a predicate that must also hold.
func (s *Spec) AddCustomPredicate(p Predicate) *Spec {
	if p != nil {
		s.custom = append(s.custom, p)
	}
	return s
}

// Matches reports whether env satisfies every configured group.
// Evaluation stops at the first group that fails.
func (s *Spec) Matches(env *event.StoredEnvelope) bool {
	if s == nil {
		return true
	}
	if env == nil {
		return false
	}

	meta := &env.Metadata

	if len(s.kinds) > 0 && !slices.Contains(s.kinds, meta.Kind) {
		return false
	}
	if len(s.sources) > 0 && !slices.Contains(s.sources, meta.Source) {
		return false
	}
	if len(s.tags) > 0 && !slices.ContainsFunc(s.tags, meta.HasTag) {
		return false
	}
	if s.hasPriority && (meta.Priority < s.minPriority || meta.Priority > s.maxPriority) {
		return false
	}
	if !s.start.IsZero() && env.CreatedAt.Before(s.start) {
		return false
	}
	if !s.end.IsZero() && env.CreatedAt.After(s.end) {
		return false
	}
	for _, p := range s.custom {
		if !p(env) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether no group is configured.
func (s *Spec) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.kinds) == 0 && len(s.sources) == 0 && len(s.tags) == 0 &&
		!s.hasPriority && s.start.IsZero() && s.end.IsZero() && len(s.custom) == 0
}

// Clone returns an independent copy. Custom predicates are shared.
func (s *Spec) Clone() *Spec {
	if s == nil {
		return New()
	}
	out := *s
	out.kinds = slices.Clone(s.kinds)
	out.sources = slices.Clone(s.sources)
	out.tags = slices.Clone(s.tags)
	out.custom = slices.Clone(s.custom)
	return &out
}

// Kinds returns the configured kind set.
func (s *Spec) Kinds() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.kinds)
}

// Sources returns the configured source set.
func (s *Spec) Sources() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.sources)
}

// TimeRange returns the configured creation window. Zero values are open.
func (s *Spec) TimeRange() (start, end time.Time) {
	if s == nil {
		return time.Time{}, time.Time{}
	}
	return s.start, s.end
}

// NeedsScan reports whether s has groups that a store cannot
// express as an indexed lookup (tags, priority, custom predicates).
func (s *Spec) NeedsScan() bool {
	if s == nil {
		return false
	}
	return len(s.tags) > 0 || s.hasPriority || len(s.custom) > 0
}

func appendUnique(dst, values []string) []string {
	for _, v := range values {
		if v != "" && !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
