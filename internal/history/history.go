// Package history keeps a bounded undo/redo record of editor state.
package history

import (
	"reflect"
	"slices"
	"sync"

	"github.com/google/go-cmp/cmp"
)

// State is a copy of the three partitions of a Store.
// Past is oldest first; Future is nearest-next first.
type State[T any] struct {
	Past    []T
	Present T
	Future  []T
}

// Option configures a Store.
type Option[T any] func(*Store[T])

// WithEqual replaces the structural equality used to suppress duplicate writes.
func WithEqual[T any](equal func(a, b T) bool) Option[T] {
	return func(s *Store[T]) {
		if equal != nil {
			s.equal = equal
		}
	}
}

// WithClone sets the function used to snapshot every committed value, so that
// later mutation of a caller's slice or map cannot rewrite history.
func WithClone[T any](clone func(T) T) Option[T] {
	return func(s *Store[T]) {
		if clone != nil {
			s.clone = clone
		}
	}
}

// Store is a bounded undo/redo container. A Store belongs to a single editor
// session; the mutex only serializes callers within that session.
type Store[T any] struct {
	mu      sync.Mutex
	past    []T
	present T
	future  []T
	max     int

	equal func(a, b T) bool
	clone func(T) T
}

// New creates a Store whose present is initial. A negative maxHistorySize is
// treated as zero, which disables undo.
func New[T any](initial T, maxHistorySize int, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		max:   max(maxHistorySize, 0),
		equal: defaultEqual[T],
		clone: func(v T) T { return v },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.present = s.clone(initial)
	return s
}

// defaultEqual compares structurally, unexported fields included.
func defaultEqual[T any](a, b T) bool {
	return cmp.Equal(a, b, cmp.Exporter(func(reflect.Type) bool { return true }))
}

// SetState commits v. A value equal to the present is ignored. With
// addToHistory false the present is replaced and past/future are kept.
func (s *Store[T]) SetState(v T, addToHistory bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.equal(s.present, v) {
		return
	}
	if !addToHistory {
		s.present = s.clone(v)
		return
	}
	s.past = append(s.past, s.present)
	if over := len(s.past) - s.max; over > 0 {
		s.past = slices.Delete(s.past, 0, over)
	}
	s.present = s.clone(v)
	s.future = nil
}

// Commit is SetState(v, true).
func (s *Store[T]) Commit(v T) {
	s.SetState(v, true)
}

// Undo steps back one entry. It reports false when there is nothing to undo.
func (s *Store[T]) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.past) == 0 {
		return false
	}
	last := len(s.past) - 1
	prev := s.past[last]
	s.past = s.past[:last]
	s.future = slices.Insert(s.future, 0, s.present)
	s.present = prev
	return true
}

// Redo re-applies the nearest undone entry. It reports false when there is
// nothing to redo.
func (s *Store[T]) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.future) == 0 {
		return false
	}
	next := s.future[0]
	s.future = slices.Delete(s.future, 0, 1)
	s.past = append(s.past, s.present)
	s.present = next
	return true
}

// ClearHistory drops past and future and keeps the present.
func (s *Store[T]) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.past = nil
	s.future = nil
}

// State returns a copy of the present value.
func (s *Store[T]) State() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clone(s.present)
}

func (s *Store[T]) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.past) > 0
}

func (s *Store[T]) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.future) > 0
}

// Snapshot returns a copy of past, present and future.
func (s *Store[T]) Snapshot() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State[T]{
		Past:    s.cloneEntries(s.past),
		Present: s.clone(s.present),
		Future:  s.cloneEntries(s.future),
	}
}

func (s *Store[T]) cloneEntries(in []T) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = s.clone(v)
	}
	return out
}
