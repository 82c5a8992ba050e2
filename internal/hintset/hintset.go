// Package hintset holds the engine's pending-hint buffer: the set of
// change notifications accumulated since the watcher last drained them.
// Hints are deduplicated on insertion so a storm of identical notifications
// costs one entry, and the whole set is drained atomically so the watcher
// never observes a half-drained buffer.
package hintset

import (
	"sync"

	"github.com/coachpo/viewhub/internal/schema"
)

// Set is a deduplicated, concurrency-safe collection of pending hints.
type Set[N comparable] struct {
	mu      sync.Mutex
	pending map[schema.HintKey[N]]schema.Hint[N]
}

// New constructs an empty hint set.
func New[N comparable]() *Set[N] {
	return &Set[N]{pending: make(map[schema.HintKey[N]]schema.Hint[N])}
}

// Add inserts the given hints, collapsing any that are structurally equal
// to a hint already pending.
func (s *Set[N]) Add(hints ...schema.Hint[N]) {
	if len(hints) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hints {
		s.pending[h.Key()] = h
	}
}

// Drain removes and returns all pending hints, resetting the set to empty.
// Returns nil if nothing was pending.
func (s *Set[N]) Drain() []schema.Hint[N] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]schema.Hint[N], 0, len(s.pending))
	for _, h := range s.pending {
		out = append(out, h)
	}
	s.pending = make(map[schema.HintKey[N]]schema.Hint[N])
	return out
}

// Len reports the number of distinct hints currently pending.
func (s *Set[N]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
