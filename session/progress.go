package session

import (
	"fmt"
	"sync"
	"time"

	"vidfetch/internal"
)

// ProgressStore holds the last observed state of every session. Readers
// never block each other; each session has a single writer, its task.
type ProgressStore struct {
	mu      sync.RWMutex
	entries map[string]internal.ProgressState
	now     func() time.Time
}

// NewProgressStore creates an empty store
func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		entries: make(map[string]internal.ProgressState),
		now:     time.Now,
	}
}

// Get returns a copy of the state for id
func (s *ProgressStore) Get(id string) (internal.ProgressState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.entries[id]
	return state, ok
}

// Set records a new state for id. Terminal entries are final: any later
// write is rejected.
func (s *ProgressStore) Set(id string, state internal.ProgressState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.entries[id]; ok && current.State.Terminal() {
		return fmt.Errorf("session %s already %s", id, current.State)
	}
	if state.State == internal.StateFailed && state.Progress >= 100 {
		state.Progress = 99
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = s.now()
	}
	s.entries[id] = state
	return nil
}

// Remove drops the entry for id
func (s *ProgressStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Snapshot returns a copy of all entries
func (s *ProgressStore) Snapshot() map[string]internal.ProgressState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]internal.ProgressState, len(s.entries))
	for id, state := range s.entries {
		out[id] = state
	}
	return out
}

// Len returns the number of tracked sessions
func (s *ProgressStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
