package index

import (
	"sync"

	"tagfs/internal/state"
)

// Store owns an Index and guards it with a single read/write lock. Readers
// run concurrently; writers are exclusive. Callbacks must not block on I/O.
type Store struct {
	mu  sync.RWMutex
	idx *Index
}

// NewStore takes ownership of idx.
func NewStore(idx *Index) *Store {
	return &Store{idx: idx}
}

// View runs fn under the read lock. fn must not retain idx.
func (s *Store) View(fn func(idx *Index) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.idx)
}

// Update runs fn under the write lock. When fn succeeds and changed the
// index, the returned snapshot captures the new state; it is nil otherwise.
// fn must validate before editing so that a failure leaves no change behind.
func (s *Store) Update(fn func(idx *Index) error) (*state.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.idx.generation
	if err := fn(s.idx); err != nil {
		return nil, err
	}
	if s.idx.generation == before {
		return nil, nil
	}
	return s.idx.Snapshot(), nil
}

// Snapshot captures the current state under the read lock.
func (s *Store) Snapshot() *state.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Snapshot()
}
