package dataset

import (
	"errors"
	"sync/atomic"
)

// ErrNotLoaded is returned before the first snapshot has been published.
var ErrNotLoaded = errors.New("dataset snapshot not loaded")

// Accessor is the read side of the dataset used by the query engine.
type Accessor interface {
	Current() (*Snapshot, error)
}

// Store holds the current snapshot. Publish swaps it atomically, so a
// reader sees either the old or the new snapshot and never a mix.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates an empty store, optionally seeded with a snapshot.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	if initial != nil {
		s.current.Store(initial)
	}
	return s
}

// Current returns the published snapshot.
func (s *Store) Current() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	return snap, nil
}

// Publish makes snap current and returns the snapshot it replaced.
func (s *Store) Publish(snap *Snapshot) *Snapshot {
	return s.current.Swap(snap)
}
