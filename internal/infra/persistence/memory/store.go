// Package memory keeps the datastore snapshot in process memory. Snapshots
// are held in their encoded bucket form so callers never share state with
// the store.
package memory

import (
	"context"
	"maps"
	"sync"

	"isaac/pkg/domain"
)

var _ domain.StateStore = (*Store)(nil)

// Store implements domain.StateStore.
type Store struct {
	mu      sync.RWMutex
	buckets map[string][]byte
	saves   int
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{} }

func (s *Store) Driver() domain.StorageDriver { return domain.StorageMemory }

func (s *Store) Load(ctx context.Context) (domain.DatastoreState, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.DatastoreState{}, false, err
	}
	s.mu.RLock()
	buckets := s.buckets
	s.mu.RUnlock()
	if buckets == nil {
		return domain.DatastoreState{}, false, nil
	}
	st, err := domain.StateFromBuckets(buckets)
	return st, err == nil, err
}

func (s *Store) Save(ctx context.Context, state domain.DatastoreState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buckets, err := state.Buckets()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = maps.Clone(buckets)
	s.saves++
	return nil
}

// Saves counts successful Save calls.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *Store) Close() error { return nil }
