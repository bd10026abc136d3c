// Package chronology holds the version chains of every component.
package chronology

import (
	"fmt"
	"slices"
	"sync"

	"isaac/pkg/domain"
)

// Store indexes chronologies by nid, referenced component and assemblage.
type Store struct {
	chronologies sync.Map // int32 -> *domain.Chronology

	mu           sync.RWMutex
	byReferenced map[int32][]int32
	byAssemblage map[int32][]int32
	concepts     map[int32]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		byReferenced: map[int32][]int32{},
		byAssemblage: map[int32][]int32{},
		concepts:     map[int32]struct{}{},
	}
}

// Put adds a chronology. Putting the same chronology twice is a no-op; a
// different chronology under a known nid is rejected.
func (s *Store) Put(c *domain.Chronology) error {
	if c == nil {
		return fmt.Errorf("%w: nil chronology", domain.ErrInvalidArgument)
	}
	if prev, loaded := s.chronologies.LoadOrStore(c.Nid(), c); loaded {
		if prev.(*domain.Chronology) == c {
			return nil
		}
		return fmt.Errorf("%w: nid %d already has a chronology", domain.ErrInvalidArgument, c.Nid())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	insertSorted(s.byAssemblage, c.AssemblageNid(), c.Nid())
	if c.ObjectType() == domain.ObjectSemantic {
		insertSorted(s.byReferenced, c.ReferencedComponentNid(), c.Nid())
	} else {
		s.concepts[c.Nid()] = struct{}{}
	}
	return nil
}

func insertSorted(index map[int32][]int32, key, nid int32) {
	list := index[key]
	i, found := slices.BinarySearch(list, nid)
	if !found {
		index[key] = slices.Insert(list, i, nid)
	}
}

// Get returns the chronology for nid.
func (s *Store) Get(nid int32) (*domain.Chronology, bool) {
	v, ok := s.chronologies.Load(nid)
	if !ok {
		return nil, false
	}
	return v.(*domain.Chronology), true
}

// Has reports whether nid has a chronology.
func (s *Store) Has(nid int32) bool {
	_, ok := s.chronologies.Load(nid)
	return ok
}

// SemanticsFor returns the semantics attached to a component, ascending.
func (s *Store) SemanticsFor(referencedNid int32) []int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.byReferenced[referencedNid])
}

// SemanticsForOfAssemblage filters SemanticsFor to one assemblage.
func (s *Store) SemanticsForOfAssemblage(referencedNid, assemblageNid int32) []*domain.Chronology {
	var out []*domain.Chronology
	for _, nid := range s.SemanticsFor(referencedNid) {
		if c, ok := s.Get(nid); ok && c.AssemblageNid() == assemblageNid {
			out = append(out, c)
		}
	}
	return out
}

// MembersOf returns the nids in an assemblage, ascending.
func (s *Store) MembersOf(assemblageNid int32) []int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.byAssemblage[assemblageNid])
}

// ConceptNids returns every concept nid, ascending.
func (s *Store) ConceptNids() []int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SortedNids(s.concepts)
}

// Nids returns every stored nid, ascending.
func (s *Store) Nids() []int32 {
	var out []int32
	s.chronologies.Range(func(k, _ any) bool {
		out = append(out, k.(int32))
		return true
	})
	slices.Sort(out)
	return out
}

// Count returns the number of stored chronologies.
func (s *Store) Count() int {
	n := 0
	s.chronologies.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// ForEach visits chronologies in nid order until fn returns false.
func (s *Store) ForEach(fn func(*domain.Chronology) bool) {
	for _, nid := range s.Nids() {
		if c, ok := s.Get(nid); ok && !fn(c) {
			return
		}
	}
}

// Export snapshots every chronology in nid order.
func (s *Store) Export() ([]domain.ChronologyState, error) {
	out := make([]domain.ChronologyState, 0)
	var err error
	s.ForEach(func(c *domain.Chronology) bool {
		var st domain.ChronologyState
		st, err = c.State()
		if err != nil {
			return false
		}
		out = append(out, st)
		return true
	})
	return out, err
}

// Import rebuilds chronologies from a snapshot.
func (s *Store) Import(states []domain.ChronologyState, stamps domain.StampReader) error {
	for _, st := range states {
		c, err := domain.ChronologyFromState(st, stamps)
		if err != nil {
			return err
		}
		if err := s.Put(c); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrCorruptState, err)
		}
	}
	return nil
}
