package taxonomy

import (
	"cmp"
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"isaac/internal/coordinate"
	"isaac/internal/logic"
	"isaac/pkg/domain"
)

const defaultCacheSize = 64

// Store keeps one Record per concept. Records are copied on write, so a
// record obtained from the store never changes underneath the reader.
type Store struct {
	mu         sync.RWMutex
	records    map[int32]*Record
	generation atomic.Uint64

	meta    domain.MetadataNids
	logger  domain.Logger
	workers int
	cache   *lru.Cache[cacheKey, *Snapshot]
}

type cacheKey struct {
	fingerprint    uint64
	premise        domain.PremiseType
	generation     uint64
	pathGeneration uint64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for skipped graphs.
func WithLogger(logger domain.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWorkers bounds the goroutines used to build a snapshot.
func WithWorkers(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithCacheSize sets how many snapshots are kept.
func WithCacheSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.cache, _ = lru.New[cacheKey, *Snapshot](n)
		}
	}
}

// NewStore creates an empty taxonomy for the given metadata concepts.
func NewStore(meta domain.MetadataNids, opts ...Option) *Store {
	s := &Store{
		records: make(map[int32]*Record),
		meta:    meta,
		logger:  domain.NoopLogger{},
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache, _ = lru.New[cacheKey, *Snapshot](defaultCacheSize)
	}
	return s
}

// Generation changes whenever any record changes.
func (s *Store) Generation() uint64 { return s.generation.Load() }

// Invalidate drops cached snapshots, for changes the store cannot see such
// as new stamp aliases.
func (s *Store) Invalidate() {
	s.generation.Add(1)
	s.cache.Purge()
}

// Record returns the record of conceptNid.
func (s *Store) Record(conceptNid int32) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[conceptNid]
	return r, ok
}

// ConceptNids returns every concept with a record, ascending.
func (s *Store) ConceptNids() []int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int32, 0, len(s.records))
	for nid := range s.records {
		out = append(out, nid)
	}
	slices.Sort(out)
	return out
}

func (s *Store) modify(conceptNid int32, fn func(*Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *Record
	if current, ok := s.records[conceptNid]; ok {
		next = current.clone()
	} else {
		next = NewRecord(conceptNid)
	}
	if err := fn(next); err != nil {
		return err
	}
	s.records[conceptNid] = next
	s.generation.Add(1)
	return nil
}

// Update routes a changed chronology to the matching indexer. Chronologies
// that do not affect the taxonomy are ignored.
func (s *Store) Update(c *domain.Chronology) error {
	switch {
	case c.ObjectType() == domain.ObjectConcept:
		return s.UpdateConceptStatus(c)
	case c.AssemblageNid() == s.meta.StatedAssemblage:
		return s.UpdateFromLogicGraph(c, domain.PremiseStated)
	case c.AssemblageNid() == s.meta.InferredAssemblage:
		return s.UpdateFromLogicGraph(c, domain.PremiseInferred)
	}
	return nil
}

// UpdateConceptStatus rebuilds the concept's own status records.
func (s *Store) UpdateConceptStatus(concept *domain.Chronology) error {
	if concept.ObjectType() != domain.ObjectConcept {
		return fmt.Errorf("%w: nid %d is not a concept", domain.ErrInvalidArgument, concept.Nid())
	}
	nid := concept.Nid()
	return s.modify(nid, func(r *Record) error {
		r.clearFlag(domain.FlagConceptStatus)
		for _, seq := range concept.StampSequences() {
			rec, err := domain.NewTypeStampTaxonomyRecord(nid, seq, domain.FlagConceptStatus)
			if err != nil {
				return err
			}
			if err := r.Add(nid, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateFromLogicGraph rebuilds the edges a logic graph chronology
// contributes to its referenced concept under premise.
func (s *Store) UpdateFromLogicGraph(graph *domain.Chronology, premise domain.PremiseType) error {
	if graph.VersionType() != domain.VersionLogicGraph {
		return fmt.Errorf("%w: nid %d is not a logic graph", domain.ErrInvalidArgument, graph.Nid())
	}
	conceptNid := graph.ReferencedComponentNid()
	return s.modify(conceptNid, func(r *Record) error {
		r.clearFlag(premise.Flag())
		var stamps []int32
		for _, v := range graph.Versions() {
			seq := v.StampSequence()
			stamps = append(stamps, seq)
			data, ok := v.Data().(domain.LogicGraphData)
			if !ok || len(data.Graph) == 0 {
				continue
			}
			expr, err := logic.Decode(data.Graph)
			if err != nil {
				return fmt.Errorf("logic graph %d stamp %d: %w", graph.Nid(), seq, err)
			}
			for _, edge := range logic.ParentsAndRoles(expr, s.meta.IsA) {
				rec, err := domain.NewTypeStampTaxonomyRecord(edge.TypeNid, seq, premise.Flag())
				if err != nil {
					s.logger.Warn("skipping taxonomy edge", "concept", conceptNid, "type", edge.TypeNid, "error", err)
					continue
				}
				if err := r.Add(edge.DestinationNid, rec); err != nil {
					return err
				}
			}
		}
		slices.Sort(stamps)
		r.graphStamps[premise] = stamps
		return nil
	})
}

// Snapshot returns the taxonomy visible to coord, building it when no
// cached snapshot matches the current records and paths.
func (s *Store) Snapshot(ctx context.Context, calc *coordinate.Calculator, coord domain.StampCoordinate, premise domain.PremiseType) (*Snapshot, error) {
	key := cacheKey{
		fingerprint:    coordinate.Fingerprint(coord),
		premise:        premise,
		generation:     s.Generation(),
		pathGeneration: calc.Paths().Generation(),
	}
	if snap, ok := s.cache.Get(key); ok && snap.coord.Equal(coord) {
		return snap, nil
	}
	snap, err := s.build(ctx, calc, coord, premise)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, snap)
	return snap, nil
}

func (s *Store) snapshotRecords() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Record) int { return cmp.Compare(a.conceptNid, b.conceptNid) })
	return out
}
