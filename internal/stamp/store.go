// Package stamp interns STAMP tuples and tracks stamp aliases.
package stamp

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"isaac/internal/segmented"
	"isaac/pkg/domain"
)

// Store is the append-only stamp table of one datastore. Sequences start at 1.
type Store struct {
	logger   domain.Logger
	describe func(nid int32) string

	byStamp sync.Map // domain.Stamp -> int32
	mu      sync.Mutex
	stamps  *segmented.Array[domain.Stamp]
	last    atomic.Int32

	pendingMu sync.Mutex
	pending   map[int32]struct{}

	aliasMu  sync.RWMutex
	aliases  map[int32]int32   // alias -> target
	reverse  map[int32][]int32 // target -> aliases
	resolved sync.Map          // int32 -> int32
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger domain.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNidDescriber renders nids by name in DescribeStampSequence.
func WithNidDescriber(fn func(nid int32) string) Option {
	return func(s *Store) { s.describe = fn }
}

// New returns an empty stamp store.
func New(opts ...Option) *Store {
	s := &Store{
		logger:   domain.NoopLogger{},
		describe: func(nid int32) string { return fmt.Sprintf("%d", nid) },
		stamps:   segmented.New[domain.Stamp](segmented.DefaultSegmentSize),
		pending:  map[int32]struct{}{},
		aliases:  map[int32]int32{},
		reverse:  map[int32][]int32{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetStampSequence returns the sequence of an identical tuple, allocating a
// new one when the tuple has not been seen.
func (s *Store) GetStampSequence(status domain.Status, time int64, authorNid, moduleNid, pathNid int32) int32 {
	return s.Intern(domain.Stamp{Status: status, Time: time, AuthorNid: authorNid, ModuleNid: moduleNid, PathNid: pathNid})
}

// Intern is GetStampSequence for an assembled stamp.
func (s *Store) Intern(st domain.Stamp) int32 {
	seq := s.intern(st)
	if st.IsUncommitted() {
		s.pendingMu.Lock()
		s.pending[seq] = struct{}{}
		s.pendingMu.Unlock()
	}
	return seq
}

func (s *Store) intern(st domain.Stamp) int32 {
	if v, ok := s.byStamp.Load(st); ok {
		return v.(int32)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.byStamp.Load(st); ok {
		return v.(int32)
	}
	seq := s.last.Load() + 1
	stored := st
	s.stamps.Store(int(seq-1), &stored)
	s.last.Store(seq)
	s.byStamp.Store(st, seq)
	return seq
}

// Stamp returns the tuple for seq.
func (s *Store) Stamp(seq int32) (domain.Stamp, bool) {
	st, ok := s.stamps.Load(int(seq - 1))
	if !ok {
		return domain.Stamp{}, false
	}
	return *st, true
}

func (s *Store) get(seq int32) domain.Stamp {
	st, _ := s.Stamp(seq)
	return st
}

// Status, Time, AuthorNid, ModuleNid and PathNid return zero values for unknown stamps.
func (s *Store) Status(seq int32) domain.Status { return s.get(seq).Status }
func (s *Store) Time(seq int32) int64           { return s.get(seq).Time }
func (s *Store) AuthorNid(seq int32) int32      { return s.get(seq).AuthorNid }
func (s *Store) ModuleNid(seq int32) int32      { return s.get(seq).ModuleNid }
func (s *Store) PathNid(seq int32) int32        { return s.get(seq).PathNid }

// Count returns the number of stamps allocated.
func (s *Store) Count() int { return int(s.last.Load()) }

// IsUncommitted reports whether seq belongs to an in-progress edit.
func (s *Store) IsUncommitted(seq int32) bool {
	st, ok := s.Stamp(seq)
	return ok && st.IsUncommitted()
}

// DescribeStampSequence renders seq for diagnostics. It never fails.
func (s *Store) DescribeStampSequence(seq int32) string {
	st, ok := s.Stamp(seq)
	if !ok {
		return fmt.Sprintf("stamp#%d{unknown}", seq)
	}
	desc := fmt.Sprintf("stamp#%d{%s %s a:%s m:%s p:%s}", seq, st.Status, domain.FormatStampTime(st.Time),
		s.describe(st.AuthorNid), s.describe(st.ModuleNid), s.describe(st.PathNid))
	if target, err := s.ResolveAlias(seq); err == nil && target != seq {
		desc += fmt.Sprintf(" -> stamp#%d", target)
	}
	return desc
}

// PendingSequences returns uncommitted stamps handed out since the last
// commit or cancel, in ascending order.
func (s *Store) PendingSequences() []int32 {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	out := make([]int32, 0, len(s.pending))
	for seq := range s.pending {
		out = append(out, seq)
	}
	slices.Sort(out)
	return out
}

// CommittedTwin interns the committed counterpart of the uncommitted stamp
// seq at commitTime. seq stays pending until ClearPending.
func (s *Store) CommittedTwin(seq int32, commitTime int64) (int32, error) {
	return s.twin(seq, func(st domain.Stamp) domain.Stamp {
		st.Time = commitTime
		return st
	})
}

// CanceledTwin interns the canceled counterpart of the uncommitted stamp seq.
func (s *Store) CanceledTwin(seq int32) (int32, error) {
	return s.twin(seq, func(st domain.Stamp) domain.Stamp {
		st.Status = domain.StatusCanceled
		st.Time = domain.CanceledTime
		return st
	})
}

func (s *Store) twin(seq int32, fn func(domain.Stamp) domain.Stamp) (int32, error) {
	st, ok := s.Stamp(seq)
	if !ok {
		return 0, fmt.Errorf("%w: stamp %d", domain.ErrNotFound, seq)
	}
	if !st.IsUncommitted() {
		return 0, fmt.Errorf("%w: stamp %d is already committed", domain.ErrCommittedVersion, seq)
	}
	return s.Intern(fn(st)), nil
}

// ClearPending forgets every pending stamp. Callers invoke it once all
// versions carrying them have been restamped.
func (s *Store) ClearPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending = map[int32]struct{}{}
}

// AddAlias records that alias stands for target. Aliases that would close a
// cycle are rejected.
func (s *Store) AddAlias(alias, target int32) error {
	if alias == target {
		return fmt.Errorf("%w: stamp %d aliased to itself", domain.ErrAliasCycle, alias)
	}
	for _, seq := range []int32{alias, target} {
		if _, ok := s.Stamp(seq); !ok {
			return fmt.Errorf("%w: stamp %d", domain.ErrNotFound, seq)
		}
	}
	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()
	if cur, ok := s.aliases[alias]; ok {
		if cur == target {
			return nil
		}
		return fmt.Errorf("%w: stamp %d already aliases %d", domain.ErrInvalidArgument, alias, cur)
	}
	for seq, hops := target, 0; ; hops++ {
		next, ok := s.aliases[seq]
		if !ok {
			break
		}
		if next == alias || hops > len(s.aliases) {
			return fmt.Errorf("%w: %d -> %d would close a cycle", domain.ErrAliasCycle, alias, target)
		}
		seq = next
	}
	s.aliases[alias] = target
	s.reverse[target] = append(s.reverse[target], alias)
	s.resolved.Clear()
	return nil
}

// ResolveAlias follows the alias chain from seq to its terminal stamp.
// Resolved chains are cached.
func (s *Store) ResolveAlias(seq int32) (int32, error) {
	if v, ok := s.resolved.Load(seq); ok {
		return v.(int32), nil
	}
	s.aliasMu.RLock()
	defer s.aliasMu.RUnlock()
	cur := seq
	seen := map[int32]struct{}{seq: {}}
	for {
		next, ok := s.aliases[cur]
		if !ok {
			break
		}
		if _, loop := seen[next]; loop {
			return 0, fmt.Errorf("%w: stamp %d", domain.ErrAliasCycle, seq)
		}
		seen[next] = struct{}{}
		cur = next
	}
	s.resolved.Store(seq, cur)
	return cur, nil
}

// AliasesOf returns every stamp that resolves through seq, ascending.
func (s *Store) AliasesOf(seq int32) []int32 {
	s.aliasMu.RLock()
	defer s.aliasMu.RUnlock()
	if len(s.reverse) == 0 {
		return nil
	}
	var out []int32
	visited := map[int32]struct{}{seq: {}}
	queue := []int32{seq}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, a := range s.reverse[cur] {
			if _, ok := visited[a]; ok {
				continue
			}
			visited[a] = struct{}{}
			out = append(out, a)
			queue = append(queue, a)
		}
	}
	slices.Sort(out)
	return out
}

// Aliases returns the alias table sorted by alias.
func (s *Store) Aliases() []domain.StampAlias {
	s.aliasMu.RLock()
	defer s.aliasMu.RUnlock()
	out := make([]domain.StampAlias, 0, len(s.aliases))
	for a, t := range s.aliases {
		out = append(out, domain.StampAlias{Alias: a, Target: t})
	}
	slices.SortFunc(out, func(x, y domain.StampAlias) int { return int(x.Alias) - int(y.Alias) })
	return out
}

// Export snapshots the stamp table.
func (s *Store) Export() domain.StampState {
	n := s.Count()
	st := domain.StampState{Stamps: make([]domain.Stamp, 0, n)}
	for seq := int32(1); seq <= int32(n); seq++ {
		stamp, _ := s.Stamp(seq)
		st.Stamps = append(st.Stamps, stamp)
	}
	st.Pending = s.PendingSequences()
	st.Aliases = s.Aliases()
	return st
}

// Import loads a snapshot into an empty store. A duplicated tuple or an
// alias cycle is reported as domain.ErrCorruptState.
func (s *Store) Import(st domain.StampState) error {
	if s.Count() != 0 {
		return fmt.Errorf("%w: import into a non-empty stamp store", domain.ErrInvalidArgument)
	}
	for i, stamp := range st.Stamps {
		seq := int32(i + 1)
		if _, dup := s.byStamp.LoadOrStore(stamp, seq); dup {
			return fmt.Errorf("%w: stamp %d duplicates an earlier tuple", domain.ErrCorruptState, seq)
		}
		stored := stamp
		s.stamps.Store(i, &stored)
	}
	s.last.Store(int32(len(st.Stamps)))
	for _, seq := range st.Pending {
		if !s.IsUncommitted(seq) {
			return fmt.Errorf("%w: pending stamp %d is not uncommitted", domain.ErrCorruptState, seq)
		}
		s.pending[seq] = struct{}{}
	}
	for _, a := range st.Aliases {
		if err := s.AddAlias(a.Alias, a.Target); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrCorruptState, err)
		}
	}
	return nil
}
