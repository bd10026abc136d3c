// Package identifier maps UUIDs onto compact integer nids.
package identifier

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"isaac/internal/segmented"
	"isaac/pkg/domain"
)

// FirstNid is the first nid handed out; nids grow upward from here and are
// therefore negative for the first two billion components.
const FirstNid int32 = math.MinInt32 + 1

const stripeCount = 64

// ErrExhausted is returned when the nid space is used up.
var ErrExhausted = errors.New("nid space exhausted")

type nidRecord struct {
	uuids         []uuid.UUID
	assemblageNid int32
}

type assemblageType struct {
	objectType  domain.ObjectType
	versionType domain.VersionType
}

// Service owns the UUID to nid mapping for one datastore.
type Service struct {
	logger      domain.Logger
	byUUID      sync.Map // uuid.UUID -> int32
	stripes     [stripeCount]sync.Mutex
	last        atomic.Int32
	records     *segmented.Array[nidRecord]
	assemblages sync.Map // int32 -> assemblageType
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for cross-linkage warnings.
func WithLogger(logger domain.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns an empty identifier space.
func New(opts ...Option) *Service {
	s := &Service{
		logger:  domain.NoopLogger{},
		records: segmented.New[nidRecord](segmented.DefaultSegmentSize),
	}
	s.last.Store(FirstNid - 1)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func indexOf(nid int32) int {
	return int(int64(nid) - int64(FirstNid))
}

func stripeOf(u uuid.UUID) int {
	return int(binary.BigEndian.Uint32(u[12:]) % stripeCount)
}

func (s *Service) lookup(u uuid.UUID) (int32, bool) {
	v, ok := s.byUUID.Load(u)
	if !ok {
		return 0, false
	}
	return v.(int32), true
}

// AssignNid returns the nid bound to any of the UUIDs, allocating a new one
// when none is known. UUIDs not yet mapped are bound to the returned nid.
// When the UUIDs already map to different nids the smallest is returned and
// the cross-linkage is logged.
func (s *Service) AssignNid(uuids ...uuid.UUID) (int32, error) {
	if len(uuids) == 0 {
		return 0, fmt.Errorf("%w: assign nid requires at least one uuid", domain.ErrInvalidArgument)
	}
	if nid, ok := s.allMapped(uuids); ok {
		return nid, nil
	}
	unlock := s.lockStripes(uuids)
	defer unlock()

	found := make([]int32, 0, len(uuids))
	var unmapped []uuid.UUID
	for _, u := range uuids {
		if nid, ok := s.lookup(u); ok {
			found = append(found, nid)
		} else if !slices.Contains(unmapped, u) {
			unmapped = append(unmapped, u)
		}
	}
	slices.Sort(found)
	found = slices.Compact(found)

	var nid int32
	switch {
	case len(found) == 0:
		next, err := s.allocate()
		if err != nil {
			return 0, err
		}
		nid = next
	default:
		nid = found[0]
		if len(found) > 1 {
			s.logger.Warn("uuids map to different nids; using the oldest", "nids", found, "uuids", uuids)
		}
	}
	if len(unmapped) > 0 {
		s.records.Update(indexOf(nid), func(cur *nidRecord) *nidRecord {
			next := &nidRecord{}
			if cur != nil {
				next.assemblageNid = cur.assemblageNid
				next.uuids = slices.Clone(cur.uuids)
			}
			next.uuids = append(next.uuids, unmapped...)
			return next
		})
		for _, u := range unmapped {
			s.byUUID.Store(u, nid)
		}
	}
	return nid, nil
}

func (s *Service) allMapped(uuids []uuid.UUID) (int32, bool) {
	var nid int32
	for i, u := range uuids {
		n, ok := s.lookup(u)
		if !ok || (i > 0 && n != nid) {
			return 0, false
		}
		nid = n
	}
	return nid, true
}

func (s *Service) allocate() (int32, error) {
	for {
		cur := s.last.Load()
		if cur == math.MaxInt32 {
			return 0, ErrExhausted
		}
		if s.last.CompareAndSwap(cur, cur+1) {
			return cur + 1, nil
		}
	}
}

func (s *Service) lockStripes(uuids []uuid.UUID) func() {
	idx := make([]int, 0, len(uuids))
	for _, u := range uuids {
		idx = append(idx, stripeOf(u))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)
	for _, i := range idx {
		s.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.stripes[idx[j]].Unlock()
		}
	}
}

// GetNidForUuids returns the nid of the first UUID that is mapped.
func (s *Service) GetNidForUuids(uuids ...uuid.UUID) (int32, error) {
	for _, u := range uuids {
		if nid, ok := s.lookup(u); ok {
			return nid, nil
		}
	}
	return 0, fmt.Errorf("%w: no nid for uuids %v", domain.ErrNotFound, uuids)
}

// HasUUID reports whether u is mapped.
func (s *Service) HasUUID(u uuid.UUID) bool {
	_, ok := s.lookup(u)
	return ok
}

func (s *Service) record(nid int32) (*nidRecord, error) {
	rec, ok := s.records.Load(indexOf(nid))
	if !ok {
		return nil, fmt.Errorf("%w: nid %d", domain.ErrNotFound, nid)
	}
	return rec, nil
}

// GetUuidsForNid returns every UUID bound to nid, primordial first.
func (s *Service) GetUuidsForNid(nid int32) ([]uuid.UUID, error) {
	rec, err := s.record(nid)
	if err != nil {
		return nil, err
	}
	return slices.Clone(rec.uuids), nil
}

// PrimordialUUID returns the first UUID bound to nid.
func (s *Service) PrimordialUUID(nid int32) (uuid.UUID, error) {
	rec, err := s.record(nid)
	if err != nil {
		return uuid.Nil, err
	}
	return rec.uuids[0], nil
}

// SetupNid records that nid is a member of assemblageNid and, once per
// assemblage, which kind of component its members are.
func (s *Service) SetupNid(nid, assemblageNid int32, objectType domain.ObjectType, versionType domain.VersionType) error {
	if versionType == domain.VersionUnknown {
		return fmt.Errorf("%w: nid %d set up with unknown version type", domain.ErrInvalidArgument, nid)
	}
	if _, err := s.record(nid); err != nil {
		return err
	}
	want := assemblageType{objectType: objectType, versionType: versionType}
	if prev, loaded := s.assemblages.LoadOrStore(assemblageNid, want); loaded && prev.(assemblageType) != want {
		got := prev.(assemblageType)
		return fmt.Errorf("%w: assemblage %d holds %s/%s, not %s/%s", domain.ErrInvalidArgument,
			assemblageNid, got.objectType, got.versionType, objectType, versionType)
	}
	var conflict int32
	s.records.Update(indexOf(nid), func(cur *nidRecord) *nidRecord {
		conflict = 0
		if cur.assemblageNid != 0 && cur.assemblageNid != assemblageNid {
			conflict = cur.assemblageNid
			return cur
		}
		next := *cur
		next.assemblageNid = assemblageNid
		return &next
	})
	if conflict != 0 {
		return fmt.Errorf("%w: nid %d already belongs to assemblage %d", domain.ErrInvalidArgument, nid, conflict)
	}
	return nil
}

// AssemblageOf returns the assemblage nid was set up with.
func (s *Service) AssemblageOf(nid int32) (int32, bool) {
	rec, err := s.record(nid)
	if err != nil || rec.assemblageNid == 0 {
		return 0, false
	}
	return rec.assemblageNid, true
}

// AssemblageType returns the member kind registered for an assemblage.
func (s *Service) AssemblageType(assemblageNid int32) (domain.ObjectType, domain.VersionType, bool) {
	v, ok := s.assemblages.Load(assemblageNid)
	if !ok {
		return domain.ObjectUnknown, domain.VersionUnknown, false
	}
	at := v.(assemblageType)
	return at.objectType, at.versionType, true
}

// ObjectTypeFor returns the kind of component nid denotes.
func (s *Service) ObjectTypeFor(nid int32) domain.ObjectType {
	a, ok := s.AssemblageOf(nid)
	if !ok {
		return domain.ObjectUnknown
	}
	ot, _, _ := s.AssemblageType(a)
	return ot
}

// VersionTypeFor returns the version kind of the component nid denotes.
func (s *Service) VersionTypeFor(nid int32) domain.VersionType {
	a, ok := s.AssemblageOf(nid)
	if !ok {
		return domain.VersionUnknown
	}
	_, vt, _ := s.AssemblageType(a)
	return vt
}

// MaxNid returns the most recently allocated nid.
func (s *Service) MaxNid() int32 { return s.last.Load() }

// Count returns the number of allocated nids.
func (s *Service) Count() int { return indexOf(s.last.Load()) + 1 }

// Export snapshots the identifier space in nid order.
func (s *Service) Export() domain.IdentifierState {
	st := domain.IdentifierState{NextNid: s.last.Load() + 1}
	s.records.Range(func(index int, rec *nidRecord) bool {
		st.Nids = append(st.Nids, domain.NidState{
			Nid:           int32(int64(index) + int64(FirstNid)),
			UUIDs:         slices.Clone(rec.uuids),
			AssemblageNid: rec.assemblageNid,
		})
		return true
	})
	s.assemblages.Range(func(k, v any) bool {
		at := v.(assemblageType)
		st.Assemblages = append(st.Assemblages, domain.AssemblageState{
			AssemblageNid: k.(int32), ObjectType: at.objectType, VersionType: at.versionType,
		})
		return true
	})
	slices.SortFunc(st.Assemblages, func(a, b domain.AssemblageState) int {
		return int(int64(a.AssemblageNid) - int64(b.AssemblageNid))
	})
	return st
}

// Import loads a snapshot into an empty service. Any inconsistency is
// reported as domain.ErrCorruptState.
func (s *Service) Import(st domain.IdentifierState) error {
	if s.Count() != 0 {
		return fmt.Errorf("%w: import into a non-empty identifier space", domain.ErrInvalidArgument)
	}
	if len(st.Nids) == 0 {
		return nil
	}
	if st.NextNid <= FirstNid && len(st.Nids) > 0 {
		return fmt.Errorf("%w: next nid %d precedes stored nids", domain.ErrCorruptState, st.NextNid)
	}
	for _, ns := range st.Nids {
		if ns.Nid < FirstNid || ns.Nid >= st.NextNid {
			return fmt.Errorf("%w: nid %d outside allocated range", domain.ErrCorruptState, ns.Nid)
		}
		if len(ns.UUIDs) == 0 {
			return fmt.Errorf("%w: nid %d has no uuids", domain.ErrCorruptState, ns.Nid)
		}
		for _, u := range ns.UUIDs {
			if prev, loaded := s.byUUID.LoadOrStore(u, ns.Nid); loaded && prev.(int32) != ns.Nid {
				return fmt.Errorf("%w: uuid %s bound to nids %d and %d", domain.ErrCorruptState, u, prev, ns.Nid)
			}
		}
		s.records.Store(indexOf(ns.Nid), &nidRecord{uuids: slices.Clone(ns.UUIDs), assemblageNid: ns.AssemblageNid})
	}
	for _, as := range st.Assemblages {
		s.assemblages.Store(as.AssemblageNid, assemblageType{objectType: as.ObjectType, versionType: as.VersionType})
	}
	s.last.Store(st.NextNid - 1)
	return nil
}
