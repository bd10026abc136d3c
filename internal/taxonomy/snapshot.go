package taxonomy

import (
	"cmp"
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"isaac/internal/coordinate"
	"isaac/pkg/domain"
)

// Link is a typed edge to another concept.
type Link struct {
	TypeNid    int32
	ConceptNid int32
}

func compareLinks(a, b Link) int {
	return cmp.Or(cmp.Compare(a.TypeNid, b.TypeNid), cmp.Compare(a.ConceptNid, b.ConceptNid))
}

// Snapshot is the taxonomy as seen from one coordinate and premise. It is
// immutable and safe for concurrent use.
type Snapshot struct {
	coord    domain.StampCoordinate
	premise  domain.PremiseType
	isaNid   int32
	rootNid  int32
	concepts []int32
	active   map[int32]struct{}
	outbound map[int32][]Link
	inbound  map[int32][]Link
}

// Coordinate returns the coordinate the snapshot was computed for.
func (s *Snapshot) Coordinate() domain.StampCoordinate { return s.coord }

// Premise returns the logic graph source of the snapshot.
func (s *Snapshot) Premise() domain.PremiseType { return s.premise }

// ConceptNids returns the visible concepts, ascending.
func (s *Snapshot) ConceptNids() []int32 { return slices.Clone(s.concepts) }

// IsActive reports whether the concept is visible and active.
func (s *Snapshot) IsActive(nid int32) bool {
	_, ok := s.active[nid]
	return ok
}

// ParentConceptNids returns the is-a parents of nid. A concept may have
// several.
func (s *Snapshot) ParentConceptNids(nid int32) []int32 {
	var out []int32
	for _, l := range s.outbound[nid] {
		if l.TypeNid == s.isaNid {
			out = append(out, l.ConceptNid)
		}
	}
	return out
}

// ParentLinks returns every outbound link of nid, including roles.
func (s *Snapshot) ParentLinks(nid int32) []Link { return slices.Clone(s.outbound[nid]) }

// ChildLinks returns every inbound link of nid; ConceptNid is the child.
func (s *Snapshot) ChildLinks(nid int32) []Link { return slices.Clone(s.inbound[nid]) }

// ChildConceptNids returns the is-a children of nid.
func (s *Snapshot) ChildConceptNids(nid int32) []int32 {
	var out []int32
	for _, l := range s.inbound[nid] {
		if l.TypeNid == s.isaNid {
			out = append(out, l.ConceptNid)
		}
	}
	return out
}

// IsKindOf reports whether child equals parent or reaches it through is-a
// links. Cycles terminate the walk.
func (s *Snapshot) IsKindOf(child, parent int32) bool {
	if child == parent {
		return true
	}
	seen := map[int32]struct{}{child: {}}
	queue := []int32{child}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range s.ParentConceptNids(cur) {
			if p == parent {
				return true
			}
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				queue = append(queue, p)
			}
		}
	}
	return false
}

// Roots returns visible concepts without is-a parents.
func (s *Snapshot) Roots() []int32 {
	var out []int32
	for _, nid := range s.concepts {
		if len(s.ParentConceptNids(nid)) == 0 {
			out = append(out, nid)
		}
	}
	return out
}

type conceptView struct {
	nid    int32
	active bool
	links  []Link
}

func (s *Store) build(ctx context.Context, calc *coordinate.Calculator, coord domain.StampCoordinate, premise domain.PremiseType) (*Snapshot, error) {
	records := s.snapshotRecords()
	views := make([]conceptView, len(records))
	flag := premise.Flag()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			views[i] = viewOf(calc, coord, rec, flag, premise)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		coord:    coord,
		premise:  premise,
		isaNid:   s.meta.IsA,
		rootNid:  s.meta.Root,
		active:   make(map[int32]struct{}),
		outbound: make(map[int32][]Link),
		inbound:  make(map[int32][]Link),
	}
	for _, v := range views {
		if v.active {
			snap.active[v.nid] = struct{}{}
			snap.concepts = append(snap.concepts, v.nid)
		}
	}
	for _, v := range views {
		if !v.active {
			continue
		}
		for _, l := range v.links {
			if _, ok := snap.active[l.ConceptNid]; !ok {
				continue
			}
			snap.outbound[v.nid] = append(snap.outbound[v.nid], l)
			snap.inbound[l.ConceptNid] = append(snap.inbound[l.ConceptNid], Link{TypeNid: l.TypeNid, ConceptNid: v.nid})
		}
	}
	for nid := range snap.inbound {
		slices.SortFunc(snap.inbound[nid], compareLinks)
	}
	return snap, nil
}

// viewOf resolves one record against the coordinate: the concept must be
// latest-active, and only edges asserted by the latest active logic graph
// version are kept.
func viewOf(calc *coordinate.Calculator, coord domain.StampCoordinate, rec *Record, flag domain.TaxonomyFlags, premise domain.PremiseType) conceptView {
	v := conceptView{nid: rec.conceptNid}
	conceptStamps := rec.ConceptStamps()
	if len(conceptStamps) == 0 || !calc.IsLatestActive(conceptStamps, coord) {
		return v
	}
	v.active = true
	graphStamps := rec.GraphStamps(premise)
	if len(graphStamps) == 0 || !calc.IsLatestActive(graphStamps, coord) {
		return v
	}
	latest := calc.LatestStamps(graphStamps, coord)
	for _, dest := range rec.Destinations() {
		if dest == rec.conceptNid {
			continue
		}
		for _, r := range rec.Records(dest) {
			if r.Flags.Has(flag) && slices.Contains(latest, r.StampSequence) {
				v.links = append(v.links, Link{TypeNid: r.TypeNid, ConceptNid: dest})
			}
		}
	}
	slices.SortFunc(v.links, compareLinks)
	v.links = slices.Compact(v.links)
	return v
}
