// Package taxonomy derives the is-a graph from concept and logic graph
// versions and filters it through stamp coordinates.
package taxonomy

import (
	"cmp"
	"maps"
	"slices"

	"isaac/pkg/domain"
)

// Record holds every typed edge leaving one concept, across all versions.
// Edges to the concept itself with FlagConceptStatus carry the concept's
// own version stamps.
type Record struct {
	conceptNid  int32
	edges       map[int32]map[int64]domain.TypeStampTaxonomyRecord
	graphStamps map[domain.PremiseType][]int32
}

// NewRecord creates an empty record for conceptNid.
func NewRecord(conceptNid int32) *Record {
	return &Record{
		conceptNid:  conceptNid,
		edges:       make(map[int32]map[int64]domain.TypeStampTaxonomyRecord),
		graphStamps: make(map[domain.PremiseType][]int32),
	}
}

// ConceptNid returns the origin concept of the record.
func (r *Record) ConceptNid() int32 { return r.conceptNid }

// Add stores rec against destinationNid, merging flags with an existing
// record of the same type and stamp.
func (r *Record) Add(destinationNid int32, rec domain.TypeStampTaxonomyRecord) error {
	byKey, ok := r.edges[destinationNid]
	if !ok {
		byKey = make(map[int64]domain.TypeStampTaxonomyRecord)
		r.edges[destinationNid] = byKey
	}
	key := rec.TypeStampKey()
	if existing, ok := byKey[key]; ok {
		merged, err := existing.Merge(rec)
		if err != nil {
			return err
		}
		rec = merged
	}
	byKey[key] = rec
	return nil
}

// Destinations returns the destination nids in ascending order.
func (r *Record) Destinations() []int32 {
	return slices.Sorted(maps.Keys(r.edges))
}

// Records returns the records for destinationNid ordered by type and stamp.
func (r *Record) Records(destinationNid int32) []domain.TypeStampTaxonomyRecord {
	out := slices.Collect(maps.Values(r.edges[destinationNid]))
	slices.SortFunc(out, func(a, b domain.TypeStampTaxonomyRecord) int {
		return cmp.Compare(a.TypeStampKey(), b.TypeStampKey())
	})
	return out
}

// ConceptStamps returns the stamps of the concept's own versions.
func (r *Record) ConceptStamps() []int32 {
	var out []int32
	for _, rec := range r.edges[r.conceptNid] {
		if rec.Flags.Has(domain.FlagConceptStatus) {
			out = append(out, rec.StampSequence)
		}
	}
	slices.Sort(out)
	return out
}

// GraphStamps returns the stamps of every logic graph version of premise.
func (r *Record) GraphStamps(premise domain.PremiseType) []int32 {
	return slices.Clone(r.graphStamps[premise])
}

func (r *Record) clone() *Record {
	c := NewRecord(r.conceptNid)
	for dest, byKey := range r.edges {
		c.edges[dest] = maps.Clone(byKey)
	}
	for p, stamps := range r.graphStamps {
		c.graphStamps[p] = slices.Clone(stamps)
	}
	return c
}

// clearFlag removes flag from every record, dropping records left with no flags.
func (r *Record) clearFlag(flag domain.TaxonomyFlags) {
	for dest, byKey := range r.edges {
		for key, rec := range byKey {
			if rec.Flags&flag == 0 {
				continue
			}
			rec.Flags &^= flag
			if rec.Flags == 0 {
				delete(byKey, key)
				continue
			}
			byKey[key] = rec
		}
		if len(byKey) == 0 {
			delete(r.edges, dest)
		}
	}
}
