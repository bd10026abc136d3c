package domain

import (
	"fmt"
	"strings"
)

// TaxonomyFlags annotate a taxonomy edge.
type TaxonomyFlags uint32

const (
	// FlagStated marks edges derived from stated logic graphs.
	FlagStated TaxonomyFlags = 1 << iota
	// FlagInferred marks edges derived from inferred logic graphs.
	FlagInferred
	// FlagConceptStatus marks the concept's own version stamps.
	FlagConceptStatus
)

// Has reports whether every bit of f is set.
func (t TaxonomyFlags) Has(f TaxonomyFlags) bool { return t&f == f }

// Union merges two flag sets.
func (t TaxonomyFlags) Union(f TaxonomyFlags) TaxonomyFlags { return t | f }

func (t TaxonomyFlags) String() string {
	var parts []string
	if t.Has(FlagStated) {
		parts = append(parts, "STATED")
	}
	if t.Has(FlagInferred) {
		parts = append(parts, "INFERRED")
	}
	if t.Has(FlagConceptStatus) {
		parts = append(parts, "CONCEPT_STATUS")
	}
	return "[" + strings.Join(parts, "|") + "]"
}

// PremiseType selects which logic graph source feeds the taxonomy.
type PremiseType uint8

const (
	PremiseStated PremiseType = iota
	PremiseInferred
)

// Flag returns the taxonomy flag associated with the premise.
func (p PremiseType) Flag() TaxonomyFlags {
	if p == PremiseInferred {
		return FlagInferred
	}
	return FlagStated
}

func (p PremiseType) String() string {
	if p == PremiseInferred {
		return "INFERRED"
	}
	return "STATED"
}

// ParsePremise converts a case-insensitive premise name.
func ParsePremise(name string) (PremiseType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "stated", "":
		return PremiseStated, nil
	case "inferred":
		return PremiseInferred, nil
	default:
		return 0, fmt.Errorf("%w: unknown premise %q", ErrInvalidArgument, name)
	}
}

// TypeStampTaxonomyRecord is one (type, stamp, flags) triple of a taxonomy record.
type TypeStampTaxonomyRecord struct {
	TypeNid       int32         `json:"type_nid"`
	StampSequence int32         `json:"stamp"`
	Flags         TaxonomyFlags `json:"flags"`
}

// NewTypeStampTaxonomyRecord validates that typeNid is in the negative nid space.
func NewTypeStampTaxonomyRecord(typeNid, stampSequence int32, flags TaxonomyFlags) (TypeStampTaxonomyRecord, error) {
	if typeNid >= 0 {
		return TypeStampTaxonomyRecord{}, fmt.Errorf("%w: taxonomy type nid %d must be negative", ErrInvalidArgument, typeNid)
	}
	return TypeStampTaxonomyRecord{TypeNid: typeNid, StampSequence: stampSequence, Flags: flags}, nil
}

// TypeStampKey packs type and stamp into one key; records sharing it are merged.
func (r TypeStampTaxonomyRecord) TypeStampKey() int64 {
	return int64(r.TypeNid)<<32 | int64(uint32(r.StampSequence))
}

// Merge combines flags of two records sharing type and stamp.
func (r TypeStampTaxonomyRecord) Merge(other TypeStampTaxonomyRecord) (TypeStampTaxonomyRecord, error) {
	if r.TypeStampKey() != other.TypeStampKey() {
		return r, fmt.Errorf("%w: cannot merge taxonomy records with keys %d and %d", ErrInvalidArgument, r.TypeStampKey(), other.TypeStampKey())
	}
	r.Flags = r.Flags.Union(other.Flags)
	return r, nil
}

func (r TypeStampTaxonomyRecord) String() string {
	return fmt.Sprintf("{type:%d stamp:%d %s}", r.TypeNid, r.StampSequence, r.Flags)
}

// CycleReport describes one taxonomy cycle found from ConceptNid.
type CycleReport struct {
	ConceptNid int32   `json:"concept_nid"`
	Path       []int32 `json:"path"`
}

// ClassifierResults collects taxonomy diagnostics. Problems are data, not errors.
type ClassifierResults struct {
	ConceptsChecked int           `json:"concepts_checked"`
	Cycles          []CycleReport `json:"cycles,omitempty"`
	Orphans         []int32       `json:"orphans,omitempty"`
}

// HasProblems reports whether any cycle or orphan was found.
func (r ClassifierResults) HasProblems() bool {
	return len(r.Cycles) > 0 || len(r.Orphans) > 0
}

// CycleContains reports whether any reported cycle passes through nid.
func (r ClassifierResults) CycleContains(nid int32) bool {
	for _, c := range r.Cycles {
		for _, n := range c.Path {
			if n == nid {
				return true
			}
		}
	}
	return false
}
