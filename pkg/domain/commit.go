package domain

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
)

// CommitRecord is the immutable summary of one commit.
type CommitRecord struct {
	time           int64
	stampSequences []int32
	stampAliases   map[int32]int32
	conceptNids    []int32
	semanticNids   []int32
	comment        string
}

// NewCommitRecord copies its inputs; a nil alias map becomes an empty one.
// Nid and stamp lists are stored sorted and deduplicated.
func NewCommitRecord(commitTime int64, stampSequences []int32, stampAliases map[int32]int32, conceptNids, semanticNids []int32, comment string) CommitRecord {
	aliases := make(map[int32]int32, len(stampAliases))
	maps.Copy(aliases, stampAliases)
	return CommitRecord{
		time:           commitTime,
		stampSequences: sortedUnique(stampSequences),
		stampAliases:   aliases,
		conceptNids:    sortedUnique(conceptNids),
		semanticNids:   sortedUnique(semanticNids),
		comment:        comment,
	}
}

func sortedUnique(in []int32) []int32 {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

func (r CommitRecord) Time() int64             { return r.time }
func (r CommitRecord) Comment() string         { return r.comment }
func (r CommitRecord) StampSequences() []int32 { return slices.Clone(r.stampSequences) }
func (r CommitRecord) ConceptNids() []int32    { return slices.Clone(r.conceptNids) }
func (r CommitRecord) SemanticNids() []int32   { return slices.Clone(r.semanticNids) }

// StampAliases returns alias stamp to target stamp; never nil.
func (r CommitRecord) StampAliases() map[int32]int32 {
	out := make(map[int32]int32, len(r.stampAliases))
	maps.Copy(out, r.stampAliases)
	return out
}

// ChangedNids returns concept then semantic nids.
func (r CommitRecord) ChangedNids() []int32 {
	out := make([]int32, 0, len(r.conceptNids)+len(r.semanticNids))
	out = append(out, r.conceptNids...)
	return append(out, r.semanticNids...)
}

// IsEmpty reports whether the commit touched nothing.
func (r CommitRecord) IsEmpty() bool {
	return len(r.stampSequences) == 0 && len(r.stampAliases) == 0
}

type commitRecordJSON struct {
	Time           int64           `json:"time"`
	StampSequences []int32         `json:"stamps"`
	StampAliases   map[int32]int32 `json:"stamp_aliases"`
	ConceptNids    []int32         `json:"concept_nids"`
	SemanticNids   []int32         `json:"semantic_nids"`
	Comment        string          `json:"comment,omitempty"`
}

// MarshalJSON renders the record for persistence and notifications.
func (r CommitRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(commitRecordJSON{
		Time:           r.time,
		StampSequences: r.stampSequences,
		StampAliases:   r.stampAliases,
		ConceptNids:    r.conceptNids,
		SemanticNids:   r.semanticNids,
		Comment:        r.comment,
	})
}

// UnmarshalJSON restores a record.
func (r *CommitRecord) UnmarshalJSON(data []byte) error {
	var raw commitRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = NewCommitRecord(raw.Time, raw.StampSequences, raw.StampAliases, raw.ConceptNids, raw.SemanticNids, raw.Comment)
	return nil
}

// CommitListener is notified after each commit.
type CommitListener interface {
	HandleCommit(ctx context.Context, record CommitRecord) error
}
