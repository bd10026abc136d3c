// Package changeset reads and writes portable change-set files. A file is a
// sequence of records, each framed as
//
//	[object type: 1 byte][format version: 1 byte][payload length: uvarint][payload]
//
// Payloads refer to components by UUID so a file can be loaded into any
// database.
package changeset

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"isaac/internal/binary"
	"isaac/internal/logic"
	"isaac/pkg/domain"
)

// Extension is the file suffix of change-set files.
const Extension = ".ibdf"

// FormatVersion is the payload encoding written by this package.
const FormatVersion uint8 = 1

// maxPayload guards allocations against corrupt length prefixes.
const maxPayload = 64 << 20

// ObjectType identifies the payload of a record.
type ObjectType uint8

const (
	ObjectConcept ObjectType = iota + 1
	ObjectSemantic
	ObjectStampAlias
	ObjectCommitRecord
)

func (t ObjectType) String() string {
	switch t {
	case ObjectConcept:
		return "CONCEPT"
	case ObjectSemantic:
		return "SEMANTIC"
	case ObjectStampAlias:
		return "STAMP_ALIAS"
	case ObjectCommitRecord:
		return "COMMIT_RECORD"
	default:
		return fmt.Sprintf("OBJECT(%d)", uint8(t))
	}
}

// VersionItem is one decoded version with its full stamp.
type VersionItem struct {
	Stamp domain.Stamp
	Data  domain.VersionData
}

// ChronologyItem is a concept or semantic with every version.
type ChronologyItem struct {
	ObjectType    domain.ObjectType
	UUIDs         []uuid.UUID
	AssemblageNid int32
	// ReferencedNid is zero for concepts.
	ReferencedNid int32
	VersionType   domain.VersionType
	Versions      []VersionItem
}

// AliasItem makes Alias an alias of Target.
type AliasItem struct {
	Alias  domain.Stamp
	Target domain.Stamp
}

// CommitItem mirrors a commit record with stamps spelled out.
type CommitItem struct {
	Time         int64
	Comment      string
	Stamps       []domain.Stamp
	Aliases      []AliasItem
	ConceptNids  []int32
	SemanticNids []int32
}

// Item is one decoded record. Exactly one payload field is set.
type Item struct {
	Index      int
	Type       ObjectType
	Chronology *ChronologyItem
	Alias      *AliasItem
	Commit     *CommitItem
}

// RecordError reports a record that could not be decoded. The framing was
// intact, so reading can continue with the next record.
type RecordError struct {
	Index int
	Type  ObjectType
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("change-set record %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// IsRecordError reports whether err only affects a single record.
func IsRecordError(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}

// portableCodecs rewrites logic graphs so the nids inside them travel as
// UUIDs too.
func portableCodecs() binary.Codecs {
	codecs := binary.DefaultCodecs()
	codecs[domain.VersionLogicGraph] = binary.VersionCodec{
		Encode: func(w *binary.Writer, d domain.VersionData) {
			expr, err := logic.Decode(d.(domain.LogicGraphData).Graph)
			if err != nil {
				w.Fail(err)
				return
			}
			logic.EncodeTo(w, expr)
		},
		Decode: func(r *binary.Reader) domain.VersionData {
			expr, err := logic.DecodeFrom(r)
			if err != nil {
				r.Fail(err)
				return domain.LogicGraphData{}
			}
			graph, err := logic.Encode(expr)
			if err != nil {
				r.Fail(err)
				return domain.LogicGraphData{}
			}
			return domain.LogicGraphData{Graph: graph}
		},
	}
	return codecs
}

func writeStamp(w *binary.Writer, st domain.Stamp) {
	w.WriteUint8(uint8(st.Status))
	w.WriteInt64(st.Time)
	w.WriteNid(st.AuthorNid)
	w.WriteNid(st.ModuleNid)
	w.WriteNid(st.PathNid)
}

func readStamp(r *binary.Reader) domain.Stamp {
	return domain.Stamp{
		Status:    domain.Status(r.ReadUint8()),
		Time:      r.ReadInt64(),
		AuthorNid: r.ReadNid(),
		ModuleNid: r.ReadNid(),
		PathNid:   r.ReadNid(),
	}
}
