package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ObjectType distinguishes the two chronology kinds.
type ObjectType uint8

const (
	ObjectUnknown ObjectType = iota
	ObjectConcept
	ObjectSemantic
)

func (t ObjectType) String() string {
	switch t {
	case ObjectConcept:
		return "CONCEPT"
	case ObjectSemantic:
		return "SEMANTIC"
	default:
		return "UNKNOWN"
	}
}

// VersionType is the discriminant of the VersionData variants. The numeric
// values are written to change-set files and must not be renumbered.
type VersionType uint8

const (
	VersionUnknown VersionType = iota
	VersionConcept
	VersionMember
	VersionComponentNid
	VersionLong
	VersionString
	VersionDescription
	VersionLogicGraph
	VersionDynamic
	VersionRF2Relationship
)

func (t VersionType) String() string {
	switch t {
	case VersionConcept:
		return "CONCEPT"
	case VersionMember:
		return "MEMBER"
	case VersionComponentNid:
		return "COMPONENT_NID"
	case VersionLong:
		return "LONG"
	case VersionString:
		return "STRING"
	case VersionDescription:
		return "DESCRIPTION"
	case VersionLogicGraph:
		return "LOGIC_GRAPH"
	case VersionDynamic:
		return "DYNAMIC"
	case VersionRF2Relationship:
		return "RF2_RELATIONSHIP"
	default:
		return "UNKNOWN"
	}
}

// VersionData is the type-specific payload of a version. The set of
// implementations is closed; VersionType() is the discriminant.
type VersionData interface {
	VersionType() VersionType
	// Editable reports whether analogs may be made from this payload.
	Editable() bool
	fieldCount() int
	diff(other VersionData) int
	clone() VersionData
}

// ConceptData is the (field-less) payload of a concept version; a concept
// version's only state is the status on its stamp.
type ConceptData struct{}

func (ConceptData) VersionType() VersionType { return VersionConcept }
func (ConceptData) Editable() bool           { return true }
func (ConceptData) fieldCount() int          { return 0 }
func (ConceptData) diff(VersionData) int     { return 0 }
func (d ConceptData) clone() VersionData     { return d }

// MemberData marks membership of the referenced component in an assemblage.
type MemberData struct{}

func (MemberData) VersionType() VersionType { return VersionMember }
func (MemberData) Editable() bool           { return true }
func (MemberData) fieldCount() int          { return 0 }
func (MemberData) diff(VersionData) int     { return 0 }
func (d MemberData) clone() VersionData     { return d }

// ComponentNidData references another component.
type ComponentNidData struct {
	ComponentNid int32 `json:"component_nid"`
}

func (ComponentNidData) VersionType() VersionType { return VersionComponentNid }
func (ComponentNidData) Editable() bool           { return true }
func (ComponentNidData) fieldCount() int          { return 1 }
func (d ComponentNidData) clone() VersionData     { return d }
func (d ComponentNidData) diff(other VersionData) int {
	o := other.(ComponentNidData)
	return boolToInt(d.ComponentNid != o.ComponentNid)
}

// LongData holds a single integer value.
type LongData struct {
	Value int64 `json:"value"`
}

func (LongData) VersionType() VersionType { return VersionLong }
func (LongData) Editable() bool           { return true }
func (LongData) fieldCount() int          { return 1 }
func (d LongData) clone() VersionData     { return d }
func (d LongData) diff(other VersionData) int {
	return boolToInt(d.Value != other.(LongData).Value)
}

// StringData holds a single string value.
type StringData struct {
	Text string `json:"text"`
}

func (StringData) VersionType() VersionType { return VersionString }
func (StringData) Editable() bool           { return true }
func (StringData) fieldCount() int          { return 1 }
func (d StringData) clone() VersionData     { return d }
func (d StringData) diff(other VersionData) int {
	return boolToInt(d.Text != other.(StringData).Text)
}

// DescriptionData is the payload of a description semantic.
type DescriptionData struct {
	Text                string `json:"text"`
	CaseSignificanceNid int32  `json:"case_significance_nid"`
	LanguageNid         int32  `json:"language_nid"`
	DescriptionTypeNid  int32  `json:"description_type_nid"`
}

func (DescriptionData) VersionType() VersionType { return VersionDescription }
func (DescriptionData) Editable() bool           { return true }
func (DescriptionData) fieldCount() int          { return 4 }
func (d DescriptionData) clone() VersionData     { return d }
func (d DescriptionData) diff(other VersionData) int {
	o := other.(DescriptionData)
	return boolToInt(d.Text != o.Text) +
		boolToInt(d.CaseSignificanceNid != o.CaseSignificanceNid) +
		boolToInt(d.LanguageNid != o.LanguageNid) +
		boolToInt(d.DescriptionTypeNid != o.DescriptionTypeNid)
}

// LogicGraphData carries an encoded logical expression. The encoding is
// owned by the logic package and uses datastore-local nids.
type LogicGraphData struct {
	Graph []byte `json:"graph"`
}

func (LogicGraphData) VersionType() VersionType { return VersionLogicGraph }
func (LogicGraphData) Editable() bool           { return true }
func (LogicGraphData) fieldCount() int          { return 1 }
func (d LogicGraphData) clone() VersionData {
	return LogicGraphData{Graph: append([]byte(nil), d.Graph...)}
}
func (d LogicGraphData) diff(other VersionData) int {
	return boolToInt(!bytes.Equal(d.Graph, other.(LogicGraphData).Graph))
}

// DynamicKind discriminates the values of a dynamic column.
type DynamicKind uint8

const (
	DynamicBoolean DynamicKind = iota + 1
	DynamicInteger
	DynamicFloat
	DynamicString
	DynamicNid
	DynamicUUID
)

// DynamicValue is one column value of a dynamic semantic; only the field
// selected by Kind is meaningful.
type DynamicValue struct {
	Kind    DynamicKind `json:"kind"`
	Boolean bool        `json:"boolean,omitempty"`
	Integer int64       `json:"integer,omitempty"`
	Float   float64     `json:"float,omitempty"`
	String  string      `json:"string,omitempty"`
	Nid     int32       `json:"nid,omitempty"`
	UUID    uuid.UUID   `json:"uuid,omitempty"`
}

// DynamicData holds an ordered list of column values.
type DynamicData struct {
	Values []DynamicValue `json:"values"`
}

func (DynamicData) VersionType() VersionType { return VersionDynamic }
func (DynamicData) Editable() bool           { return true }
func (d DynamicData) fieldCount() int        { return len(d.Values) }
func (d DynamicData) clone() VersionData {
	return DynamicData{Values: append([]DynamicValue(nil), d.Values...)}
}
func (d DynamicData) diff(other VersionData) int {
	o := other.(DynamicData)
	n := max(len(d.Values), len(o.Values))
	count := 0
	for i := 0; i < n; i++ {
		if i >= len(d.Values) || i >= len(o.Values) || d.Values[i] != o.Values[i] {
			count++
		}
	}
	return count
}

// RF2RelationshipData is an imported, read-only relationship row. It has no
// editable counterpart; logic graphs replace it for authoring.
type RF2RelationshipData struct {
	DestinationNid    int32 `json:"destination_nid"`
	TypeNid           int32 `json:"type_nid"`
	Group             int32 `json:"group"`
	CharacteristicNid int32 `json:"characteristic_nid"`
	ModifierNid       int32 `json:"modifier_nid"`
}

func (RF2RelationshipData) VersionType() VersionType { return VersionRF2Relationship }
func (RF2RelationshipData) Editable() bool           { return false }
func (RF2RelationshipData) fieldCount() int          { return 5 }
func (d RF2RelationshipData) clone() VersionData     { return d }
func (d RF2RelationshipData) diff(other VersionData) int {
	o := other.(RF2RelationshipData)
	return boolToInt(d.DestinationNid != o.DestinationNid) +
		boolToInt(d.TypeNid != o.TypeNid) +
		boolToInt(d.Group != o.Group) +
		boolToInt(d.CharacteristicNid != o.CharacteristicNid) +
		boolToInt(d.ModifierNid != o.ModifierNid)
}

// DataEquals compares two payloads field by field.
func DataEquals(a, b VersionData) bool {
	return EditDistance(a, b) == 0
}

// EditDistance counts the differing semantic fields of two payloads. Payloads
// of different kinds differ in every field of the larger one.
func EditDistance(a, b VersionData) int {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0
		}
		if a == nil {
			return max(1, b.fieldCount())
		}
		return max(1, a.fieldCount())
	}
	if a.VersionType() != b.VersionType() {
		return max(1, a.fieldCount(), b.fieldCount())
	}
	return a.diff(b)
}

// CloneData returns an independent copy of a payload.
func CloneData(d VersionData) VersionData {
	if d == nil {
		return nil
	}
	return d.clone()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type dataDecoder func(json.RawMessage) (VersionData, error)

func decodeAs[T VersionData](raw json.RawMessage) (VersionData, error) {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// versionDecoders maps the discriminant onto the payload decoder.
var versionDecoders = map[VersionType]dataDecoder{
	VersionConcept:         decodeAs[ConceptData],
	VersionMember:          decodeAs[MemberData],
	VersionComponentNid:    decodeAs[ComponentNidData],
	VersionLong:            decodeAs[LongData],
	VersionString:          decodeAs[StringData],
	VersionDescription:     decodeAs[DescriptionData],
	VersionLogicGraph:      decodeAs[LogicGraphData],
	VersionDynamic:         decodeAs[DynamicData],
	VersionRF2Relationship: decodeAs[RF2RelationshipData],
}

// DecodeVersionData decodes a JSON payload for the given discriminant.
func DecodeVersionData(t VersionType, raw json.RawMessage) (VersionData, error) {
	dec, ok := versionDecoders[t]
	if !ok {
		return nil, fmt.Errorf("%w: version type %d", ErrUnknownFormatVersion, t)
	}
	return dec(raw)
}
