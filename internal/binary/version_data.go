package binary

import (
	"fmt"

	"isaac/pkg/domain"
)

// VersionCodec encodes one VersionData variant.
type VersionCodec struct {
	Encode func(w *Writer, data domain.VersionData)
	Decode func(r *Reader) domain.VersionData
}

// Codecs maps the version discriminant onto its codec.
type Codecs map[domain.VersionType]VersionCodec

// DefaultCodecs returns a fresh table of codecs for every variant. Logic
// graphs are copied as opaque bytes; callers writing portable data replace
// that entry with one that rewrites the nids inside the graph.
func DefaultCodecs() Codecs {
	return Codecs{
		domain.VersionConcept: {
			Encode: func(*Writer, domain.VersionData) {},
			Decode: func(*Reader) domain.VersionData { return domain.ConceptData{} },
		},
		domain.VersionMember: {
			Encode: func(*Writer, domain.VersionData) {},
			Decode: func(*Reader) domain.VersionData { return domain.MemberData{} },
		},
		domain.VersionComponentNid: {
			Encode: func(w *Writer, d domain.VersionData) { w.WriteNid(d.(domain.ComponentNidData).ComponentNid) },
			Decode: func(r *Reader) domain.VersionData { return domain.ComponentNidData{ComponentNid: r.ReadNid()} },
		},
		domain.VersionLong: {
			Encode: func(w *Writer, d domain.VersionData) { w.WriteInt64(d.(domain.LongData).Value) },
			Decode: func(r *Reader) domain.VersionData { return domain.LongData{Value: r.ReadInt64()} },
		},
		domain.VersionString: {
			Encode: func(w *Writer, d domain.VersionData) { w.WriteString(d.(domain.StringData).Text) },
			Decode: func(r *Reader) domain.VersionData { return domain.StringData{Text: r.ReadString()} },
		},
		domain.VersionDescription: {
			Encode: func(w *Writer, d domain.VersionData) {
				desc := d.(domain.DescriptionData)
				w.WriteString(desc.Text)
				w.WriteNid(desc.CaseSignificanceNid)
				w.WriteNid(desc.LanguageNid)
				w.WriteNid(desc.DescriptionTypeNid)
			},
			Decode: func(r *Reader) domain.VersionData {
				return domain.DescriptionData{
					Text:                r.ReadString(),
					CaseSignificanceNid: r.ReadNid(),
					LanguageNid:         r.ReadNid(),
					DescriptionTypeNid:  r.ReadNid(),
				}
			},
		},
		domain.VersionLogicGraph: {
			Encode: func(w *Writer, d domain.VersionData) { w.WriteBytes(d.(domain.LogicGraphData).Graph) },
			Decode: func(r *Reader) domain.VersionData { return domain.LogicGraphData{Graph: r.ReadBytes()} },
		},
		domain.VersionDynamic: {
			Encode: encodeDynamic,
			Decode: decodeDynamic,
		},
		domain.VersionRF2Relationship: {
			Encode: func(w *Writer, d domain.VersionData) {
				rel := d.(domain.RF2RelationshipData)
				w.WriteNid(rel.DestinationNid)
				w.WriteNid(rel.TypeNid)
				w.WriteInt32(rel.Group)
				w.WriteNid(rel.CharacteristicNid)
				w.WriteNid(rel.ModifierNid)
			},
			Decode: func(r *Reader) domain.VersionData {
				return domain.RF2RelationshipData{
					DestinationNid:    r.ReadNid(),
					TypeNid:           r.ReadNid(),
					Group:             r.ReadInt32(),
					CharacteristicNid: r.ReadNid(),
					ModifierNid:       r.ReadNid(),
				}
			},
		},
	}
}

func encodeDynamic(w *Writer, d domain.VersionData) {
	values := d.(domain.DynamicData).Values
	w.WriteUvarint(uint64(len(values)))
	for _, v := range values {
		w.WriteUint8(uint8(v.Kind))
		switch v.Kind {
		case domain.DynamicBoolean:
			w.WriteBool(v.Boolean)
		case domain.DynamicInteger:
			w.WriteInt64(v.Integer)
		case domain.DynamicFloat:
			w.WriteFloat64(v.Float)
		case domain.DynamicString:
			w.WriteString(v.String)
		case domain.DynamicNid:
			w.WriteNid(v.Nid)
		case domain.DynamicUUID:
			w.WriteUUID(v.UUID)
		default:
			w.Fail(fmt.Errorf("%w: dynamic value kind %d", domain.ErrInvalidArgument, v.Kind))
		}
	}
}

func decodeDynamic(r *Reader) domain.VersionData {
	n := r.ReadUvarint()
	if n > uint64(r.Remaining()) {
		r.Fail(fmt.Errorf("%w: dynamic value count %d exceeds input", domain.ErrCorruptState, n))
		return domain.DynamicData{}
	}
	values := make([]domain.DynamicValue, 0, n)
	for i := uint64(0); i < n && r.Err() == nil; i++ {
		v := domain.DynamicValue{Kind: domain.DynamicKind(r.ReadUint8())}
		switch v.Kind {
		case domain.DynamicBoolean:
			v.Boolean = r.ReadBool()
		case domain.DynamicInteger:
			v.Integer = r.ReadInt64()
		case domain.DynamicFloat:
			v.Float = r.ReadFloat64()
		case domain.DynamicString:
			v.String = r.ReadString()
		case domain.DynamicNid:
			v.Nid = r.ReadNid()
		case domain.DynamicUUID:
			v.UUID = r.ReadUUID()
		default:
			r.Fail(fmt.Errorf("%w: dynamic value kind %d", domain.ErrCorruptState, v.Kind))
		}
		values = append(values, v)
	}
	return domain.DynamicData{Values: values}
}

// EncodeVersionData writes data using the codec for its discriminant.
func (c Codecs) EncodeVersionData(w *Writer, data domain.VersionData) {
	codec, ok := c[data.VersionType()]
	if !ok {
		w.Fail(fmt.Errorf("%w: no codec for %s", domain.ErrUnsupported, data.VersionType()))
		return
	}
	codec.Encode(w, data)
}

// DecodeVersionData reads a payload of the given discriminant. Unknown
// discriminants are rejected.
func (c Codecs) DecodeVersionData(r *Reader, t domain.VersionType) (domain.VersionData, error) {
	codec, ok := c[t]
	if !ok {
		return nil, fmt.Errorf("%w: version type %d", domain.ErrUnknownFormatVersion, t)
	}
	data := codec.Decode(r)
	if err := r.Err(); err != nil {
		return nil, err
	}
	return data, nil
}
