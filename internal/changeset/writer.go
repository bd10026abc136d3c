package changeset

import (
	encbin "encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"

	"isaac/internal/binary"
	"isaac/pkg/domain"
)

// Identifiers resolves nids to their UUIDs.
type Identifiers interface {
	GetUuidsForNid(nid int32) ([]uuid.UUID, error)
	PrimordialUUID(nid int32) (uuid.UUID, error)
}

// Stamps resolves stamp sequences to stamps.
type Stamps interface {
	Stamp(seq int32) (domain.Stamp, bool)
}

// Writer appends records to a change-set stream.
type Writer struct {
	out    io.Writer
	ids    Identifiers
	stamps Stamps
	codecs binary.Codecs
	count  int
}

// NewWriter writes records to out.
func NewWriter(out io.Writer, ids Identifiers, stamps Stamps) *Writer {
	return &Writer{out: out, ids: ids, stamps: stamps, codecs: portableCodecs()}
}

// Count returns the number of records written.
func (w *Writer) Count() int { return w.count }

func (w *Writer) payload() *binary.Writer {
	return binary.NewPortableWriter(w.ids.PrimordialUUID)
}

func (w *Writer) stamp(pw *binary.Writer, seq int32) {
	st, ok := w.stamps.Stamp(seq)
	if !ok {
		pw.Fail(fmt.Errorf("%w: stamp %d", domain.ErrNotFound, seq))
		return
	}
	writeStamp(pw, st)
}

func (w *Writer) emit(t ObjectType, pw *binary.Writer) error {
	if err := pw.Err(); err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	body := pw.Bytes()
	frame := make([]byte, 0, 2+encbin.MaxVarintLen64+len(body))
	frame = append(frame, byte(t), FormatVersion)
	frame = encbin.AppendUvarint(frame, uint64(len(body)))
	frame = append(frame, body...)
	if _, err := w.out.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", t, err)
	}
	w.count++
	return nil
}

// WriteChronology writes a concept or semantic with all versions.
func (w *Writer) WriteChronology(c *domain.Chronology) error {
	t := ObjectConcept
	if c.ObjectType() == domain.ObjectSemantic {
		t = ObjectSemantic
	}
	uuids, err := w.ids.GetUuidsForNid(c.Nid())
	if err != nil {
		return fmt.Errorf("chronology %d: %w", c.Nid(), err)
	}
	pw := w.payload()
	pw.WriteUvarint(uint64(len(uuids)))
	for _, u := range uuids {
		pw.WriteUUID(u)
	}
	pw.WriteNid(c.AssemblageNid())
	if t == ObjectSemantic {
		pw.WriteNid(c.ReferencedComponentNid())
	}
	pw.WriteUint8(uint8(c.VersionType()))
	versions := c.Versions()
	pw.WriteUvarint(uint64(len(versions)))
	for _, v := range versions {
		w.stamp(pw, v.StampSequence())
		w.codecs.EncodeVersionData(pw, v.Data())
	}
	return w.emit(t, pw)
}

// WriteStampAlias writes one alias mapping.
func (w *Writer) WriteStampAlias(alias, target int32) error {
	pw := w.payload()
	w.stamp(pw, alias)
	w.stamp(pw, target)
	return w.emit(ObjectStampAlias, pw)
}

// WriteCommitRecord writes rec with its stamps spelled out.
func (w *Writer) WriteCommitRecord(rec domain.CommitRecord) error {
	pw := w.payload()
	pw.WriteInt64(rec.Time())
	pw.WriteString(rec.Comment())
	seqs := rec.StampSequences()
	pw.WriteUvarint(uint64(len(seqs)))
	for _, seq := range seqs {
		w.stamp(pw, seq)
	}
	aliases := rec.StampAliases()
	keys := make([]int32, 0, len(aliases))
	for k := range aliases {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	pw.WriteUvarint(uint64(len(keys)))
	for _, k := range keys {
		w.stamp(pw, k)
		w.stamp(pw, aliases[k])
	}
	pw.WriteNids(rec.ConceptNids())
	pw.WriteNids(rec.SemanticNids())
	return w.emit(ObjectCommitRecord, pw)
}
