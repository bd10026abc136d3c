package changeset

import (
	"bufio"
	encbin "encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"isaac/internal/binary"
	"isaac/pkg/domain"
)

// Reader decodes records from a change-set stream.
type Reader struct {
	in      *bufio.Reader
	resolve binary.UUIDToNid
	codecs  binary.Codecs
	index   int
}

// NewReader reads records from in, mapping UUIDs to local nids with resolve.
func NewReader(in io.Reader, resolve binary.UUIDToNid) *Reader {
	return &Reader{in: bufio.NewReader(in), resolve: resolve, codecs: portableCodecs()}
}

// Next returns the next record. It returns io.EOF at a clean end of input,
// a *RecordError for a record that could not be decoded, and any other
// error when the stream cannot be read further. An unknown format version
// stops reading.
func (r *Reader) Next() (Item, error) {
	var header [2]byte
	if _, err := io.ReadFull(r.in, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Item{}, io.EOF
		}
		return Item{}, fmt.Errorf("%w: truncated record header: %v", domain.ErrCorruptState, err)
	}
	t, version := ObjectType(header[0]), header[1]
	if version != FormatVersion {
		return Item{}, fmt.Errorf("%w: record %d (%s) has format version %d", domain.ErrUnknownFormatVersion, r.index, t, version)
	}
	size, err := encbin.ReadUvarint(r.in)
	if err != nil || size > maxPayload {
		return Item{}, fmt.Errorf("%w: bad length for record %d", domain.ErrCorruptState, r.index)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r.in, body); err != nil {
		return Item{}, fmt.Errorf("%w: truncated record %d: %v", domain.ErrCorruptState, r.index, err)
	}
	item := Item{Index: r.index, Type: t}
	r.index++

	pr := binary.NewPortableReader(body, r.resolve)
	switch t {
	case ObjectConcept, ObjectSemantic:
		item.Chronology = r.readChronology(pr, t)
	case ObjectStampAlias:
		item.Alias = &AliasItem{Alias: readStamp(pr), Target: readStamp(pr)}
	case ObjectCommitRecord:
		item.Commit = readCommit(pr)
	default:
		return item, &RecordError{Index: item.Index, Type: t, Err: fmt.Errorf("%w: object type %d", domain.ErrUnsupported, t)}
	}
	if err := pr.Err(); err != nil {
		return item, &RecordError{Index: item.Index, Type: t, Err: err}
	}
	if pr.Remaining() != 0 {
		return item, &RecordError{Index: item.Index, Type: t, Err: fmt.Errorf("%w: %d trailing bytes", domain.ErrCorruptState, pr.Remaining())}
	}
	return item, nil
}

func (r *Reader) readChronology(pr *binary.Reader, t ObjectType) *ChronologyItem {
	c := &ChronologyItem{ObjectType: domain.ObjectConcept}
	if t == ObjectSemantic {
		c.ObjectType = domain.ObjectSemantic
	}
	n := pr.ReadUvarint()
	if n == 0 || n > uint64(pr.Remaining()/16) {
		pr.Fail(fmt.Errorf("%w: chronology with %d uuids", domain.ErrCorruptState, n))
		return c
	}
	for i := uint64(0); i < n; i++ {
		c.UUIDs = append(c.UUIDs, pr.ReadUUID())
	}
	c.AssemblageNid = pr.ReadNid()
	if t == ObjectSemantic {
		c.ReferencedNid = pr.ReadNid()
	}
	c.VersionType = domain.VersionType(pr.ReadUint8())
	count := pr.ReadUvarint()
	if count > uint64(pr.Remaining()) {
		pr.Fail(fmt.Errorf("%w: version count %d exceeds payload", domain.ErrCorruptState, count))
		return c
	}
	for i := uint64(0); i < count && pr.Err() == nil; i++ {
		st := readStamp(pr)
		data, err := r.codecs.DecodeVersionData(pr, c.VersionType)
		if err != nil {
			pr.Fail(err)
			break
		}
		c.Versions = append(c.Versions, VersionItem{Stamp: st, Data: data})
	}
	return c
}

func readCommit(pr *binary.Reader) *CommitItem {
	c := &CommitItem{Time: pr.ReadInt64(), Comment: pr.ReadString()}
	n := pr.ReadUvarint()
	if n > uint64(pr.Remaining()) {
		pr.Fail(fmt.Errorf("%w: stamp count %d exceeds payload", domain.ErrCorruptState, n))
		return c
	}
	for i := uint64(0); i < n && pr.Err() == nil; i++ {
		c.Stamps = append(c.Stamps, readStamp(pr))
	}
	n = pr.ReadUvarint()
	if n > uint64(pr.Remaining()) {
		pr.Fail(fmt.Errorf("%w: alias count %d exceeds payload", domain.ErrCorruptState, n))
		return c
	}
	for i := uint64(0); i < n && pr.Err() == nil; i++ {
		c.Aliases = append(c.Aliases, AliasItem{Alias: readStamp(pr), Target: readStamp(pr)})
	}
	c.ConceptNids = pr.ReadNids()
	c.SemanticNids = pr.ReadNids()
	return c
}

// ReadAll decodes every record of in, stopping at the first error.
func ReadAll(in io.Reader, resolve binary.UUIDToNid) ([]Item, error) {
	r := NewReader(in, resolve)
	var items []Item
	for {
		item, err := r.Next()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
}

// PrimaryUUID returns the first UUID of a chronology item.
func (c *ChronologyItem) PrimaryUUID() uuid.UUID {
	if len(c.UUIDs) == 0 {
		return uuid.Nil
	}
	return c.UUIDs[0]
}
