// Package binary is the byte-level codec shared by logic graphs and
// change-set files. Integers are big-endian; errors are sticky, so callers
// check Err once after a sequence of writes or reads.
package binary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"isaac/pkg/domain"
)

// NidToUUID translates a local nid into its portable UUID.
type NidToUUID func(nid int32) (uuid.UUID, error)

// UUIDToNid translates a portable UUID into a local nid.
type UUIDToNid func(u uuid.UUID) (int32, error)

// Writer appends encoded values to an in-memory buffer. When a NidToUUID is
// configured nids are written as UUIDs.
type Writer struct {
	buf   bytes.Buffer
	toUID NidToUUID
	err   error
}

// NewWriter returns a writer that writes nids verbatim.
func NewWriter() *Writer { return &Writer{} }

// NewPortableWriter returns a writer that writes nids as UUIDs.
func NewPortableWriter(toUUID NidToUUID) *Writer { return &Writer{toUID: toUUID} }

// Portable reports whether nids are written as UUIDs.
func (w *Writer) Portable() bool { return w.toUID != nil }

// Err returns the first error encountered.
func (w *Writer) Err() error { return w.err }

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Fail records err unless an earlier error is already recorded.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) put(b []byte) {
	if w.err != nil {
		return
	}
	w.buf.Write(b)
}

func (w *Writer) WriteUint8(v uint8) { w.put([]byte{v}) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
		return
	}
	w.WriteUint8(0)
}

func (w *Writer) WriteInt32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.put(b[:])
}

func (w *Writer) WriteInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.put(b[:])
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteInt64(int64(math.Float64bits(v)))
}

func (w *Writer) WriteUvarint(v uint64) {
	w.put(binary.AppendUvarint(nil, v))
}

// WriteBytes writes a length-prefixed byte slice.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteUvarint(uint64(len(b)))
	w.put(b)
}

func (w *Writer) WriteString(s string) { w.WriteBytes([]byte(s)) }

func (w *Writer) WriteUUID(u uuid.UUID) { w.put(u[:]) }

// WriteNid writes a nid, or its UUID when the writer is portable. Zero means
// "no component" and is written as the nil UUID.
func (w *Writer) WriteNid(nid int32) {
	if w.toUID == nil {
		w.WriteInt32(nid)
		return
	}
	if nid == 0 {
		w.WriteUUID(uuid.Nil)
		return
	}
	u, err := w.toUID(nid)
	if err != nil {
		w.Fail(fmt.Errorf("nid %d: %w", nid, err))
		return
	}
	w.WriteUUID(u)
}

// WriteNids writes a length-prefixed nid list.
func (w *Writer) WriteNids(nids []int32) {
	w.WriteUvarint(uint64(len(nids)))
	for _, n := range nids {
		w.WriteNid(n)
	}
}

// Reader decodes values from a byte slice.
type Reader struct {
	data  []byte
	off   int
	toNid UUIDToNid
	err   error
}

// NewReader reads nids verbatim.
func NewReader(data []byte) *Reader { return &Reader{data: data} }

// NewPortableReader reads nids written as UUIDs.
func NewPortableReader(data []byte, toNid UUIDToNid) *Reader {
	return &Reader{data: data, toNid: toNid}
}

// Portable reports whether nids are read as UUIDs.
func (r *Reader) Portable() bool { return r.toNid != nil }

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Fail records err unless an earlier error is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", domain.ErrCorruptState, n, r.off, r.Remaining())
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) ReadUint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) ReadBool() bool { return r.ReadUint8() != 0 }

func (r *Reader) ReadInt32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *Reader) ReadInt64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *Reader) ReadFloat64() float64 {
	return math.Float64frombits(uint64(r.ReadInt64()))
}

func (r *Reader) ReadUvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		r.err = fmt.Errorf("%w: bad varint at offset %d", domain.ErrCorruptState, r.off)
		return 0
	}
	r.off += n
	return v
}

// ReadBytes reads a length-prefixed byte slice.
func (r *Reader) ReadBytes() []byte {
	n := r.ReadUvarint()
	if n > uint64(r.Remaining()) {
		r.Fail(fmt.Errorf("%w: length %d exceeds remaining %d bytes", domain.ErrCorruptState, n, r.Remaining()))
		return nil
	}
	return append([]byte(nil), r.take(int(n))...)
}

func (r *Reader) ReadString() string { return string(r.ReadBytes()) }

func (r *Reader) ReadUUID() uuid.UUID {
	b := r.take(16)
	if b == nil {
		return uuid.Nil
	}
	var u uuid.UUID
	copy(u[:], b)
	return u
}

// ReadNid reads a nid written by WriteNid.
func (r *Reader) ReadNid() int32 {
	if r.toNid == nil {
		return r.ReadInt32()
	}
	u := r.ReadUUID()
	if r.err != nil || u == uuid.Nil {
		return 0
	}
	nid, err := r.toNid(u)
	if err != nil {
		r.Fail(fmt.Errorf("uuid %s: %w", u, err))
		return 0
	}
	return nid
}

// ReadNids reads a list written by WriteNids.
func (r *Reader) ReadNids() []int32 {
	n := r.ReadUvarint()
	if n > uint64(r.Remaining()) {
		r.Fail(fmt.Errorf("%w: nid count %d exceeds input", domain.ErrCorruptState, n))
		return nil
	}
	out := make([]int32, 0, n)
	for i := uint64(0); i < n && r.err == nil; i++ {
		out = append(out, r.ReadNid())
	}
	return out
}
