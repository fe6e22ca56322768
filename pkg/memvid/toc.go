package memvid

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"
)

// IndexDescriptor locates one serialized index blob inside the file.
// Count carries the vector count (vec, clip) where applicable; zero for
// kinds without one.
type IndexDescriptor struct {
	Offset uint64
	Length uint64
	Count  uint64
}

// primaryIndexes holds the optional primary descriptor per index kind.
type primaryIndexes struct {
	Lex  *IndexDescriptor
	Vec  *IndexDescriptor
	Clip *IndexDescriptor
	Time *IndexDescriptor
}

// segmentCatalog lists incremental segments layered atop the primaries.
type segmentCatalog struct {
	VecSegments  []IndexDescriptor
	TimeSegments []IndexDescriptor
	LexSegments  []IndexDescriptor
}

// toc is the table-of-contents footer. It is rewritten wholesale on every
// commit; field ordering in the serialization is stable and new fields
// append only.
type toc struct {
	Frames    []Frame
	Indexes   primaryIndexes
	Segments  segmentCatalog
	TicketRef TicketRef
	LogicMesh []byte
}

// maxFrameID returns the highest frame id present, or zero.
func (t *toc) maxFrameID() uint64 {
	var maxID uint64
	for i := range t.Frames {
		if t.Frames[i].ID > maxID {
			maxID = t.Frames[i].ID
		}
	}

	return maxID
}

// frameByID returns the frame with the given id, or nil.
func (t *toc) frameByID(id uint64) *Frame {
	for i := range t.Frames {
		if t.Frames[i].ID == id {
			return &t.Frames[i]
		}
	}

	return nil
}

// clone returns a deep copy, used for read-only TOC snapshots.
func (t *toc) clone() *toc {
	out := &toc{
		Frames:    append([]Frame(nil), t.Frames...),
		TicketRef: t.TicketRef,
		LogicMesh: append([]byte(nil), t.LogicMesh...),
	}

	copyDesc := func(d *IndexDescriptor) *IndexDescriptor {
		if d == nil {
			return nil
		}

		c := *d

		return &c
	}

	out.Indexes.Lex = copyDesc(t.Indexes.Lex)
	out.Indexes.Vec = copyDesc(t.Indexes.Vec)
	out.Indexes.Clip = copyDesc(t.Indexes.Clip)
	out.Indexes.Time = copyDesc(t.Indexes.Time)
	out.Segments.VecSegments = append([]IndexDescriptor(nil), t.Segments.VecSegments...)
	out.Segments.TimeSegments = append([]IndexDescriptor(nil), t.Segments.TimeSegments...)
	out.Segments.LexSegments = append([]IndexDescriptor(nil), t.Segments.LexSegments...)

	for i := range out.Frames {
		f := &out.Frames[i]
		f.Meta.Labels = append([]string(nil), f.Meta.Labels...)

		if f.Meta.Tags != nil {
			tags := make(map[string]string, len(f.Meta.Tags))
			for k, v := range f.Meta.Tags {
				tags[k] = v
			}

			f.Meta.Tags = tags
		}
	}

	return out
}

// --- binary codec helpers ---

// errShortBuffer is the internal decode sentinel; callers surface
// ErrCorruptTOC (or terminate a WAL scan).
var errShortBuffer = errors.New("short buffer")

type binWriter struct {
	buf bytes.Buffer
}

func (w *binWriter) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *binWriter) u16(v uint16) { w.writeUint(uint64(v), 2) }
func (w *binWriter) u32(v uint32) { w.writeUint(uint64(v), 4) }
func (w *binWriter) u64(v uint64) { w.writeUint(v, 8) }
func (w *binWriter) i64(v int64)  { w.writeUint(uint64(v), 8) }

func (w *binWriter) writeUint(v uint64, size int) {
	var tmp [8]byte

	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf.Write(tmp[:size])
}

// str1 writes a string with a 1-byte length prefix.
func (w *binWriter) str1(s string) {
	w.u8(uint8(len(s)))
	w.buf.WriteString(s)
}

// str2 writes a string with a 2-byte length prefix.
func (w *binWriter) str2(s string) {
	w.u16(uint16(len(s)))
	w.buf.WriteString(s)
}

// blob4 writes a byte slice with a 4-byte length prefix.
func (w *binWriter) blob4(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *binWriter) bytes() []byte { return w.buf.Bytes() }

type binReader struct {
	buf []byte
	pos int
	err error
}

func (r *binReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}

	if r.pos+n > len(r.buf) {
		r.err = errShortBuffer

		return nil
	}

	b := r.buf[r.pos : r.pos+n]
	r.pos += n

	return b
}

func (r *binReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}

	return b[0]
}

func (r *binReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint16(b)
}

func (r *binReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint32(b)
}

func (r *binReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint64(b)
}

func (r *binReader) i64() int64 { return int64(r.u64()) }

func (r *binReader) str1() string {
	n := int(r.u8())

	return string(r.take(n))
}

func (r *binReader) str2() string {
	n := int(r.u16())

	return string(r.take(n))
}

func (r *binReader) blob4() []byte {
	n := int(r.u32())

	b := r.take(n)
	if b == nil {
		return nil
	}

	return append([]byte(nil), b...)
}

// --- frame codec (shared between TOC and WAL records) ---

func encodeFrame(w *binWriter, f *Frame) {
	w.u64(f.ID)
	w.u8(uint8(f.Status))
	w.u8(f.flags)
	w.u64(f.Offset)
	w.u64(f.PayloadLength)
	w.u64(f.canonicalLength)
	w.u32(f.Checksum)

	w.str2(f.Meta.Title)
	w.str2(f.Meta.URI)
	w.str1(f.Meta.Kind)

	if f.Meta.Timestamp.IsZero() {
		w.i64(0)
	} else {
		w.i64(f.Meta.Timestamp.UnixNano())
	}

	w.u8(uint8(len(f.Meta.Labels)))
	for _, l := range f.Meta.Labels {
		w.str1(l)
	}

	// Tags in sorted key order so serialization is deterministic.
	keys := make([]string, 0, len(f.Meta.Tags))
	for k := range f.Meta.Tags {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	w.u8(uint8(len(keys)))
	for _, k := range keys {
		w.str1(k)
		w.str2(f.Meta.Tags[k])
	}
}

func decodeFrame(r *binReader) Frame {
	var f Frame

	f.ID = r.u64()
	f.Status = FrameStatus(r.u8())
	f.flags = r.u8()
	f.Offset = r.u64()
	f.PayloadLength = r.u64()
	f.canonicalLength = r.u64()
	f.Checksum = r.u32()

	f.Meta.Title = r.str2()
	f.Meta.URI = r.str2()
	f.Meta.Kind = r.str1()

	if ns := r.i64(); ns != 0 {
		f.Meta.Timestamp = time.Unix(0, ns).UTC()
	}

	labelCount := int(r.u8())
	if labelCount > 0 {
		f.Meta.Labels = make([]string, 0, labelCount)
		for range labelCount {
			f.Meta.Labels = append(f.Meta.Labels, r.str1())
		}
	}

	tagCount := int(r.u8())
	if tagCount > 0 {
		f.Meta.Tags = make(map[string]string, tagCount)
		for range tagCount {
			k := r.str1()
			v := r.str2()
			f.Meta.Tags[k] = v
		}
	}

	return f
}

// --- TOC codec ---

func encodeIndexDescriptor(w *binWriter, d *IndexDescriptor) {
	if d == nil {
		w.u8(0)

		return
	}

	w.u8(1)
	w.u64(d.Offset)
	w.u64(d.Length)
	w.u64(d.Count)
}

func decodeIndexDescriptor(r *binReader) *IndexDescriptor {
	if r.u8() == 0 {
		return nil
	}

	return &IndexDescriptor{
		Offset: r.u64(),
		Length: r.u64(),
		Count:  r.u64(),
	}
}

func encodeSegments(w *binWriter, segs []IndexDescriptor) {
	w.u32(uint32(len(segs)))

	for i := range segs {
		w.u64(segs[i].Offset)
		w.u64(segs[i].Length)
		w.u64(segs[i].Count)
	}
}

func decodeSegments(r *binReader) []IndexDescriptor {
	n := int(r.u32())
	if n == 0 || r.err != nil {
		return nil
	}

	segs := make([]IndexDescriptor, 0, n)
	for range n {
		segs = append(segs, IndexDescriptor{
			Offset: r.u64(),
			Length: r.u64(),
			Count:  r.u64(),
		})

		if r.err != nil {
			return nil
		}
	}

	return segs
}

// encodeTOC serializes the TOC. The returned bytes do not include the
// trailing CRC; the caller computes it with [checksum].
func encodeTOC(t *toc) []byte {
	var w binWriter

	w.u32(uint32(len(t.Frames)))
	for i := range t.Frames {
		encodeFrame(&w, &t.Frames[i])
	}

	encodeIndexDescriptor(&w, t.Indexes.Lex)
	encodeIndexDescriptor(&w, t.Indexes.Vec)
	encodeIndexDescriptor(&w, t.Indexes.Clip)
	encodeIndexDescriptor(&w, t.Indexes.Time)

	encodeSegments(&w, t.Segments.VecSegments)
	encodeSegments(&w, t.Segments.TimeSegments)
	encodeSegments(&w, t.Segments.LexSegments)

	w.str2(t.TicketRef.Issuer)
	w.i64(t.TicketRef.SeqNo)
	w.u64(t.TicketRef.ExpiresInSecs)
	w.u64(t.TicketRef.CapacityBytes)

	w.blob4(t.LogicMesh)

	return w.bytes()
}

// decodeTOC parses serialized TOC bytes.
func decodeTOC(buf []byte) (*toc, error) {
	r := binReader{buf: buf}
	t := &toc{}

	frameCount := int(r.u32())
	if r.err == nil && frameCount > 0 {
		t.Frames = make([]Frame, 0, frameCount)
		for range frameCount {
			t.Frames = append(t.Frames, decodeFrame(&r))

			if r.err != nil {
				break
			}
		}
	}

	t.Indexes.Lex = decodeIndexDescriptor(&r)
	t.Indexes.Vec = decodeIndexDescriptor(&r)
	t.Indexes.Clip = decodeIndexDescriptor(&r)
	t.Indexes.Time = decodeIndexDescriptor(&r)

	t.Segments.VecSegments = decodeSegments(&r)
	t.Segments.TimeSegments = decodeSegments(&r)
	t.Segments.LexSegments = decodeSegments(&r)

	t.TicketRef.Issuer = r.str2()
	t.TicketRef.SeqNo = r.i64()
	t.TicketRef.ExpiresInSecs = r.u64()
	t.TicketRef.CapacityBytes = r.u64()

	t.LogicMesh = r.blob4()
	if len(t.LogicMesh) == 0 {
		t.LogicMesh = nil
	}

	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTOC, r.err)
	}

	return t, nil
}
