package memvid

// IndexKind identifies one of the auxiliary index families. The engine
// stores index bytes and records their location; it never interprets
// index content.
type IndexKind uint8

// Index kinds.
const (
	IndexLex IndexKind = iota
	IndexVec
	IndexClip
	IndexTime
)

func (k IndexKind) String() string {
	switch k {
	case IndexLex:
		return "lex"
	case IndexVec:
		return "vec"
	case IndexClip:
		return "clip"
	case IndexTime:
		return "time"
	default:
		return "unknown"
	}
}

// IndexCounters carries the per-blob accounting an index builder reports
// at registration. VectorCount doubles as the image count for clip.
type IndexCounters struct {
	VectorCount uint64
}

// RegisterPrimaryIndex stores a serialized primary index of the given
// kind, replacing any previous primary. The old bytes become
// unreferenced until compaction. The registration is published by the
// next [Memvid.Commit]; keeping index bytes inside the same file lets one
// commit publish frames and their indexes together.
func (m *Memvid) RegisterPrimaryIndex(kind IndexKind, bytes []byte, counters IndexCounters) error {
	if err := m.ensureWritable(); err != nil {
		return err
	}

	if len(bytes) == 0 {
		return invalidf("index", "empty")
	}

	if kind > IndexTime {
		return invalidf("kind", "unknown index kind")
	}

	if err := m.checkCapacity(nil, uint64(len(bytes))); err != nil {
		return err
	}

	offset, _, err := m.sf.appendPayload(bytes)
	if err != nil {
		return err
	}

	desc := &IndexDescriptor{
		Offset: offset,
		Length: uint64(len(bytes)),
		Count:  counters.VectorCount,
	}

	switch kind {
	case IndexLex:
		m.toc.Indexes.Lex = desc
	case IndexVec:
		m.toc.Indexes.Vec = desc
	case IndexClip:
		m.toc.Indexes.Clip = desc
	case IndexTime:
		m.toc.Indexes.Time = desc
	}

	m.dirty = true

	return nil
}

// RegisterSegment appends an incremental index segment layered atop the
// primary. Lookup iterates the primary plus all segments. Clip has no
// segment form.
func (m *Memvid) RegisterSegment(kind IndexKind, bytes []byte, counters IndexCounters) error {
	if err := m.ensureWritable(); err != nil {
		return err
	}

	if len(bytes) == 0 {
		return invalidf("segment", "empty")
	}

	if kind != IndexVec && kind != IndexTime && kind != IndexLex {
		return invalidf("kind", "segments exist only for vec, time, and lex")
	}

	if err := m.checkCapacity(nil, uint64(len(bytes))); err != nil {
		return err
	}

	offset, _, err := m.sf.appendPayload(bytes)
	if err != nil {
		return err
	}

	seg := IndexDescriptor{
		Offset: offset,
		Length: uint64(len(bytes)),
		Count:  counters.VectorCount,
	}

	switch kind {
	case IndexVec:
		m.toc.Segments.VecSegments = append(m.toc.Segments.VecSegments, seg)
	case IndexTime:
		m.toc.Segments.TimeSegments = append(m.toc.Segments.TimeSegments, seg)
	case IndexLex:
		m.toc.Segments.LexSegments = append(m.toc.Segments.LexSegments, seg)
	}

	m.dirty = true

	return nil
}

// ReadIndex returns the serialized bytes of the primary index of the
// given kind, or nil if none is registered.
func (m *Memvid) ReadIndex(kind IndexKind) ([]byte, error) {
	if err := m.ensureOpen(); err != nil {
		return nil, err
	}

	var desc *IndexDescriptor

	switch kind {
	case IndexLex:
		desc = m.toc.Indexes.Lex
	case IndexVec:
		desc = m.toc.Indexes.Vec
	case IndexClip:
		desc = m.toc.Indexes.Clip
	case IndexTime:
		desc = m.toc.Indexes.Time
	default:
		return nil, invalidf("kind", "unknown index kind")
	}

	if desc == nil {
		return nil, nil
	}

	return m.sf.readRange(desc.Offset, desc.Length)
}

// ReadSegments returns the serialized bytes of every segment of the
// given kind, in registration order.
func (m *Memvid) ReadSegments(kind IndexKind) ([][]byte, error) {
	if err := m.ensureOpen(); err != nil {
		return nil, err
	}

	var segs []IndexDescriptor

	switch kind {
	case IndexVec:
		segs = m.toc.Segments.VecSegments
	case IndexTime:
		segs = m.toc.Segments.TimeSegments
	case IndexLex:
		segs = m.toc.Segments.LexSegments
	default:
		return nil, invalidf("kind", "segments exist only for vec, time, and lex")
	}

	out := make([][]byte, 0, len(segs))

	for i := range segs {
		b, err := m.sf.readRange(segs[i].Offset, segs[i].Length)
		if err != nil {
			return nil, err
		}

		out = append(out, b)
	}

	return out, nil
}

// HasLexIndex reports whether a lex primary or at least one lex segment
// exists.
func (m *Memvid) HasLexIndex() bool {
	return m.toc.Indexes.Lex != nil || len(m.toc.Segments.LexSegments) > 0
}

// HasVecIndex reports whether a vec primary or at least one vec segment
// exists.
func (m *Memvid) HasVecIndex() bool {
	return m.toc.Indexes.Vec != nil || len(m.toc.Segments.VecSegments) > 0
}

// HasClipIndex reports whether a clip primary exists.
func (m *Memvid) HasClipIndex() bool {
	return m.toc.Indexes.Clip != nil
}

// HasTimeIndex reports whether a time primary or at least one time
// segment exists.
func (m *Memvid) HasTimeIndex() bool {
	return m.toc.Indexes.Time != nil || len(m.toc.Segments.TimeSegments) > 0
}

// LogicMesh returns the opaque manifest blob, or nil.
func (m *Memvid) LogicMesh() []byte {
	if len(m.toc.LogicMesh) == 0 {
		return nil
	}

	return append([]byte(nil), m.toc.LogicMesh...)
}

// SetLogicMesh replaces the opaque manifest blob. Published by the next
// commit.
func (m *Memvid) SetLogicMesh(blob []byte) error {
	if err := m.ensureWritable(); err != nil {
		return err
	}

	m.toc.LogicMesh = append([]byte(nil), blob...)
	m.dirty = true

	return nil
}
