package memvid

import "math"

// Stats is a read-only aggregation derived from the handle's current TOC
// (including mutations not yet committed) and the file metadata. All byte
// arithmetic saturates.
type Stats struct {
	FrameCount       uint64
	ActiveFrameCount uint64

	SizeBytes    uint64
	PayloadBytes uint64
	LogicalBytes uint64
	SavedBytes   uint64

	CompressionRatioPercent   float64
	SavingsPercent            float64
	StorageUtilisationPercent float64

	CapacityBytes          uint64
	RemainingCapacityBytes uint64

	AverageFramePayloadBytes uint64
	AverageFrameLogicalBytes uint64

	WALBytes       uint64
	LexIndexBytes  uint64
	VecIndexBytes  uint64
	TimeIndexBytes uint64
	VectorCount    uint64
	ClipImageCount uint64

	HasLexIndex  bool
	HasVecIndex  bool
	HasClipIndex bool
	HasTimeIndex bool

	Tier Tier

	// SeqNo is the last applied ticket sequence, nil before any apply.
	SeqNo *int64
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func satAdd(a, b uint64) uint64 {
	if a+b < a {
		return math.MaxUint64
	}

	return a + b
}

func satSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}

	return a - b
}

// Stats derives the current statistics. Only Active frames count toward
// payload and logical byte totals.
func (m *Memvid) Stats() (Stats, error) {
	if err := m.ensureOpen(); err != nil {
		return Stats{}, err
	}

	size, err := m.sf.size()
	if err != nil {
		return Stats{}, err
	}

	var (
		payloadBytes uint64
		logicalBytes uint64
		activeFrames uint64
	)

	for i := range m.toc.Frames {
		f := &m.toc.Frames[i]
		if f.Status != StatusActive {
			continue
		}

		activeFrames++
		payloadBytes = satAdd(payloadBytes, f.PayloadLength)

		if f.PayloadLength > 0 {
			logicalBytes = satAdd(logicalBytes, f.CanonicalLength())
		}
	}

	savedBytes := satSub(logicalBytes, payloadBytes)

	compressionRatio := 100.0
	savings := 0.0

	if logicalBytes > 0 {
		compressionRatio = round2(float64(payloadBytes) / float64(logicalBytes) * 100)
		savings = round2(float64(savedBytes) / float64(logicalBytes) * 100)
	}

	capacity := m.toc.TicketRef.CapacityBytes

	utilisation := 0.0
	if capacity > 0 {
		utilisation = round2(float64(size) / float64(capacity) * 100)
	}

	var avgPayload, avgLogical uint64
	if activeFrames > 0 {
		avgPayload = payloadBytes / activeFrames
		avgLogical = logicalBytes / activeFrames
	}

	lexBytes := descBytes(m.toc.Indexes.Lex) + segBytes(m.toc.Segments.LexSegments)
	timeBytes := descBytes(m.toc.Indexes.Time) + segBytes(m.toc.Segments.TimeSegments)

	vecBytes := descBytes(m.toc.Indexes.Vec) + segBytes(m.toc.Segments.VecSegments)
	vectorCount := descCount(m.toc.Indexes.Vec) + segCount(m.toc.Segments.VecSegments)

	stats := Stats{
		FrameCount:       uint64(len(m.toc.Frames)),
		ActiveFrameCount: activeFrames,

		SizeBytes:    size,
		PayloadBytes: payloadBytes,
		LogicalBytes: logicalBytes,
		SavedBytes:   savedBytes,

		CompressionRatioPercent:   compressionRatio,
		SavingsPercent:            savings,
		StorageUtilisationPercent: utilisation,

		CapacityBytes:          capacity,
		RemainingCapacityBytes: satSub(capacity, size),

		AverageFramePayloadBytes: avgPayload,
		AverageFrameLogicalBytes: avgLogical,

		WALBytes:       m.sf.hdr.WALSize,
		LexIndexBytes:  lexBytes,
		VecIndexBytes:  vecBytes,
		TimeIndexBytes: timeBytes,
		VectorCount:    vectorCount,
		ClipImageCount: descCount(m.toc.Indexes.Clip),

		HasLexIndex:  m.HasLexIndex(),
		HasVecIndex:  m.HasVecIndex(),
		HasClipIndex: m.HasClipIndex(),
		HasTimeIndex: m.HasTimeIndex(),

		Tier: m.sf.hdr.Tier,
	}

	if seq := m.toc.TicketRef.SeqNo; seq != 0 {
		stats.SeqNo = &seq
	}

	return stats, nil
}

func descBytes(d *IndexDescriptor) uint64 {
	if d == nil {
		return 0
	}

	return d.Length
}

func descCount(d *IndexDescriptor) uint64 {
	if d == nil {
		return 0
	}

	return d.Count
}

func segBytes(segs []IndexDescriptor) uint64 {
	var total uint64
	for i := range segs {
		total = satAdd(total, segs[i].Length)
	}

	return total
}

func segCount(segs []IndexDescriptor) uint64 {
	var total uint64
	for i := range segs {
		total = satAdd(total, segs[i].Count)
	}

	return total
}
