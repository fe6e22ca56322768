package memvid

import (
	"fmt"
	"sort"

	"github.com/maxgoff/memvid/pkg/vfs"
)

// VerifyStatus is the overall outcome of a verification pass.
type VerifyStatus uint8

// Verification outcomes. Degraded means the file structure is sound but
// some payload failed its checksum; Corrupt means the structure itself is
// damaged.
const (
	VerifyOk VerifyStatus = iota
	VerifyDegraded
	VerifyCorrupt
)

func (s VerifyStatus) String() string {
	switch s {
	case VerifyOk:
		return "ok"
	case VerifyDegraded:
		return "degraded"
	case VerifyCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Diagnostic is one per-check finding.
type Diagnostic struct {
	Check  string
	Fatal  bool
	Detail string
}

// VerifyReport aggregates all findings of one verification pass.
type VerifyReport struct {
	Status      VerifyStatus
	Diagnostics []Diagnostic
}

func (r *VerifyReport) corrupt(check, format string, args ...any) {
	r.Status = VerifyCorrupt
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Check:  check,
		Fatal:  true,
		Detail: fmt.Sprintf(format, args...),
	})
}

func (r *VerifyReport) degraded(check, format string, args ...any) {
	if r.Status == VerifyOk {
		r.Status = VerifyDegraded
	}

	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Check:  check,
		Detail: fmt.Sprintf(format, args...),
	})
}

// Verify checks the integrity of a committed .mv2 file without opening a
// mutating handle: header parse, TOC checksum, frame byte-ranges (inside
// the file, below the TOC, pairwise non-overlapping), and index segment
// ranges. With deep set, every Active frame's payload checksum is
// verified as well.
func Verify(path string, deep bool) (*VerifyReport, error) {
	return VerifyWith(vfs.NewReal(), path, deep)
}

// VerifyWith is [Verify] against an explicit filesystem.
func VerifyWith(fsys vfs.FS, path string, deep bool) (*VerifyReport, error) {
	report := &VerifyReport{Status: VerifyOk}

	sf, t, err := openStorage(fsys, path, false)
	if err != nil {
		report.corrupt("open", "%v", err)

		return report, nil
	}

	defer func() { _ = sf.close() }()

	size, err := sf.size()
	if err != nil {
		return nil, err
	}

	verifyFrames(report, sf, t, size, deep)
	verifyIndexRanges(report, sf, t)

	return report, nil
}

func verifyFrames(report *VerifyReport, sf *storageFile, t *toc, size uint64, deep bool) {
	payloadStart := sf.hdr.payloadStart()
	tocOffset := sf.hdr.TOCOffset

	seen := make(map[uint64]bool, len(t.Frames))

	type span struct {
		start, end uint64
		id         uint64
	}

	spans := make([]span, 0, len(t.Frames))

	for i := range t.Frames {
		f := &t.Frames[i]

		if seen[f.ID] {
			report.corrupt("frame-ids", "frame id %d appears more than once", f.ID)
		}

		seen[f.ID] = true

		if f.Status != StatusActive {
			continue
		}

		end := f.Offset + f.PayloadLength

		switch {
		case f.Offset < payloadStart:
			report.corrupt("frame-bounds", "frame %d starts at %d inside fixed regions", f.ID, f.Offset)
		case end > tocOffset:
			report.corrupt("frame-bounds", "frame %d ends at %d past toc offset %d", f.ID, end, tocOffset)
		case end > size:
			report.corrupt("frame-bounds", "frame %d ends at %d past EOF %d", f.ID, end, size)
		default:
			spans = append(spans, span{start: f.Offset, end: end, id: f.ID})

			if deep && f.PayloadLength > 0 {
				payload, err := sf.readRange(f.Offset, f.PayloadLength)
				if err != nil {
					report.degraded("frame-checksum", "frame %d unreadable: %v", f.ID, err)
				} else if checksum(payload) != f.Checksum {
					report.degraded("frame-checksum", "frame %d payload checksum mismatch", f.ID)
				}
			}
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			report.corrupt("frame-overlap", "frames %d and %d overlap", spans[i-1].id, spans[i].id)
		}
	}
}

func verifyIndexRanges(report *VerifyReport, sf *storageFile, t *toc) {
	tocOffset := sf.hdr.TOCOffset
	payloadStart := sf.hdr.payloadStart()

	check := func(kind string, d *IndexDescriptor) {
		if d == nil || d.Length == 0 {
			return
		}

		if d.Offset < payloadStart || d.Offset+d.Length > tocOffset {
			report.corrupt("index-bounds", "%s index range [%d,%d) outside payload region", kind, d.Offset, d.Offset+d.Length)
		}
	}

	check("lex", t.Indexes.Lex)
	check("vec", t.Indexes.Vec)
	check("clip", t.Indexes.Clip)
	check("time", t.Indexes.Time)

	for i := range t.Segments.VecSegments {
		check("vec-segment", &t.Segments.VecSegments[i])
	}

	for i := range t.Segments.TimeSegments {
		check("time-segment", &t.Segments.TimeSegments[i])
	}

	for i := range t.Segments.LexSegments {
		check("lex-segment", &t.Segments.LexSegments[i])
	}
}
