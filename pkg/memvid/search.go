package memvid

import "time"

// SearchRequest is the query surface handed to the registered [Searcher].
// The engine does not rank or plan; it guarantees only that the delegate
// sees a consistent snapshot of the committed TOC.
type SearchRequest struct {
	Query        string
	TopK         int
	SnippetChars int

	// Optional filters.
	URI       string
	Scope     string
	Cursor    string
	AsOfFrame uint64
	AsOfTime  time.Time
	Temporal  string
	NoSketch  bool
}

// Hit is one search result.
type Hit struct {
	FrameID uint64
	Text    string
	Score   float64
	Title   string
	URI     string
}

// SearchResponse is the result envelope of one search.
type SearchResponse struct {
	TotalHits uint64
	ElapsedMS uint64
	Hits      []Hit
}

// Snapshot is the read-only view of a committed store a [Searcher]
// queries against: the frame table plus the index segment catalog.
type Snapshot struct {
	Frames     []Frame
	Generation uint64

	LexIndex  *IndexDescriptor
	VecIndex  *IndexDescriptor
	ClipIndex *IndexDescriptor
	TimeIndex *IndexDescriptor

	VecSegments  []IndexDescriptor
	TimeSegments []IndexDescriptor
	LexSegments  []IndexDescriptor
}

// Searcher is the external query planner. Implementations read index
// bytes via [Memvid.ReadIndex] / [Memvid.ReadSegments] and rank however
// they like; the engine stays index-agnostic.
type Searcher interface {
	Search(snap *Snapshot, req *SearchRequest) (*SearchResponse, error)
}

// SetSearcher registers the query delegate. Passing nil removes it.
func (m *Memvid) SetSearcher(s Searcher) {
	m.searcher = s
}

// Search runs the request against the registered delegate over a
// snapshot of the committed TOC. Without a delegate it returns an empty
// response.
func (m *Memvid) Search(req *SearchRequest) (*SearchResponse, error) {
	if err := m.ensureOpen(); err != nil {
		return nil, err
	}

	if req == nil {
		return nil, invalidf("request", "nil")
	}

	if m.searcher == nil {
		return &SearchResponse{}, nil
	}

	// While the handle is dirty the in-memory TOC carries uncommitted
	// mutations; the committed TOC is still intact at the header's offset.
	snapTOC := m.toc.clone()
	if m.dirty {
		committed, err := m.sf.loadTOC()
		if err != nil {
			return nil, err
		}

		snapTOC = committed
	}

	snap := &Snapshot{
		Frames:       snapTOC.Frames,
		Generation:   m.sf.hdr.Generation,
		LexIndex:     snapTOC.Indexes.Lex,
		VecIndex:     snapTOC.Indexes.Vec,
		ClipIndex:    snapTOC.Indexes.Clip,
		TimeIndex:    snapTOC.Indexes.Time,
		VecSegments:  snapTOC.Segments.VecSegments,
		TimeSegments: snapTOC.Segments.TimeSegments,
		LexSegments:  snapTOC.Segments.LexSegments,
	}

	return m.searcher.Search(snap, req)
}
