package memvid

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testStorePath(t *testing.T) string {
	t.Helper()

	return filepath.Join(t.TempDir(), "store.mv2")
}

func createTestStore(t *testing.T, path string) *Memvid {
	t.Helper()

	m, err := CreateWith(path, Options{WALSize: testWALSize})
	require.NoError(t, err)

	return m
}

func TestCreatePutCommitReopen(t *testing.T) {
	t.Parallel()

	path := testStorePath(t)

	m := createTestStore(t, path)

	id, err := m.PutBytes([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	require.NoError(t, m.Commit())
	require.NoError(t, m.Close())

	reopened, err := Open(path)
	require.NoError(t, err)

	defer func() { _ = reopened.Close() }()

	stats, err := reopened.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.FrameCount)
	require.Equal(t, uint64(1), stats.ActiveFrameCount)
	require.Equal(t, uint64(5), stats.PayloadBytes)
}

func TestPutAssignsIncreasingIDs(t *testing.T) {
	t.Parallel()

	m := createTestStore(t, testStorePath(t))
	defer func() { _ = m.Close() }()

	for want := uint64(1); want <= 10; want++ {
		id, err := m.PutBytes([]byte("payload"))
		require.NoError(t, err)
		require.Equal(t, want, id)
	}
}

func TestPutEmptyPayload(t *testing.T) {
	t.Parallel()

	m := createTestStore(t, testStorePath(t))
	defer func() { _ = m.Close() }()

	_, err := m.PutBytes(nil)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = m.PutBytes([]byte{})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestGetRoundTrip(t *testing.T) {
	t.Parallel()

	m := createTestStore(t, testStorePath(t))
	defer func() { _ = m.Close() }()

	small := []byte("tiny payload")

	compressible := bytes.Repeat([]byte("semantic search substrate "), 1000)

	incompressible := make([]byte, 4096)
	_, err := rand.Read(incompressible)
	require.NoError(t, err)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	idSmall, err := m.PutBytesWithOptions(small, PutOptions{
		Title:     "small",
		URI:       "mem://small",
		Kind:      "text",
		Timestamp: ts,
		Labels:    []string{"a", "b"},
		Tags:      map[string]string{"k": "v"},
	})
	require.NoError(t, err)

	idComp, err := m.PutBytes(compressible)
	require.NoError(t, err)

	idRand, err := m.PutBytes(incompressible)
	require.NoError(t, err)

	require.NoError(t, m.Commit())

	got, frame, err := m.Get(idSmall)
	require.NoError(t, err)
	require.Equal(t, small, got)
	require.Equal(t, "small", frame.Meta.Title)
	require.Equal(t, "mem://small", frame.Meta.URI)
	require.True(t, ts.Equal(frame.Meta.Timestamp), "timestamp %v != %v", frame.Meta.Timestamp, ts)
	require.False(t, frame.Compressed())

	got, frame, err = m.Get(idComp)
	require.NoError(t, err)
	require.Equal(t, compressible, got)
	require.True(t, frame.Compressed())
	require.Less(t, frame.PayloadLength, frame.CanonicalLength())
	require.Equal(t, uint64(len(compressible)), frame.CanonicalLength())

	got, frame, err = m.Get(idRand)
	require.NoError(t, err)
	require.Equal(t, incompressible, got)
	require.False(t, frame.Compressed())
}

func TestGetUnknownFrame(t *testing.T) {
	t.Parallel()

	m := createTestStore(t, testStorePath(t))
	defer func() { _ = m.Close() }()

	_, _, err := m.Get(999)
	require.ErrorIs(t, err, ErrFrameNotFound)

	var notFound *FrameNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, uint64(999), notFound.ID)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	path := testStorePath(t)
	m := createTestStore(t, path)

	id, err := m.PutBytes([]byte("doomed"))
	require.NoError(t, err)

	keep, err := m.PutBytes([]byte("kept"))
	require.NoError(t, err)

	require.NoError(t, m.Commit())
	require.NoError(t, m.Delete(id))
	require.ErrorIs(t, m.Delete(id), ErrFrameNotFound)

	_, _, err = m.Get(id)
	require.ErrorIs(t, err, ErrFrameNotFound)

	require.NoError(t, m.Commit())
	require.NoError(t, m.Close())

	reopened, err := Open(path)
	require.NoError(t, err)

	defer func() { _ = reopened.Close() }()

	stats, err := reopened.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.FrameCount)
	require.Equal(t, uint64(1), stats.ActiveFrameCount)

	_, _, err = reopened.Get(keep)
	require.NoError(t, err)

	// Deleted ids are never reused.
	next, err := reopened.PutBytes([]byte("new"))
	require.NoError(t, err)
	require.Equal(t, uint64(3), next)
}

func TestCreateExisting(t *testing.T) {
	t.Parallel()

	path := testStorePath(t)

	m := createTestStore(t, path)
	require.NoError(t, m.Close())

	_, err := CreateWith(path, Options{WALSize: testWALSize})
	require.ErrorIs(t, err, ErrExists)
}

func TestOpenNotMv2(t *testing.T) {
	t.Parallel()

	path := testStorePath(t)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("junk"), 64), 0o644))

	_, err := Open(path)
	require.ErrorIs(t, err, ErrNotMv2File)
}

func TestWriterLockExcludesSecondWriter(t *testing.T) {
	t.Parallel()

	path := testStorePath(t)

	m := createTestStore(t, path)
	defer func() { _ = m.Close() }()

	_, err := Open(path)
	require.ErrorIs(t, err, ErrLocked)

	_, err = OpenReadOnly(path)
	require.ErrorIs(t, err, ErrLocked)
}

func TestReadOnlyHandle(t *testing.T) {
	t.Parallel()

	path := testStorePath(t)

	m := createTestStore(t, path)

	_, err := m.PutBytes([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)

	defer func() { _ = ro.Close() }()

	// Multiple readers may coexist.
	ro2, err := OpenReadOnly(path)
	require.NoError(t, err)
	require.NoError(t, ro2.Close())

	_, err = ro.PutBytes([]byte("nope"))
	require.ErrorIs(t, err, ErrReadOnly)

	require.ErrorIs(t, ro.Delete(1), ErrReadOnly)
	require.ErrorIs(t, ro.Commit(), ErrReadOnly)
	require.ErrorIs(t, ro.ApplyTicket(NewTicket("x", 1)), ErrReadOnly)

	_, frame, err := ro.Get(1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), frame.ID)
}

func TestCloseIsIdempotentAndCommits(t *testing.T) {
	t.Parallel()

	path := testStorePath(t)

	m := createTestStore(t, path)

	_, err := m.PutBytes([]byte("flushed by close"))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.PutBytes([]byte("after close"))
	require.ErrorIs(t, err, ErrClosed)

	reopened, err := Open(path)
	require.NoError(t, err)

	defer func() { _ = reopened.Close() }()

	stats, err := reopened.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.FrameCount)
}

func TestGenerationBumpsPerCommit(t *testing.T) {
	t.Parallel()

	m := createTestStore(t, testStorePath(t))
	defer func() { _ = m.Close() }()

	gen := m.Generation()

	_, err := m.PutBytes([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, m.Commit())
	require.Equal(t, gen+1, m.Generation())

	// A clean commit is a no-op.
	require.NoError(t, m.Commit())
	require.Equal(t, gen+1, m.Generation())
}

func TestMemoryIDSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := testStorePath(t)

	m := createTestStore(t, path)
	id := m.MemoryID()
	require.NoError(t, m.Close())

	reopened, err := Open(path)
	require.NoError(t, err)

	defer func() { _ = reopened.Close() }()

	require.Equal(t, id, reopened.MemoryID())
}

func TestWALFullTriggersImplicitCommit(t *testing.T) {
	t.Parallel()

	// A WAL sized to hold only a couple of records forces put to flush
	// pending mutations instead of failing.
	m, err := CreateWith(testStorePath(t), Options{WALSize: 512})
	require.NoError(t, err)

	defer func() { _ = m.Close() }()

	for i := range 20 {
		_, err := m.PutBytesWithOptions([]byte("payload payload payload"), PutOptions{Title: "spill"})
		require.NoError(t, err, "put %d", i)
	}

	require.NoError(t, m.Commit())

	stats, err := m.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(20), stats.FrameCount)
}

func TestSearchWithoutDelegate(t *testing.T) {
	t.Parallel()

	m := createTestStore(t, testStorePath(t))
	defer func() { _ = m.Close() }()

	resp, err := m.Search(&SearchRequest{Query: "anything", TopK: 5})
	require.NoError(t, err)
	require.Zero(t, resp.TotalHits)
	require.Empty(t, resp.Hits)
}

type fakeSearcher struct {
	lastSnap *Snapshot
	resp     *SearchResponse
}

func (f *fakeSearcher) Search(snap *Snapshot, _ *SearchRequest) (*SearchResponse, error) {
	f.lastSnap = snap

	return f.resp, nil
}

func TestSearchDelegateSeesCommittedSnapshot(t *testing.T) {
	t.Parallel()

	m := createTestStore(t, testStorePath(t))
	defer func() { _ = m.Close() }()

	_, err := m.PutBytes([]byte("indexed"))
	require.NoError(t, err)
	require.NoError(t, m.Commit())

	searcher := &fakeSearcher{resp: &SearchResponse{TotalHits: 1, Hits: []Hit{{FrameID: 1, Score: 0.9}}}}
	m.SetSearcher(searcher)

	resp, err := m.Search(&SearchRequest{Query: "indexed"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), resp.TotalHits)

	require.NotNil(t, searcher.lastSnap)
	require.Len(t, searcher.lastSnap.Frames, 1)
	require.Equal(t, m.Generation(), searcher.lastSnap.Generation)

	// Mutating the snapshot must not leak back into the handle.
	searcher.lastSnap.Frames[0].Meta.Title = "mutated"

	_, frame, err := m.Get(1)
	require.NoError(t, err)
	require.Empty(t, frame.Meta.Title)
}

func TestOversizedMetadataRejected(t *testing.T) {
	t.Parallel()

	m := createTestStore(t, testStorePath(t))
	defer func() { _ = m.Close() }()

	_, err := m.PutBytesWithOptions([]byte("x"), PutOptions{Kind: string(bytes.Repeat([]byte("k"), 300))})
	require.ErrorIs(t, err, ErrInvalid)

	labels := make([]string, 300)
	for i := range labels {
		labels[i] = "l"
	}

	_, err = m.PutBytesWithOptions([]byte("x"), PutOptions{Labels: labels})
	require.ErrorIs(t, err, ErrInvalid)
}

// TestVerifyAfterMutations ties the mutation surface to the verifier.
func TestVerifyAfterMutations(t *testing.T) {
	t.Parallel()

	path := testStorePath(t)

	m := createTestStore(t, path)

	for range 5 {
		_, err := m.PutBytes([]byte("verified payload"))
		require.NoError(t, err)
	}

	require.NoError(t, m.Commit())
	require.NoError(t, m.Close())

	report, err := Verify(path, true)
	require.NoError(t, err)
	require.Equal(t, VerifyOk, report.Status, "diagnostics: %v", report.Diagnostics)
}
