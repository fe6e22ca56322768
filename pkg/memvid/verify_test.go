package memvid

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgoff/memvid/pkg/vfs"
)

// buildVerifiableStore commits a few frames and returns the path plus the
// first frame's payload offset for targeted corruption.
func buildVerifiableStore(t *testing.T) (string, uint64) {
	t.Helper()

	path := testStorePath(t)

	m := createTestStore(t, path)

	for range 3 {
		_, err := m.PutBytes([]byte("payload under verification"))
		require.NoError(t, err)
	}

	require.NoError(t, m.Commit())
	require.NoError(t, m.Close())

	sf, tc, err := openStorage(vfs.NewReal(), path, false)
	require.NoError(t, err)

	offset := tc.Frames[0].Offset
	require.NoError(t, sf.close())

	return path, offset
}

func flipByteAt(t *testing.T, path string, offset uint64) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)

	defer func() { _ = f.Close() }()

	buf := make([]byte, 1)
	_, err = f.ReadAt(buf, int64(offset))
	require.NoError(t, err)

	buf[0] ^= 0xFF
	_, err = f.WriteAt(buf, int64(offset))
	require.NoError(t, err)
}

func TestVerifyCleanFile(t *testing.T) {
	t.Parallel()

	path, _ := buildVerifiableStore(t)

	for _, deep := range []bool{false, true} {
		report, err := Verify(path, deep)
		require.NoError(t, err)
		require.Equal(t, VerifyOk, report.Status, "deep=%v diagnostics: %v", deep, report.Diagnostics)
		require.Empty(t, report.Diagnostics)
	}
}

func TestVerifyDetectsPayloadCorruption(t *testing.T) {
	t.Parallel()

	path, payloadOffset := buildVerifiableStore(t)

	flipByteAt(t, path, payloadOffset)

	// Shallow verification doesn't read payloads, so the structure
	// still checks out.
	report, err := Verify(path, false)
	require.NoError(t, err)
	require.Equal(t, VerifyOk, report.Status)

	report, err = Verify(path, true)
	require.NoError(t, err)
	require.Equal(t, VerifyDegraded, report.Status)
	require.NotEmpty(t, report.Diagnostics)
	require.Equal(t, "frame-checksum", report.Diagnostics[0].Check)
}

func TestVerifyDetectsTOCCorruption(t *testing.T) {
	t.Parallel()

	path, _ := buildVerifiableStore(t)

	sf, _, err := openStorage(vfs.NewReal(), path, false)
	require.NoError(t, err)

	tocOffset := sf.hdr.TOCOffset
	require.NoError(t, sf.close())

	flipByteAt(t, path, tocOffset+2)

	report, err := Verify(path, false)
	require.NoError(t, err)
	require.Equal(t, VerifyCorrupt, report.Status)
}

func TestVerifyDetectsHeaderCorruption(t *testing.T) {
	t.Parallel()

	path, _ := buildVerifiableStore(t)

	flipByteAt(t, path, 0)

	report, err := Verify(path, false)
	require.NoError(t, err)
	require.Equal(t, VerifyCorrupt, report.Status)
}

func TestVerifyDetectsTruncatedFile(t *testing.T) {
	t.Parallel()

	path, _ := buildVerifiableStore(t)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	report, err := Verify(path, false)
	require.NoError(t, err)
	require.Equal(t, VerifyCorrupt, report.Status)
}

func TestOpenRejectsCorruptTOC(t *testing.T) {
	t.Parallel()

	path, _ := buildVerifiableStore(t)

	sf, _, err := openStorage(vfs.NewReal(), path, false)
	require.NoError(t, err)

	tocOffset := sf.hdr.TOCOffset
	require.NoError(t, sf.close())

	flipByteAt(t, path, tocOffset)

	_, err = Open(path)
	require.ErrorIs(t, err, ErrCorruptTOC)
}
