package memvid

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/maxgoff/memvid/pkg/vfs"
)

const testWALSize = 1 << 16

func newTestStorage(t *testing.T) *storageFile {
	t.Helper()

	path := filepath.Join(t.TempDir(), "wal.mv2")

	sf, _, err := createStorage(vfs.NewReal(), path, TierFree, testWALSize)
	require.NoError(t, err)

	t.Cleanup(func() { _ = sf.close() })

	return sf
}

func walTestFrame(id uint64) Frame {
	return Frame{
		ID:            id,
		Status:        StatusActive,
		Offset:        mv2HeaderSize + testWALSize + id*64,
		PayloadLength: 32,
		Checksum:      uint32(id) * 7,
		Meta:          Metadata{Title: "frame", Labels: []string{"wal"}},
	}
}

func TestWALAppendAndScan(t *testing.T) {
	t.Parallel()

	sf := newTestStorage(t)

	ctrl, err := sf.readWALControl()
	require.NoError(t, err)
	require.True(t, ctrl.empty())

	want := []Frame{walTestFrame(1), walTestFrame(2), walTestFrame(3)}
	for i := range want {
		require.NoError(t, sf.appendWALRecord(&ctrl, encodeWALFrame(&want[i])))
	}

	got, err := sf.scanWAL(ctrl)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, cmp.AllowUnexported(Frame{})); diff != "" {
		t.Fatalf("scan mismatch (-want +got):\n%s", diff)
	}
}

func TestWALScanIsIdempotent(t *testing.T) {
	t.Parallel()

	sf := newTestStorage(t)

	ctrl, err := sf.readWALControl()
	require.NoError(t, err)

	f := walTestFrame(1)
	require.NoError(t, sf.appendWALRecord(&ctrl, encodeWALFrame(&f)))

	first, err := sf.scanWAL(ctrl)
	require.NoError(t, err)

	second, err := sf.scanWAL(ctrl)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second, cmp.AllowUnexported(Frame{})); diff != "" {
		t.Fatalf("repeated scans differ (-first +second):\n%s", diff)
	}
}

func TestWALTornRecordTerminatesScan(t *testing.T) {
	t.Parallel()

	sf := newTestStorage(t)

	ctrl, err := sf.readWALControl()
	require.NoError(t, err)

	f1 := walTestFrame(1)
	f2 := walTestFrame(2)

	rec1 := encodeWALFrame(&f1)
	require.NoError(t, sf.appendWALRecord(&ctrl, rec1))
	require.NoError(t, sf.appendWALRecord(&ctrl, encodeWALFrame(&f2)))

	// Flip a byte inside the second record's body, simulating a torn
	// write.
	victim := sf.hdr.walOffset() + walCtrlSize + uint64(walRecHeaderSize+len(rec1)) + walRecHeaderSize + 3

	buf := make([]byte, 1)
	_, err = sf.file.ReadAt(buf, int64(victim))
	require.NoError(t, err)

	buf[0] ^= 0xFF
	_, err = sf.file.WriteAt(buf, int64(victim))
	require.NoError(t, err)

	got, err := sf.scanWAL(ctrl)
	require.NoError(t, err)
	require.Len(t, got, 1, "scan must stop at the torn record")
	require.Equal(t, uint64(1), got[0].ID)
}

func TestWALResetClearsPending(t *testing.T) {
	t.Parallel()

	sf := newTestStorage(t)

	ctrl, err := sf.readWALControl()
	require.NoError(t, err)

	f := walTestFrame(1)
	require.NoError(t, sf.appendWALRecord(&ctrl, encodeWALFrame(&f)))
	require.NoError(t, sf.resetWAL(&ctrl, 3))

	require.True(t, ctrl.empty())
	require.Equal(t, uint64(3), ctrl.generation)

	onDisk, err := sf.readWALControl()
	require.NoError(t, err)
	require.True(t, onDisk.empty())

	got, err := sf.scanWAL(onDisk)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestWALGarbageControlBlock(t *testing.T) {
	t.Parallel()

	sf := newTestStorage(t)

	// tail beyond the region and head past tail must both be treated as
	// torn, not panic or read out of bounds.
	for _, ctrl := range []walControl{
		{head: walCtrlSize, tail: ^uint32(0)},
		{head: 9999, tail: 20},
		{head: 3, tail: 40},
	} {
		got, err := sf.scanWAL(ctrl)
		require.NoError(t, err)
		require.Empty(t, got)
	}
}

func TestWALRecordTooLarge(t *testing.T) {
	t.Parallel()

	sf := newTestStorage(t)

	ctrl, err := sf.readWALControl()
	require.NoError(t, err)

	huge := make([]byte, testWALSize)
	require.ErrorIs(t, sf.appendWALRecord(&ctrl, huge), ErrWALFull)
}
