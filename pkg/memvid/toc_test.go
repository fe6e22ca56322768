package memvid

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func sampleTOC() *toc {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	return &toc{
		Frames: []Frame{
			{
				ID:            1,
				Status:        StatusActive,
				Offset:        1 << 16,
				PayloadLength: 42,
				Checksum:      0xAB54D912,
				Meta: Metadata{
					Title:     "first note",
					URI:       "file:///notes/first.md",
					Kind:      "text",
					Timestamp: ts,
					Labels:    []string{"note", "inbox"},
					Tags:      map[string]string{"lang": "en", "source": "editor"},
				},
			},
			{
				ID:              2,
				Status:          StatusDeleted,
				flags:           frameFlagZstd,
				Offset:          (1 << 16) + 48,
				PayloadLength:   100,
				canonicalLength: 900,
				Checksum:        0x1234,
			},
		},
		Indexes: primaryIndexes{
			Lex: &IndexDescriptor{Offset: 70000, Length: 512},
			Vec: &IndexDescriptor{Offset: 71000, Length: 2048, Count: 16},
		},
		Segments: segmentCatalog{
			VecSegments:  []IndexDescriptor{{Offset: 74000, Length: 256, Count: 2}},
			TimeSegments: []IndexDescriptor{{Offset: 74300, Length: 128}},
		},
		TicketRef: TicketRef{
			Issuer:        "control-plane",
			SeqNo:         5,
			ExpiresInSecs: 3600,
			CapacityBytes: 1 << 30,
		},
		LogicMesh: []byte{0x01, 0x02, 0x03},
	}
}

func TestTOCRoundTrip(t *testing.T) {
	t.Parallel()

	original := sampleTOC()

	serialized := encodeTOC(original)

	decoded, err := decodeTOC(serialized)
	require.NoError(t, err)

	if diff := cmp.Diff(original, decoded, cmp.AllowUnexported(Frame{})); diff != "" {
		t.Fatalf("toc mismatch (-want +got):\n%s", diff)
	}
}

func TestTOCRoundTripEmpty(t *testing.T) {
	t.Parallel()

	decoded, err := decodeTOC(encodeTOC(&toc{}))
	require.NoError(t, err)
	require.Empty(t, decoded.Frames)
	require.Nil(t, decoded.Indexes.Lex)
	require.Nil(t, decoded.LogicMesh)
}

func TestTOCSerializationDeterministic(t *testing.T) {
	t.Parallel()

	// Tags are a map; the codec must still produce identical bytes on
	// every encode or the stored checksum would be unstable.
	original := sampleTOC()

	first := encodeTOC(original)
	for range 10 {
		require.Equal(t, first, encodeTOC(original))
	}
}

func TestDecodeTOCTruncated(t *testing.T) {
	t.Parallel()

	serialized := encodeTOC(sampleTOC())

	for _, cut := range []int{1, 5, len(serialized) / 2, len(serialized) - 1} {
		_, err := decodeTOC(serialized[:cut])
		require.ErrorIs(t, err, ErrCorruptTOC, "cut at %d", cut)
	}
}

func TestTOCCloneIsDeep(t *testing.T) {
	t.Parallel()

	original := sampleTOC()
	snap := original.clone()

	original.Frames[0].Meta.Tags["lang"] = "de"
	original.Frames[0].Meta.Labels[0] = "changed"
	original.Indexes.Lex.Length = 9999
	original.Segments.VecSegments[0].Count = 77

	require.Equal(t, "en", snap.Frames[0].Meta.Tags["lang"])
	require.Equal(t, "note", snap.Frames[0].Meta.Labels[0])
	require.Equal(t, uint64(512), snap.Indexes.Lex.Length)
	require.Equal(t, uint64(2), snap.Segments.VecSegments[0].Count)
}

func TestMaxFrameID(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint64(0), (&toc{}).maxFrameID())
	require.Equal(t, uint64(2), sampleTOC().maxFrameID())
}
