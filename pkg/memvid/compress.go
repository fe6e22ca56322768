package memvid

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Payloads below this size are never compressed; zstd framing overhead
// dominates.
const compressMinSize = 512

// Shared codec instances. EncodeAll/DecodeAll are safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// maybeCompress returns the bytes to store, the frame flags, and the
// canonical length (zero when stored uncompressed). Compression is only
// kept when it actually shrinks the payload.
func maybeCompress(b []byte) (stored []byte, flags uint8, canonical uint64) {
	if len(b) < compressMinSize {
		return b, 0, 0
	}

	compressed := zstdEncoder.EncodeAll(b, make([]byte, 0, len(b)))
	if len(compressed) >= len(b) {
		return b, 0, 0
	}

	return compressed, frameFlagZstd, uint64(len(b))
}

// decompressPayload restores the logical bytes of a stored payload.
func decompressPayload(stored []byte, f *Frame) ([]byte, error) {
	if !f.Compressed() {
		return stored, nil
	}

	out, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, f.CanonicalLength()))
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: decompress: %v", ErrCorruptFrame, f.ID, err)
	}

	return out, nil
}
