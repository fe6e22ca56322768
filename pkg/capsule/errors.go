package capsule

import "errors"

// Error classification codes. Callers classify with errors.Is.
var (
	// ErrNotMv2File indicates the lock input does not start with the MV2
	// magic.
	ErrNotMv2File = errors.New("capsule: not an mv2 file")

	// ErrNotCapsule indicates the unlock input does not start with the
	// MV2E magic.
	ErrNotCapsule = errors.New("capsule: not an mv2e capsule")

	// ErrCorruptHeader indicates the capsule header failed to parse.
	ErrCorruptHeader = errors.New("capsule: corrupt header")

	// ErrUnsupported indicates an unknown version, KDF, or cipher.
	ErrUnsupported = errors.New("capsule: unsupported algorithm")

	// ErrDecryption indicates an AEAD tag failure. In practice this is
	// the wrong-password signal: a wrong password derives a wrong key
	// and every chunk fails authentication.
	ErrDecryption = errors.New("capsule: decryption failed")

	// ErrTruncated indicates a short read within a chunk.
	ErrTruncated = errors.New("capsule: truncated chunk")
)
