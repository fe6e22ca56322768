package memvid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
)

// MV2 file format constants.
const (
	// Magic bytes at the start of every .mv2 file.
	mv2Magic = "MV2\x00"

	// File format version.
	mv2Version = 2

	// Fixed header size in bytes. The header is the only region written
	// in place.
	mv2HeaderSize = 64

	// DefaultWALSize is the write-ahead log region size chosen at
	// creation when no override is given.
	DefaultWALSize = 64 << 20
)

// Tier is the store's capacity tier, recorded in the header.
type Tier uint8

// Tier values.
const (
	TierFree Tier = iota
	TierStandard
	TierPremium
)

func (t Tier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierStandard:
		return "standard"
	case TierPremium:
		return "premium"
	default:
		return "unknown"
	}
}

// Header field offsets (bytes from file start).
const (
	offMagic     = 0x00 // [4]byte
	offVersion   = 0x04 // uint16
	offTier      = 0x06 // uint8
	offReserved1 = 0x07 // uint8
	offWALSize   = 0x08 // uint64
	offTOCOffset = 0x10 // uint64
	offTOCLength = 0x18 // uint64
	offTOCCRC    = 0x20 // uint32
	offReserved2 = 0x24 // uint32
	offGen       = 0x28 // uint64
	offMemoryID  = 0x30 // [16]byte
)

// castagnoli is the CRC-32C polynomial table used for all checksums in the
// file format.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksum(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

// header is the fixed 64-byte prefix of a .mv2 file.
type header struct {
	Version    uint16
	Tier       Tier
	WALSize    uint64
	TOCOffset  uint64
	TOCLength  uint64
	TOCCRC     uint32
	Generation uint64
	MemoryID   uuid.UUID
}

// walOffset returns the fixed start of the WAL region.
func (h *header) walOffset() uint64 {
	return mv2HeaderSize
}

// payloadStart returns the first byte of the payload region, directly
// after the WAL region.
func (h *header) payloadStart() uint64 {
	return mv2HeaderSize + h.WALSize
}

// encodeHeader serializes the header to a 64-byte slice.
func encodeHeader(h *header) []byte {
	buf := make([]byte, mv2HeaderSize)

	copy(buf[offMagic:], mv2Magic)
	binary.LittleEndian.PutUint16(buf[offVersion:], h.Version)
	buf[offTier] = uint8(h.Tier)
	binary.LittleEndian.PutUint64(buf[offWALSize:], h.WALSize)
	binary.LittleEndian.PutUint64(buf[offTOCOffset:], h.TOCOffset)
	binary.LittleEndian.PutUint64(buf[offTOCLength:], h.TOCLength)
	binary.LittleEndian.PutUint32(buf[offTOCCRC:], h.TOCCRC)
	binary.LittleEndian.PutUint64(buf[offGen:], h.Generation)
	copy(buf[offMemoryID:], h.MemoryID[:])

	return buf
}

// decodeHeader parses and validates a 64-byte header buffer.
//
// Magic mismatch returns ErrNotMv2File; any other parse or sanity failure
// returns ErrCorruptHeader.
func decodeHeader(buf []byte) (header, error) {
	var h header

	if len(buf) < mv2HeaderSize {
		return h, fmt.Errorf("%w: short header: %d bytes", ErrCorruptHeader, len(buf))
	}

	if !bytes.Equal(buf[offMagic:offMagic+4], []byte(mv2Magic)) {
		return h, ErrNotMv2File
	}

	h.Version = binary.LittleEndian.Uint16(buf[offVersion:])
	if h.Version == 0 || h.Version > mv2Version {
		return h, fmt.Errorf("%w: unsupported version %d", ErrCorruptHeader, h.Version)
	}

	h.Tier = Tier(buf[offTier])
	if h.Tier > TierPremium {
		return h, fmt.Errorf("%w: unknown tier %d", ErrCorruptHeader, buf[offTier])
	}

	h.WALSize = binary.LittleEndian.Uint64(buf[offWALSize:])
	h.TOCOffset = binary.LittleEndian.Uint64(buf[offTOCOffset:])
	h.TOCLength = binary.LittleEndian.Uint64(buf[offTOCLength:])
	h.TOCCRC = binary.LittleEndian.Uint32(buf[offTOCCRC:])
	h.Generation = binary.LittleEndian.Uint64(buf[offGen:])
	copy(h.MemoryID[:], buf[offMemoryID:offMemoryID+16])

	if h.TOCOffset < h.payloadStart() {
		return h, fmt.Errorf("%w: toc offset %d inside fixed regions", ErrCorruptHeader, h.TOCOffset)
	}

	return h, nil
}

// align8 rounds x up to the next multiple of 8.
func align8(x uint64) uint64 {
	return (x + 7) &^ 7
}
