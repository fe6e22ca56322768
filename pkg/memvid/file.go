package memvid

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/maxgoff/memvid/pkg/vfs"
)

// storageFile owns the file descriptor of one .mv2 file and knows the
// byte layout: fixed header, WAL region, payload region, TOC footer.
//
// It provides the primitives the mutation protocol composes: payload
// appends, TOC rewrites with the in-place header patch, and WAL region
// access (wal.go).
type storageFile struct {
	fs   vfs.FS
	file vfs.File
	path string
	hdr  header

	// appendCursor is the offset of the next payload append. It starts
	// past the committed TOC so a crash before the header patch never
	// corrupts the TOC the header still points at.
	appendCursor uint64
}

const zeroChunkSize = 1 << 20

// createStorage writes a fresh .mv2 file: header, zeroed WAL region,
// empty TOC footer. Fails with ErrExists if the path already exists.
func createStorage(fsys vfs.FS, path string, tier Tier, walSize uint64) (*storageFile, *toc, error) {
	if walSize < walCtrlSize {
		return nil, nil, invalidf("wal_size", "smaller than control block")
	}

	file, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrExists, path)
		}

		return nil, nil, fmt.Errorf("creating %s: %w", path, err)
	}

	sf := &storageFile{fs: fsys, file: file, path: path}
	sf.hdr = header{
		Version:  mv2Version,
		Tier:     tier,
		WALSize:  walSize,
		MemoryID: uuid.New(),
	}

	if err := sf.zeroWAL(); err != nil {
		_ = file.Close()
		_ = fsys.Remove(path)

		return nil, nil, err
	}

	t := &toc{}
	sf.appendCursor = sf.hdr.payloadStart()

	if err := sf.writeTOC(t, 0); err != nil {
		_ = file.Close()
		_ = fsys.Remove(path)

		return nil, nil, err
	}

	return sf, t, nil
}

// openStorage reads and validates the header and TOC of an existing file.
func openStorage(fsys vfs.FS, path string, writable bool) (*storageFile, *toc, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}

	file, err := fsys.OpenFile(path, flag, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}

	sf := &storageFile{fs: fsys, file: file, path: path}

	hdrBuf := make([]byte, mv2HeaderSize)
	if _, err := io.ReadFull(io.NewSectionReader(file, 0, mv2HeaderSize), hdrBuf); err != nil {
		_ = file.Close()

		return nil, nil, fmt.Errorf("%w: reading header: %v", ErrCorruptHeader, err)
	}

	sf.hdr, err = decodeHeader(hdrBuf)
	if err != nil {
		_ = file.Close()

		return nil, nil, err
	}

	t, err := sf.loadTOC()
	if err != nil {
		_ = file.Close()

		return nil, nil, err
	}

	sf.appendCursor = appendCursorFor(&sf.hdr, t)

	return sf, t, nil
}

// loadTOC reads the serialized TOC at hdr.TOCOffset, verifies both the
// trailing CRC and the header's duplicate, and decodes it.
func (sf *storageFile) loadTOC() (*toc, error) {
	info, err := sf.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", sf.path, err)
	}

	end := sf.hdr.TOCOffset + sf.hdr.TOCLength + 4
	if end > uint64(info.Size()) {
		return nil, fmt.Errorf("%w: toc extends past EOF", ErrCorruptTOC)
	}

	buf := make([]byte, sf.hdr.TOCLength+4)
	if _, err := sf.file.ReadAt(buf, int64(sf.hdr.TOCOffset)); err != nil {
		return nil, fmt.Errorf("%w: reading toc: %v", ErrCorruptTOC, err)
	}

	serialized := buf[:sf.hdr.TOCLength]
	trailing := leUint32(buf[sf.hdr.TOCLength:])

	crc := checksum(serialized)
	if crc != trailing || crc != sf.hdr.TOCCRC {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptTOC)
	}

	return decodeTOC(serialized)
}

// appendCursorFor computes the next free payload offset: past the
// committed TOC and past every referenced byte range.
func appendCursorFor(h *header, t *toc) uint64 {
	cursor := h.TOCOffset + h.TOCLength + 4

	bump := func(off, length uint64) {
		if end := off + length; end > cursor {
			cursor = end
		}
	}

	for i := range t.Frames {
		bump(t.Frames[i].Offset, t.Frames[i].PayloadLength)
	}

	for _, d := range []*IndexDescriptor{t.Indexes.Lex, t.Indexes.Vec, t.Indexes.Clip, t.Indexes.Time} {
		if d != nil {
			bump(d.Offset, d.Length)
		}
	}

	for _, segs := range [][]IndexDescriptor{t.Segments.VecSegments, t.Segments.TimeSegments, t.Segments.LexSegments} {
		for i := range segs {
			bump(segs[i].Offset, segs[i].Length)
		}
	}

	return align8(cursor)
}

// appendPayload writes bytes at the current payload end and returns their
// offset and CRC-32C. The caller is responsible for durability ordering
// (the WAL record append syncs).
func (sf *storageFile) appendPayload(b []byte) (uint64, uint32, error) {
	off := sf.appendCursor

	if _, err := sf.file.WriteAt(b, int64(off)); err != nil {
		return 0, 0, fmt.Errorf("appending payload: %w", err)
	}

	sf.appendCursor = align8(off + uint64(len(b)))

	return off, checksum(b), nil
}

// writeTOC performs steps 1–4 of the commit protocol: serialize the TOC at
// a fresh offset past the payload end, fsync, patch the header in place,
// fsync. The WAL reset (step 5) is the caller's.
func (sf *storageFile) writeTOC(t *toc, generation uint64) error {
	serialized := encodeTOC(t)
	crc := checksum(serialized)

	tocOffset := align8(sf.appendCursor)

	buf := make([]byte, len(serialized)+4)
	copy(buf, serialized)
	putLeUint32(buf[len(serialized):], crc)

	if _, err := sf.file.WriteAt(buf, int64(tocOffset)); err != nil {
		return fmt.Errorf("writing toc: %w", err)
	}

	if err := sf.file.Sync(); err != nil {
		return fmt.Errorf("syncing toc: %w", err)
	}

	sf.hdr.TOCOffset = tocOffset
	sf.hdr.TOCLength = uint64(len(serialized))
	sf.hdr.TOCCRC = crc
	sf.hdr.Generation = generation

	if _, err := sf.file.WriteAt(encodeHeader(&sf.hdr), 0); err != nil {
		return fmt.Errorf("patching header: %w", err)
	}

	if err := sf.file.Sync(); err != nil {
		return fmt.Errorf("syncing header: %w", err)
	}

	// Drop any stale bytes past the new footer (an older TOC from a
	// replayed commit, for example). The header already points at the
	// new TOC.
	fileEnd := tocOffset + uint64(len(buf))
	if err := sf.file.Truncate(int64(fileEnd)); err != nil {
		return fmt.Errorf("truncating to %d: %w", fileEnd, err)
	}

	sf.appendCursor = fileEnd

	return nil
}

// size returns the current file size.
func (sf *storageFile) size() (uint64, error) {
	info, err := sf.file.Stat()
	if err != nil {
		return 0, err
	}

	return uint64(info.Size()), nil
}

// readRange reads length bytes at offset.
func (sf *storageFile) readRange(offset, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := sf.file.ReadAt(buf, int64(offset)); err != nil {
		return nil, err
	}

	return buf, nil
}

func (sf *storageFile) close() error {
	if sf.file == nil {
		return nil
	}

	err := sf.file.Close()
	sf.file = nil

	return err
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
