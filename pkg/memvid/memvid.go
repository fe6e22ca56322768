package memvid

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/maxgoff/memvid/pkg/vfs"
)

// Options configures store creation and opening. The zero value selects
// the defaults: the real filesystem, TierFree, and [DefaultWALSize].
type Options struct {
	// Tier records the capacity tier in the header (create only).
	Tier Tier

	// WALSize is the fixed write-ahead log region size (create only).
	// Zero selects DefaultWALSize.
	WALSize uint64

	// FS overrides the filesystem, for tests. Nil selects the real one.
	FS vfs.FS
}

func (o *Options) withDefaults() Options {
	out := *o

	if out.FS == nil {
		out.FS = vfs.NewReal()
	}

	if out.WALSize == 0 {
		out.WALSize = DefaultWALSize
	}

	return out
}

// Memvid is a handle over one .mv2 file. It buffers pending inserts in
// the embedded WAL, enforces ticket capacity, and publishes mutations
// atomically on [Memvid.Commit].
//
// A handle is single-threaded: operations are serialized in call order
// and the handle is not safe for concurrent use. Exactly one writer per
// file is enforced with an OS advisory lock; concurrent read-only
// handles are allowed and snapshot the committed TOC at open.
type Memvid struct {
	fs   vfs.FS
	sf   *storageFile
	toc  *toc
	lock *vfs.Lock

	walCtrl  walControl
	writable bool
	dirty    bool
	closed   bool

	searcher Searcher
}

// Create creates a new store at path with default options.
func Create(path string) (*Memvid, error) {
	return CreateWith(path, Options{})
}

// CreateWith creates a new store at path. Fails with ErrExists if the
// path already exists and ErrLocked if another process holds the lock.
func CreateWith(path string, opts Options) (*Memvid, error) {
	o := opts.withDefaults()

	lock, err := acquireLock(o.FS, path, true)
	if err != nil {
		return nil, err
	}

	sf, t, err := createStorage(o.FS, path, o.Tier, o.WALSize)
	if err != nil {
		_ = lock.Close()

		return nil, err
	}

	return &Memvid{
		fs:       o.FS,
		sf:       sf,
		toc:      t,
		lock:     lock,
		walCtrl:  walControl{head: walCtrlSize, tail: walCtrlSize},
		writable: true,
	}, nil
}

// Open opens an existing store for writing with default options.
func Open(path string) (*Memvid, error) {
	return OpenWith(path, Options{})
}

// OpenWith opens an existing store for writing. Pending WAL records are
// replayed and committed before the handle is returned, so the caller
// always observes a consistent committed state.
func OpenWith(path string, opts Options) (*Memvid, error) {
	o := opts.withDefaults()

	lock, err := acquireLock(o.FS, path, true)
	if err != nil {
		return nil, err
	}

	sf, t, err := openStorage(o.FS, path, true)
	if err != nil {
		_ = lock.Close()

		return nil, err
	}

	m := &Memvid{
		fs:       o.FS,
		sf:       sf,
		toc:      t,
		lock:     lock,
		writable: true,
	}

	if err := m.recover(); err != nil {
		_ = sf.close()
		_ = lock.Close()

		return nil, err
	}

	return m, nil
}

// OpenReadOnly opens a committed store for reading. The TOC is
// snapshotted at open; the file is treated as immutable thereafter.
// Mutations on the returned handle fail with ErrReadOnly.
func OpenReadOnly(path string) (*Memvid, error) {
	return OpenReadOnlyWith(path, Options{})
}

// OpenReadOnlyWith is [OpenReadOnly] with explicit options.
func OpenReadOnlyWith(path string, opts Options) (*Memvid, error) {
	o := opts.withDefaults()

	lock, err := acquireLock(o.FS, path, false)
	if err != nil {
		return nil, err
	}

	sf, t, err := openStorage(o.FS, path, false)
	if err != nil {
		_ = lock.Close()

		return nil, err
	}

	return &Memvid{
		fs:   o.FS,
		sf:   sf,
		toc:  t.clone(),
		lock: lock,
	}, nil
}

func acquireLock(fsys vfs.FS, path string, exclusive bool) (*vfs.Lock, error) {
	locker := vfs.NewLocker(fsys)
	lockPath := path + ".lock"

	var (
		lock *vfs.Lock
		err  error
	)

	if exclusive {
		lock, err = locker.TryLock(lockPath)
	} else {
		lock, err = locker.TryRLock(lockPath)
	}

	if err != nil {
		if errors.Is(err, vfs.ErrWouldBlock) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}

		return nil, err
	}

	return lock, nil
}

// recover replays pending WAL records into the in-memory TOC and, when
// any applied, commits immediately so the on-disk state converges.
//
// A record applies when its payload bytes still match the recorded
// checksum. New frame ids (above the committed maximum) are inserted;
// ids already present have their descriptor replaced, which makes replay
// idempotent — replaying twice produces the same TOC.
func (m *Memvid) recover() error {
	c, err := m.sf.readWALControl()
	if err != nil {
		return err
	}

	m.walCtrl = c

	frames, err := m.sf.scanWAL(c)
	if err != nil {
		return err
	}

	applied := false
	maxCommitted := m.toc.maxFrameID()

	for i := range frames {
		f := frames[i]

		payload, err := m.sf.readRange(f.Offset, f.PayloadLength)
		if err != nil || checksum(payload) != f.Checksum {
			// Payload never made it to disk; this and everything
			// after it are torn.
			break
		}

		if existing := m.toc.frameByID(f.ID); existing != nil {
			*existing = f
			applied = true

			continue
		}

		if f.ID <= maxCommitted {
			break
		}

		m.toc.Frames = append(m.toc.Frames, f)
		applied = true

		if end := align8(f.Offset + f.PayloadLength); end > m.sf.appendCursor {
			m.sf.appendCursor = end
		}
	}

	if !applied {
		if !c.empty() {
			// Nothing replayable; clear the torn region.
			return m.sf.resetWAL(&m.walCtrl, m.sf.hdr.Generation)
		}

		return nil
	}

	m.dirty = true

	return m.Commit()
}

func (m *Memvid) ensureOpen() error {
	if m.closed {
		return ErrClosed
	}

	return nil
}

func (m *Memvid) ensureWritable() error {
	if err := m.ensureOpen(); err != nil {
		return err
	}

	if !m.writable {
		return ErrReadOnly
	}

	return nil
}

// PutBytes stores a payload with no metadata and returns its frame id.
func (m *Memvid) PutBytes(b []byte) (uint64, error) {
	return m.PutBytesWithOptions(b, PutOptions{})
}

// PutBytesWithOptions stores a payload with metadata and returns its
// frame id (max existing + 1).
//
// The payload bytes are appended immediately and a WAL record is made
// durable before the call returns; the on-disk TOC is untouched until
// [Memvid.Commit]. If the projected committed size would exceed the
// ticket capacity, the call fails with a [CapacityError] and the file is
// bit-unchanged.
func (m *Memvid) PutBytesWithOptions(b []byte, opts PutOptions) (uint64, error) {
	if err := m.ensureWritable(); err != nil {
		return 0, err
	}

	if len(b) == 0 {
		return 0, invalidf("payload", "empty")
	}

	if err := validatePutOptions(&opts); err != nil {
		return 0, err
	}

	stored, flags, canonical := maybeCompress(b)

	frame := Frame{
		ID:              m.toc.maxFrameID() + 1,
		Status:          StatusActive,
		flags:           flags,
		PayloadLength:   uint64(len(stored)),
		canonicalLength: canonical,
		Meta: Metadata{
			Title:     opts.Title,
			URI:       opts.URI,
			Kind:      opts.Kind,
			Timestamp: opts.Timestamp,
			Labels:    opts.Labels,
			Tags:      opts.Tags,
		},
	}

	if err := m.checkCapacity(&frame, uint64(len(stored))); err != nil {
		return 0, err
	}

	rec := encodeWALFrame(&frame)
	if !m.sf.walFits(m.walCtrl, len(rec)) {
		// Flush pending mutations to make room. A single record larger
		// than the whole region still fails (ErrWALFull).
		if err := m.Commit(); err != nil {
			return 0, err
		}
	}

	offset, crc, err := m.sf.appendPayload(stored)
	if err != nil {
		return 0, err
	}

	frame.Offset = offset
	frame.Checksum = crc

	rec = encodeWALFrame(&frame)
	if err := m.sf.appendWALRecord(&m.walCtrl, rec); err != nil {
		return 0, err
	}

	m.toc.Frames = append(m.toc.Frames, frame)
	m.dirty = true

	return frame.ID, nil
}

// checkCapacity rejects a mutation whose projected committed file size
// exceeds the ticket capacity. Must run before any byte is written.
func (m *Memvid) checkCapacity(newFrame *Frame, payloadLen uint64) error {
	limit := m.toc.TicketRef.CapacityBytes
	if limit == 0 {
		return nil
	}

	projected := m.projectedSize(newFrame, payloadLen)
	if projected > limit {
		return &CapacityError{Limit: limit, Requested: projected}
	}

	return nil
}

// projectedSize estimates the file size after committing with newFrame
// appended: payload end, plus the serialized TOC and its trailing CRC.
// A nil newFrame sizes an index registration; its descriptor is covered
// by a fixed allowance.
func (m *Memvid) projectedSize(newFrame *Frame, payloadLen uint64) uint64 {
	const descriptorAllowance = 32

	end := align8(m.sf.appendCursor + payloadLen)

	probe := *m.toc
	extra := uint64(descriptorAllowance)

	if newFrame != nil {
		probe.Frames = append(append([]Frame(nil), m.toc.Frames...), *newFrame)
		extra = 0
	}

	return end + uint64(len(encodeTOC(&probe))) + 4 + extra
}

// Get returns the logical payload bytes and descriptor of an Active
// frame. Unknown or non-Active ids fail with a [FrameNotFoundError].
func (m *Memvid) Get(frameID uint64) ([]byte, *Frame, error) {
	if err := m.ensureOpen(); err != nil {
		return nil, nil, err
	}

	f := m.toc.frameByID(frameID)
	if f == nil || f.Status != StatusActive {
		return nil, nil, &FrameNotFoundError{ID: frameID}
	}

	stored, err := m.sf.readRange(f.Offset, f.PayloadLength)
	if err != nil {
		return nil, nil, fmt.Errorf("reading frame %d: %w", frameID, err)
	}

	if checksum(stored) != f.Checksum {
		return nil, nil, fmt.Errorf("%w: frame %d checksum mismatch", ErrCorruptFrame, frameID)
	}

	payload, err := decompressPayload(stored, f)
	if err != nil {
		return nil, nil, err
	}

	out := *f

	return payload, &out, nil
}

// Delete marks an Active frame Deleted. The payload bytes remain on disk
// until compaction; the frame stops counting toward stats and search.
func (m *Memvid) Delete(frameID uint64) error {
	if err := m.ensureWritable(); err != nil {
		return err
	}

	f := m.toc.frameByID(frameID)
	if f == nil || f.Status != StatusActive {
		return &FrameNotFoundError{ID: frameID}
	}

	updated := *f
	updated.Status = StatusDeleted

	rec := encodeWALFrame(&updated)
	if !m.sf.walFits(m.walCtrl, len(rec)) {
		if err := m.Commit(); err != nil {
			return err
		}
	}

	if err := m.sf.appendWALRecord(&m.walCtrl, rec); err != nil {
		return err
	}

	f.Status = StatusDeleted
	m.dirty = true

	return nil
}

// Commit publishes all pending mutations: the TOC footer is rewritten at
// a fresh offset, the header is patched to point at it, and the WAL is
// marked empty — each step fsynced in order. A crash anywhere in the
// sequence leaves the file recoverable to either the pre- or post-commit
// state, never a mix.
func (m *Memvid) Commit() error {
	if err := m.ensureWritable(); err != nil {
		return err
	}

	if !m.dirty {
		return nil
	}

	generation := m.sf.hdr.Generation + 1

	if err := m.sf.writeTOC(m.toc, generation); err != nil {
		return err
	}

	if err := m.sf.resetWAL(&m.walCtrl, generation); err != nil {
		return err
	}

	m.dirty = false

	return nil
}

// ApplyTicket installs a new control-plane ticket. Sequence numbers are
// strictly monotonic: a seq_no at or below the current one fails with a
// [TicketSequenceError] and leaves all state unchanged.
func (m *Memvid) ApplyTicket(t Ticket) error {
	if err := m.ensureWritable(); err != nil {
		return err
	}

	current := m.toc.TicketRef.SeqNo
	if t.SeqNo <= current {
		return &TicketSequenceError{Expected: current + 1, Actual: t.SeqNo}
	}

	m.toc.TicketRef.Issuer = t.Issuer
	m.toc.TicketRef.SeqNo = t.SeqNo
	m.toc.TicketRef.ExpiresInSecs = t.ExpiresInSecs

	if t.CapacityBytes != nil {
		m.toc.TicketRef.CapacityBytes = *t.CapacityBytes
	} else {
		m.toc.TicketRef.CapacityBytes = 0
	}

	m.dirty = true

	return m.Commit()
}

// CurrentTicket returns the persisted projection of the last applied
// ticket.
func (m *Memvid) CurrentTicket() TicketRef {
	return m.toc.TicketRef
}

// MemoryID returns the store's identity, assigned at creation.
func (m *Memvid) MemoryID() uuid.UUID {
	return m.sf.hdr.MemoryID
}

// Generation returns the committed generation counter.
func (m *Memvid) Generation() uint64 {
	return m.sf.hdr.Generation
}

// Tier returns the capacity tier recorded in the header.
func (m *Memvid) Tier() Tier {
	return m.sf.hdr.Tier
}

// Path returns the file path this handle owns.
func (m *Memvid) Path() string {
	return m.sf.path
}

// Close flushes pending mutations (committing if dirty), closes the file,
// and releases the advisory lock. Close is idempotent.
func (m *Memvid) Close() error {
	if m.closed {
		return nil
	}

	var commitErr error
	if m.writable && m.dirty {
		commitErr = m.Commit()
	}

	m.closed = true

	closeErr := m.sf.close()

	var lockErr error
	if m.lock != nil {
		lockErr = m.lock.Close()
		m.lock = nil
	}

	return errors.Join(commitErr, closeErr, lockErr)
}
