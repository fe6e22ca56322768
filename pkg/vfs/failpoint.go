package vfs

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
)

// ErrInjected marks an error as intentionally injected by [Failpoint].
//
// Use [errors.Is] with this sentinel to distinguish injected failures from
// real OS errors in tests.
var ErrInjected = errors.New("injected fault")

// FailpointOp identifies an operation class eligible for injection.
type FailpointOp string

// Valid FailpointOp values.
const (
	OpFileWrite   FailpointOp = "file.write"
	OpFileWriteAt FailpointOp = "file.writeat"
	OpFileSync    FailpointOp = "file.sync"
	OpRename      FailpointOp = "rename"
	OpCreate      FailpointOp = "create"
	OpRemove      FailpointOp = "remove"
)

// Failpoint wraps an [FS] and fails deterministically on the Nth eligible
// write-class operation, then keeps failing every write-class operation
// after that.
//
// This models a process that lost its disk mid-sequence: once the failpoint
// trips, nothing further reaches the file. Reads pass through untouched so
// tests can re-open the store through a fresh [Real] and assert the
// recovered state.
type Failpoint struct {
	fs FS

	mu sync.Mutex

	// after trips the failpoint on the Nth eligible operation
	// (1-indexed). Zero means disarmed.
	after uint64

	// ops restricts eligibility. Empty means all write-class ops count.
	ops map[FailpointOp]bool

	count   uint64
	tripped atomic.Bool
}

// NewFailpoint wraps fs with a disarmed failpoint. All operations pass
// through until [Failpoint.Arm] is called, so test setup does not have to
// account for its own writes.
func NewFailpoint(fs FS) *Failpoint {
	return &Failpoint{fs: fs}
}

// Arm trips the failpoint on the Nth eligible operation from now
// (1-indexed). ops restricts which operation classes are counted; empty
// counts all write-class operations.
func (fp *Failpoint) Arm(after uint64, ops ...FailpointOp) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	fp.after = after
	fp.count = 0
	fp.ops = nil

	if len(ops) > 0 {
		fp.ops = make(map[FailpointOp]bool, len(ops))
		for _, op := range ops {
			fp.ops[op] = true
		}
	}
}

// Tripped reports whether the failpoint has fired.
func (fp *Failpoint) Tripped() bool {
	return fp.tripped.Load()
}

// step records one eligible operation and reports whether it must fail.
func (fp *Failpoint) step(op FailpointOp) bool {
	if fp.tripped.Load() {
		return true
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.after == 0 {
		return false
	}

	if fp.ops != nil && !fp.ops[op] {
		return false
	}

	fp.count++
	if fp.count >= fp.after {
		fp.tripped.Store(true)

		return true
	}

	return false
}

func (fp *Failpoint) Open(path string) (File, error) {
	f, err := fp.fs.Open(path)
	if err != nil {
		return nil, err
	}

	return &failpointFile{File: f, fp: fp}, nil
}

func (fp *Failpoint) Create(path string) (File, error) {
	if fp.step(OpCreate) {
		return nil, ErrInjected
	}

	f, err := fp.fs.Create(path)
	if err != nil {
		return nil, err
	}

	return &failpointFile{File: f, fp: fp}, nil
}

func (fp *Failpoint) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 && fp.tripped.Load() {
		return nil, ErrInjected
	}

	f, err := fp.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &failpointFile{File: f, fp: fp}, nil
}

func (fp *Failpoint) ReadFile(path string) ([]byte, error) {
	return fp.fs.ReadFile(path)
}

func (fp *Failpoint) Stat(path string) (os.FileInfo, error) {
	return fp.fs.Stat(path)
}

func (fp *Failpoint) Exists(path string) (bool, error) {
	return fp.fs.Exists(path)
}

func (fp *Failpoint) Remove(path string) error {
	if fp.step(OpRemove) {
		return ErrInjected
	}

	return fp.fs.Remove(path)
}

func (fp *Failpoint) Rename(oldpath, newpath string) error {
	if fp.step(OpRename) {
		return ErrInjected
	}

	return fp.fs.Rename(oldpath, newpath)
}

// failpointFile intercepts write-class methods of an open file.
type failpointFile struct {
	File
	fp *Failpoint
}

func (f *failpointFile) Write(p []byte) (int, error) {
	if f.fp.step(OpFileWrite) {
		return 0, ErrInjected
	}

	return f.File.Write(p)
}

func (f *failpointFile) WriteAt(p []byte, off int64) (int, error) {
	if f.fp.step(OpFileWriteAt) {
		return 0, ErrInjected
	}

	return f.File.WriteAt(p, off)
}

func (f *failpointFile) Sync() error {
	if f.fp.step(OpFileSync) {
		return ErrInjected
	}

	return f.File.Sync()
}

func (f *failpointFile) Truncate(size int64) error {
	if f.fp.tripped.Load() {
		return ErrInjected
	}

	return f.File.Truncate(size)
}

// Compile-time interface checks.
var (
	_ FS   = (*Failpoint)(nil)
	_ File = (*failpointFile)(nil)
)
