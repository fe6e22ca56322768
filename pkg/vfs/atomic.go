package vfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	natomic "github.com/natefinch/atomic"
)

// ErrDirSync indicates the parent directory could not be synced after
// rename. When returned, the new file is in place but durability is not
// guaranteed.
var ErrDirSync = errors.New("dir sync")

// WriteFileAtomic writes data to path atomically using a temp file and
// rename. Use [AtomicWriter] when the content is produced as a stream.
func WriteFileAtomic(path string, data []byte) error {
	return natomic.WriteFile(path, bytes.NewReader(data))
}

// AtomicWriter writes files atomically and durably using rename.
//
// The writer streams content into a temp sibling, fsyncs it, renames it
// over the target, then fsyncs the parent directory. On any error the temp
// file is removed; no partial file is ever visible at the target path.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter that uses the given filesystem.
// Panics if fs is nil.
func NewAtomicWriter(fs FS) *AtomicWriter {
	if fs == nil {
		panic("fs is nil")
	}

	return &AtomicWriter{fs: fs}
}

// Write opens a temp sibling of path, passes it to fill, then syncs,
// renames, and syncs the parent directory.
//
// fill receives the open temp file and must write the full content; if it
// returns an error the temp file is removed and the error propagated.
// If the directory sync step fails, the returned error satisfies
// errors.Is(err, ErrDirSync).
func (w *AtomicWriter) Write(path string, fill func(File) error) error {
	if path == "" {
		return errors.New("path is empty")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." {
		return fmt.Errorf("path is invalid: %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	tmpFile, tmpPath, err := createTempSibling(w.fs, dir, base)
	if err != nil {
		return err
	}

	cleanup := func() {
		_ = tmpFile.Close()
		_ = w.fs.Remove(tmpPath)
	}

	if err := fill(tmpFile); err != nil {
		cleanup()

		return err
	}

	if err := tmpFile.Sync(); err != nil {
		cleanup()

		return fmt.Errorf("sync temp file %q: %w", tmpPath, err)
	}

	if err := tmpFile.Close(); err != nil {
		_ = w.fs.Remove(tmpPath)

		return fmt.Errorf("close temp file %q: %w", tmpPath, err)
	}

	if err := w.fs.Rename(tmpPath, path); err != nil {
		_ = w.fs.Remove(tmpPath)

		return fmt.Errorf("rename: %w", err)
	}

	return fsyncDir(w.fs, dir)
}

// WriteFrom streams r into path atomically.
func (w *AtomicWriter) WriteFrom(path string, r io.Reader) error {
	return w.Write(path, func(f File) error {
		_, err := io.Copy(f, r)

		return err
	})
}

const tempSiblingMaxAttempts = 10000

var tempSiblingCounter atomic.Uint64

func createTempSibling(fs FS, dir, base string) (File, string, error) {
	for range tempSiblingMaxAttempts {
		seq := tempSiblingCounter.Add(1)
		path := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", base, seq))

		file, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return file, path, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", fmt.Errorf("create temp file: %w", err)
	}

	return nil, "", fmt.Errorf("exhausted temp file attempts in %q", dir)
}

func fsyncDir(fs FS, dirPath string) error {
	dirFd, err := fs.Open(dirPath)
	if err != nil {
		return errors.Join(ErrDirSync, fmt.Errorf("open dir %q: %w", dirPath, err))
	}

	syncErr := dirFd.Sync()
	closeErr := dirFd.Close()

	if syncErr != nil {
		return errors.Join(ErrDirSync, fmt.Errorf("%q: %w", dirPath, syncErr), closeErr)
	}

	return closeErr
}
