// Package materializer is the filesystem side of reconciliation: directory
// creation, pointer/metadata file writes and removals. Everything goes
// through afero so the engine can be exercised against an in-memory tree.
package materializer

import (
	"errors"
	"fmt"
	"io/fs"
	"sync/atomic"

	"github.com/spf13/afero"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Interface is what the reconciliation engine writes through.
type Interface interface {
	EnsureDir(path string) error
	WriteFile(path string, data []byte) error
	Remove(path string) error
	RemoveAll(path string) error
	RemoveDirIfEmpty(path string) error
	Exists(path string) (bool, error)
}

// Stats counts side effects since the Writer was created (or last Reset).
type Stats struct {
	Writes      int64
	Removals    int64
	DirsCreated int64
}

// Writer implements Interface over an afero.Fs.
type Writer struct {
	fs afero.Fs

	writes   atomic.Int64
	removals atomic.Int64
	dirs     atomic.Int64

	// OnWrite and OnRemove, when set, are called after each successful
	// file write / removal (metrics hooks).
	OnWrite  func()
	OnRemove func()
}

// New returns a Writer over fs.
func New(fs afero.Fs) *Writer {
	return &Writer{fs: fs}
}

// NewOS returns a Writer over the real filesystem.
func NewOS() *Writer {
	return New(afero.NewOsFs())
}

// Fs exposes the underlying filesystem (tests read back through it).
func (w *Writer) Fs() afero.Fs { return w.fs }

// EnsureDir creates path and its parents. Existing directories are fine.
func (w *Writer) EnsureDir(path string) error {
	if ok, _ := afero.DirExists(w.fs, path); ok {
		return nil
	}
	if err := w.fs.MkdirAll(path, dirPerm); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	w.dirs.Add(1)
	return nil
}

// WriteFile creates or truncates path with data. Parent directories must exist.
func (w *Writer) WriteFile(path string, data []byte) error {
	if err := afero.WriteFile(w.fs, path, data, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.writes.Add(1)
	if w.OnWrite != nil {
		w.OnWrite()
	}
	return nil
}

// Remove deletes a file. A missing file is not an error.
func (w *Writer) Remove(path string) error {
	err := w.fs.Remove(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove %s: %w", path, err)
	}
	w.removed()
	return nil
}

// RemoveAll deletes a directory tree. A missing tree is not an error.
func (w *Writer) RemoveAll(path string) error {
	ok, err := afero.Exists(w.fs, path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !ok {
		return nil
	}
	if err := w.fs.RemoveAll(path); err != nil {
		return fmt.Errorf("remove tree %s: %w", path, err)
	}
	w.removed()
	return nil
}

// RemoveDirIfEmpty removes path only when it has no entries. A non-empty or
// missing directory is the expected case and is not an error.
func (w *Writer) RemoveDirIfEmpty(path string) error {
	isDir, err := afero.DirExists(w.fs, path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !isDir {
		return nil
	}
	empty, err := afero.IsEmpty(w.fs, path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !empty {
		return nil
	}
	if err := w.fs.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("rmdir %s: %w", path, err)
	}
	w.removed()
	return nil
}

// Exists reports whether path exists.
func (w *Writer) Exists(path string) (bool, error) {
	return afero.Exists(w.fs, path)
}

func (w *Writer) removed() {
	w.removals.Add(1)
	if w.OnRemove != nil {
		w.OnRemove()
	}
}

// Stats returns the side-effect counters.
func (w *Writer) Stats() Stats {
	return Stats{Writes: w.writes.Load(), Removals: w.removals.Load(), DirsCreated: w.dirs.Load()}
}

// Reset zeroes the counters.
func (w *Writer) Reset() {
	w.writes.Store(0)
	w.removals.Store(0)
	w.dirs.Store(0)
}
