// Package fs provides the filesystem abstraction used to read clinical
// sources and the BIDS tree and to write the emitted tables.
//
// The main types are:
//   - [FS]: interface for the filesystem operations the converter needs
//   - [Real]: production implementation using [os]
//
// Tables are always written with [FS.WriteFileAtomic] so a reader never sees a
// partially written TSV.
//
// Example usage:
//
//	fsys := fs.NewReal()
//	lock, err := fsys.Lock(filepath.Join(bidsDir, ".bidsmeta.lock"))
//	if err != nil {
//	    return err
//	}
//	defer lock.Close()
package fs

import (
	"io"
	"os"
)

// Locker represents a held file lock.
// Call [Locker.Close] to release the lock.
type Locker interface {
	io.Closer
}

// FS defines filesystem operations for reading, writing, and locking.
//
// All methods mirror their [os] package equivalents but can be replaced in
// tests.
type FS interface {
	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data to a file atomically.
	// Uses a temp file + rename to prevent partial writes on crash.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// ReadDir reads a directory and returns its entries sorted by name.
	// See [os.ReadDir].
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Lock acquires an exclusive lock on the file at path, creating it if
	// needed. It waits up to the implementation's timeout and fails with
	// [ErrLockTimeout] when another process keeps holding it.
	Lock(path string) (Locker, error)
}
