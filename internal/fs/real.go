package fs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// ErrLockTimeout is returned when a lock is still held by another process
// after the lock timeout.
var ErrLockTimeout = errors.New("lock timeout")

// Real implements [FS] using the real filesystem.
//
// All methods are passthroughs to the [os] package except [Real.Exists],
// [Real.WriteFileAtomic] which uses atomic file writes, and [Real.Lock] which
// provides flock(2) based locking.
type Real struct {
	// LockTimeout bounds how long [Real.Lock] waits. Zero means 2s.
	LockTimeout time.Duration
}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

// A passthrough wrapper for [os.ReadFile].
func (r *Real) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) //nolint:gosec // paths come from the user's config
}

// WriteFileAtomic replaces path with data via a temp file and rename, then
// applies perm.
func (r *Real) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}

	return os.Chmod(path, perm)
}

// A passthrough wrapper for [os.ReadDir].
func (r *Real) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

// A passthrough wrapper for [os.MkdirAll].
func (r *Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Exists checks if a file exists using [os.Stat].
func (r *Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return false, err
}

// A passthrough wrapper for [os.Remove].
func (r *Real) Remove(path string) error {
	return os.Remove(path)
}

const (
	defaultLockTimeout = 2 * time.Second
	lockPollInterval   = 10 * time.Millisecond
	lockPerms          = 0o644
	dirPerms           = 0o755
)

// realLock holds an exclusive file lock.
type realLock struct {
	path string
	file *os.File
}

func (l *realLock) Close() error {
	if l.file == nil {
		return nil
	}

	_ = os.Remove(l.path)
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil

	return err
}

// Lock takes an exclusive flock on path. The lock file is removed on release;
// acquisition re-checks the inode so a file removed by a previous holder is
// never mistaken for the current one.
func (r *Real) Lock(path string) (Locker, error) {
	timeout := r.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)

	for {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockPerms) //nolint:gosec // lock path is derived from config
		if err != nil {
			return nil, err
		}

		var openStat unix.Stat_t
		if err := unix.Fstat(int(file.Fd()), &openStat); err != nil {
			_ = file.Close()

			return nil, err
		}

		err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			var pathStat unix.Stat_t
			if statErr := unix.Stat(path, &pathStat); statErr != nil || pathStat.Ino != openStat.Ino {
				// Replaced while we waited, retry on the new file.
				_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
				_ = file.Close()

				continue
			}

			return &realLock{path: path, file: file}, nil
		}

		_ = file.Close()

		if !errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, path)
		}

		time.Sleep(lockPollInterval)
	}
}

// Compile-time interface check.
var _ FS = (*Real)(nil)
