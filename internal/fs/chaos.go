package fs

import (
	iofs "io/fs"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
type ChaosConfig struct {
	ReadFailRate    float64 // ReadFile
	WriteFailRate   float64 // WriteFileAtomic; the target is left untouched
	ReadDirFailRate float64 // ReadDir
	StatFailRate    float64 // Exists
	RemoveFailRate  float64 // Remove
	LockFailRate    float64 // Lock
}

// DefaultChaosConfig returns a config with reasonable fault rates for testing.
func DefaultChaosConfig() ChaosConfig {
	return ChaosConfig{
		ReadFailRate:    0.02,
		WriteFailRate:   0.05,
		ReadDirFailRate: 0.02,
		StatFailRate:    0.01,
		RemoveFailRate:  0.02,
		LockFailRate:    0.02,
	}
}

// PathState tracks the fault state of a path for consistent error injection.
type PathState int

const (
	// PathNormal means no persistent fault - errors are transient.
	PathNormal PathState = iota
	// PathIOError is sticky - the path has a "bad sector" and always returns EIO.
	PathIOError
	// PathReadOnly is sticky for writes - the filesystem is read-only, EROFS.
	PathReadOnly
)

// ChaosMode controls how Chaos behaves.
type ChaosMode uint8

const (
	// ChaosModePassthrough behaves like the underlying FS. Rules set with
	// [Chaos.FailPath] still apply.
	ChaosModePassthrough ChaosMode = iota

	// ChaosModeInject enables fault-rate injection and sticky path state.
	ChaosModeInject
)

// Chaos wraps an [FS] and injects failures for testing.
//
// Injected errors are *fs.PathError values carrying a syscall.Errno, so
// errors.Is and os.IsNotExist behave as with real failures. [IsInjected]
// tells them apart from real OS errors. An injected write never touches the
// target, matching the all-or-nothing contract of [FS.WriteFileAtomic].
type Chaos struct {
	fs     FS
	rng    *rand.Rand
	config ChaosConfig
	mode   atomic.Uint32

	mu         sync.Mutex
	pathStates map[string]PathState
	rules      map[chaosRule]syscall.Errno

	readFails    atomic.Int64
	writeFails   atomic.Int64
	readDirFails atomic.Int64
	statFails    atomic.Int64
	removeFails  atomic.Int64
	lockFails    atomic.Int64
	mkdirFails   atomic.Int64
}

type chaosRule struct {
	op   string
	path string
}

// Operation names accepted by [Chaos.FailPath].
const (
	OpRead    = "read"
	OpWrite   = "write"
	OpReadDir = "readdir"
	OpStat    = "stat"
	OpRemove  = "remove"
	OpLock    = "lock"
	OpMkdir   = "mkdir"
)

// NewChaos creates a new Chaos filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
func NewChaos(fsys FS, seed int64, config ChaosConfig) *Chaos {
	return &Chaos{
		fs:         fsys,
		rng:        rand.New(rand.NewSource(seed)), //nolint:gosec // reproducible test faults
		config:     config,
		pathStates: make(map[string]PathState),
		rules:      make(map[chaosRule]syscall.Errno),
	}
}

// SetMode updates Chaos behavior. Safe to call concurrently with filesystem
// operations. The default for a new [Chaos] is [ChaosModePassthrough].
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// FailPath makes every op on path fail with errno, in any mode.
func (c *Chaos) FailPath(op, path string, errno syscall.Errno) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules[chaosRule{op: op, path: path}] = errno
}

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	ReadFails    int64
	WriteFails   int64
	ReadDirFails int64
	StatFails    int64
	RemoveFails  int64
	LockFails    int64
	MkdirFails   int64
}

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		ReadFails:    c.readFails.Load(),
		WriteFails:   c.writeFails.Load(),
		ReadDirFails: c.readDirFails.Load(),
		StatFails:    c.statFails.Load(),
		RemoveFails:  c.removeFails.Load(),
		LockFails:    c.lockFails.Load(),
		MkdirFails:   c.mkdirFails.Load(),
	}
}

// TotalFaults returns the total number of injected faults.
func (c *Chaos) TotalFaults() int64 {
	s := c.Stats()

	return s.ReadFails + s.WriteFails + s.ReadDirFails + s.StatFails + s.RemoveFails + s.LockFails + s.MkdirFails
}

// PathState returns the current fault state for a path.
func (c *Chaos) PathState(path string) PathState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pathStates[path]
}

// ReadFile implements [FS].
func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if err := c.fault(OpRead, path, c.config.ReadFailRate, &c.readFails, syscall.EIO, syscall.EACCES); err != nil {
		return nil, err
	}

	return c.fs.ReadFile(path)
}

// WriteFileAtomic implements [FS].
func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := c.fault(OpWrite, path, c.config.WriteFailRate, &c.writeFails, syscall.EIO, syscall.ENOSPC, syscall.EROFS); err != nil {
		return err
	}

	return c.fs.WriteFileAtomic(path, data, perm)
}

// ReadDir implements [FS].
func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	if err := c.fault(OpReadDir, path, c.config.ReadDirFailRate, &c.readDirFails, syscall.EIO, syscall.EACCES); err != nil {
		return nil, err
	}

	return c.fs.ReadDir(path)
}

// MkdirAll implements [FS]. It fails only through [Chaos.FailPath] rules.
func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	c.mu.Lock()
	errno, ok := c.rules[chaosRule{op: OpMkdir, path: path}]
	c.mu.Unlock()

	if ok {
		c.mkdirFails.Add(1)

		return pathError(OpMkdir, path, errno)
	}

	return c.fs.MkdirAll(path, perm)
}

// Exists implements [FS]. It uses the stat fault rate.
func (c *Chaos) Exists(path string) (bool, error) {
	if err := c.fault(OpStat, path, c.config.StatFailRate, &c.statFails, syscall.EIO, syscall.EACCES); err != nil {
		return false, err
	}

	return c.fs.Exists(path)
}

// Remove implements [FS].
func (c *Chaos) Remove(path string) error {
	if err := c.fault(OpRemove, path, c.config.RemoveFailRate, &c.removeFails, syscall.EIO, syscall.EACCES); err != nil {
		return err
	}

	return c.fs.Remove(path)
}

// Lock implements [FS].
func (c *Chaos) Lock(path string) (Locker, error) {
	if err := c.fault(OpLock, path, c.config.LockFailRate, &c.lockFails, syscall.EIO, syscall.EACCES); err != nil {
		return nil, err
	}

	return c.fs.Lock(path)
}

// fault returns an injected error for op on path, or nil. Rules win, then
// sticky state, then the random rate.
func (c *Chaos) fault(op, path string, rate float64, counter *atomic.Int64, errs ...syscall.Errno) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if errno, ok := c.rules[chaosRule{op: op, path: path}]; ok {
		counter.Add(1)

		return pathError(op, path, errno)
	}

	if ChaosMode(c.mode.Load()) != ChaosModeInject {
		return nil
	}

	switch c.pathStates[path] {
	case PathIOError:
		counter.Add(1)

		return pathError(op, path, syscall.EIO)
	case PathReadOnly:
		if op == OpWrite || op == OpRemove {
			counter.Add(1)

			return pathError(op, path, syscall.EROFS)
		}
	case PathNormal:
	}

	if c.rng.Float64() >= rate {
		return nil
	}

	errno := errs[c.rng.Intn(len(errs))]

	switch errno { //nolint:exhaustive // other errnos are transient
	case syscall.EIO:
		c.pathStates[path] = PathIOError
	case syscall.EROFS:
		c.pathStates[path] = PathReadOnly
	}

	counter.Add(1)

	return pathError(op, path, errno)
}

// pathError creates an *fs.PathError with the given operation, path, and errno.
// This matches what the real OS returns, so errors.Is() works correctly.
func pathError(op, path string, errno syscall.Errno) error {
	pe := &iofs.PathError{Op: op, Path: path, Err: errno}
	markInjectedPathError(pe)

	return pe
}

// Compile-time interface check.
var _ FS = (*Chaos)(nil)
