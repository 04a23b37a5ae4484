// Package lock implements the store-wide lock manager: a single
// reader/writer lock guarding all mutable store state, a directory lock
// protecting a persistence directory from concurrent processes, and a
// bounded cursor queue for lazy scans that must outlive the call that
// acquired the read lock.
package lock

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/graphkeep/triplestore/pkg/tserr"
)

// Manager is the store-wide read/write lock. Go's sync.RWMutex already
// gives a blocked Lock call priority over new RLock calls, giving writers
// fairness against a stream of readers, so Manager is a thin named wrapper
// rather than a hand-rolled fairness queue.
type Manager struct {
	mu sync.RWMutex
}

// New creates an unlocked Manager.
func New() *Manager { return &Manager{} }

// ReadGuard is returned by AcquireRead; release is guaranteed exactly once
// no matter which exit path the caller takes.
type ReadGuard struct {
	mgr      *Manager
	released bool
	mu       sync.Mutex
}

// Release unlocks the read lock. Safe to call more than once.
func (g *ReadGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return
	}
	g.released = true
	g.mgr.mu.RUnlock()
}

// WriteGuard is returned by AcquireWrite.
type WriteGuard struct {
	mgr      *Manager
	released bool
	mu       sync.Mutex
}

// Release unlocks the write lock. Safe to call more than once.
func (g *WriteGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return
	}
	g.released = true
	g.mgr.mu.Unlock()
}

// AcquireRead blocks until the read lock is available and returns a guard
// that releases it. Multiple readers may hold it concurrently.
func (m *Manager) AcquireRead() *ReadGuard {
	m.mu.RLock()
	return &ReadGuard{mgr: m}
}

// AcquireWrite blocks until the write lock is available exclusively.
func (m *Manager) AcquireWrite() *WriteGuard {
	m.mu.Lock()
	return &WriteGuard{mgr: m}
}

// WithRead runs fn with the read lock held, releasing it on every exit
// path including panics.
func (m *Manager) WithRead(fn func()) {
	g := m.AcquireRead()
	defer g.Release()
	fn()
}

// WithWrite runs fn with the write lock held, releasing it on every exit
// path including panics.
func (m *Manager) WithWrite(fn func()) {
	g := m.AcquireWrite()
	defer g.Release()
	fn()
}

// DirLock is a file-system level advisory lock over a persistence
// directory, preventing two processes from sharing one data directory: a
// zero-byte marker file the owning process creates exclusively and
// removes on release.
type DirLock struct {
	path string
	file *os.File
}

// AcquireDir creates (or fails to create) the lock marker file in dir. It
// returns tserr.LockFailed if the marker already exists, since that
// indicates another process holds the directory.
func AcquireDir(dir string) (*DirLock, error) {
	path := filepath.Join(dir, "LOCK")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, tserr.Wrap(tserr.LockFailed, err, "data directory %s already locked", dir)
		}
		return nil, tserr.Wrap(tserr.LockFailed, err, "could not create lock file in %s", dir)
	}
	return &DirLock{path: path, file: f}, nil
}

// Release closes and removes the lock marker file. Safe to call more than
// once; calls after the first return nil.
func (d *DirLock) Release() error {
	if d.file == nil {
		return nil
	}
	_ = d.file.Close()
	d.file = nil
	return os.Remove(d.path)
}

// Cursor is a lazy, lock-holding iteration handle: it owns a ReadGuard
// (or nil, for NONE isolation) and a bounded channel of items, closing the
// guard exactly once whichever of "drained" or "closed early" happens
// first.
type Cursor[T any] struct {
	items  chan T
	done   chan struct{}
	guard  *ReadGuard
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// NewCursor creates a cursor with the given item buffer capacity, holding
// guard for its lifetime. guard may be nil for NONE-isolation scans that
// never took a read lock.
func NewCursor[T any](capacity int, guard *ReadGuard) *Cursor[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cursor[T]{
		items: make(chan T, capacity),
		done:  make(chan struct{}),
		guard: guard,
	}
}

// Put enqueues an item, blocking if the buffer is full. It returns false
// if the cursor was closed in the meantime (the put is abandoned rather
// than delivered).
func (c *Cursor[T]) Put(item T) bool {
	select {
	case c.items <- item:
		return true
	case <-c.done:
		return false
	}
}

// Take blocks for the next item. ok is false once the cursor is drained
// or closed early; the caller must stop iterating.
func (c *Cursor[T]) Take() (item T, ok bool) {
	select {
	case v, open := <-c.items:
		if !open {
			return item, false
		}
		return v, true
	case <-c.done:
		return item, false
	}
}

// finishProducing closes the item channel once the producer has no more
// values, letting Take drain any buffered items before returning ok=false.
func (c *Cursor[T]) finishProducing() {
	close(c.items)
}

// Close releases the cursor: it unblocks any in-flight Put/Take with the
// done signal and releases the held read guard, if any. Idempotent.
func (c *Cursor[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	if c.guard != nil {
		c.guard.Release()
	}
}

// Produce drives fn in the current goroutine, feeding items to Put, then
// marks the cursor's source exhausted and releases the held guard; items
// still buffered remain available to Take until drained. Callers
// typically run Produce in its own goroutine and consume via Take from
// another.
func (c *Cursor[T]) Produce(fn func(put func(T) bool)) {
	fn(c.Put)
	c.finishProducing()
	if c.guard != nil {
		c.guard.Release()
	}
}
