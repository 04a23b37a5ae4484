package mvcc

import (
	"sync"

	"github.com/graphkeep/triplestore/pkg/lock"
	"github.com/graphkeep/triplestore/pkg/metrics"
	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/graphkeep/triplestore/pkg/tserr"
)

// Dataset is a read-only view of a Source, pinned at a snapshot version
// (or tracking the live version, for NONE/READ_COMMITTED). Closing it
// releases the pinned snapshot and read lock, if any.
type Dataset struct {
	source *Source
	level  model.IsolationLevel
	v      uint64
	pinned bool
	guard  *lock.ReadGuard

	mu               sync.Mutex
	closed           bool
	guardTransferred bool
}

// Version returns the snapshot this dataset reads at. For NONE and
// READ_COMMITTED, which do not pin a snapshot, this is the version as of
// the most recent Scan/Cursor call (or open, if neither has been called
// yet).
func (d *Dataset) Version() uint64 { return d.v }

// currentVersion returns the version to scan at: the pinned snapshot for
// SNAPSHOT_READ/SNAPSHOT/SERIALIZABLE, or the live version for
// NONE/READ_COMMITTED, which observe newly committed writes on every call.
func (d *Dataset) currentVersion() uint64 {
	if d.pinned {
		return d.v
	}
	d.v = d.source.clock.Current()
	return d.v
}

// Scan calls fn for every statement in this partition matching pattern
// and visible at the dataset's snapshot, in index order, stopping early
// if fn returns false. Two calls to Scan on the same dataset with the
// same pattern return identical result sets (no phantom reads within a
// snapshot) because the snapshot is fixed for the dataset's lifetime once
// pinned.
func (d *Dataset) Scan(p model.Pattern, fn func(model.Statement) bool) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return tserr.New(tserr.InvalidState, "dataset is closed")
	}
	d.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ScanDuration, partitionLabel(d.source.Explicit))

	v := d.currentVersion()
	d.source.index.Scan(v, p, func(_ int, s model.Statement) bool {
		return fn(s)
	})
	return nil
}

// Cursor returns a lazy, lock-holding cursor over pattern matches. The
// returned cursor owns this dataset's read guard (if any) and releases it
// when drained or closed early — the cursor, not the Dataset, becomes
// responsible for the lock from this point on. Calling Close on the
// Dataset after taking a Cursor is safe and a no-op with respect to the
// lock.
func (d *Dataset) Cursor(p model.Pattern) (*lock.Cursor[model.Statement], error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, tserr.New(tserr.InvalidState, "dataset is closed")
	}
	d.guardTransferred = true
	guard := d.guard
	d.mu.Unlock()

	v := d.currentVersion()
	cur := lock.NewCursor[model.Statement](64, guard)
	go cur.Produce(func(put func(model.Statement) bool) {
		d.source.index.Scan(v, p, func(_ int, s model.Statement) bool {
			return put(s)
		})
	})
	return cur, nil
}

// Close releases the snapshot registration and read lock, unless a Cursor
// already took ownership of the lock. Idempotent.
func (d *Dataset) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.pinned {
		d.source.clock.EndRead(d.v)
	}
	if d.guard != nil && !d.guardTransferred {
		d.guard.Release()
	}
}
