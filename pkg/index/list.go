// Package index implements the statement list and the cross-indexes over
// it: per-term inverted lists by role, and a hash index for deduplication
// and removal lookup.
package index

import (
	"sync"

	"github.com/graphkeep/triplestore/pkg/model"
)

// List is an append-mostly, growable array of statement records. Indices
// returned by Append are stable for the list's lifetime except across a
// Compact call, which the caller must serialise against all other access
// (the engine takes the exclusive lock for the duration).
type List struct {
	mu      sync.RWMutex
	records []model.Statement
}

// NewList creates an empty statement list.
func NewList() *List {
	return &List{}
}

// Append adds record and returns its stable index.
func (l *List) Append(record model.Statement) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return len(l.records) - 1
}

// At returns a copy of the record at idx. ok is false if idx is out of
// range (e.g. it was reclaimed by a prior compaction).
func (l *List) At(idx int) (model.Statement, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if idx < 0 || idx >= len(l.records) {
		return model.Statement{}, false
	}
	return l.records[idx], true
}

// MutateAt applies fn to the record at idx while holding the write lock.
// ok is false if idx is out of range.
func (l *List) MutateAt(idx int, fn func(*model.Statement)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx < 0 || idx >= len(l.records) {
		return false
	}
	fn(&l.records[idx])
	return true
}

// MarkRemoved sets removed_at on the record at idx if it is currently 0.
// Idempotent: a re-mark is a silent no-op.
func (l *List) MarkRemoved(idx int, at uint64) bool {
	return l.MutateAt(idx, func(s *model.Statement) {
		if s.RemovedAt == 0 {
			s.RemovedAt = at
		}
	})
}

// IterateAt calls fn for every record visible at snapshot v, in storage
// order, stopping early if fn returns false.
func (l *List) IterateAt(v uint64, fn func(idx int, s model.Statement) bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, s := range l.records {
		if s.VisibleAt(v) {
			if !fn(i, s) {
				return
			}
		}
	}
}

// Len returns the number of records, including tombstoned ones not yet
// compacted.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Each calls fn for every record regardless of visibility, used by the
// persistence engine to serialise the full log and by the index to
// rebuild after a compaction remap.
func (l *List) Each(fn func(idx int, s model.Statement)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, s := range l.records {
		fn(i, s)
	}
}

// Stats reports the total record count and how many are still live
// (removed_at unset), for metrics reporting.
func (l *List) Stats() (total, live int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total = len(l.records)
	for _, s := range l.records {
		if s.RemovedAt == 0 {
			live++
		}
	}
	return total, live
}

// Compact physically drops records whose removed_at is nonzero and at
// most minLiveSnapshot, rewriting the array in place and preserving
// relative order. The caller must hold the store's exclusive write lock
// for the duration, since every index referencing old positions (the
// inverted lists, the hash index) must be rebuilt atomically with it;
// remap receives the old->new index mapping (old indices removed entirely
// are passed with ok=false) so the caller can do that rebuild.
func (l *List) Compact(minLiveSnapshot uint64, remap func(oldIdx int, newIdx int, ok bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.records[:0]
	for oldIdx, s := range l.records {
		if s.RemovedAt != 0 && s.RemovedAt <= minLiveSnapshot {
			if remap != nil {
				remap(oldIdx, 0, false)
			}
			continue
		}
		newIdx := len(kept)
		kept = append(kept, s)
		if remap != nil && newIdx != oldIdx {
			remap(oldIdx, newIdx, true)
		}
	}
	l.records = kept
}
