// Package mvcc implements the multi-version concurrency control engine:
// Source/Dataset/Sink, the sink lifecycle state machine, and isolation-level
// semantics layered over the Lock Manager and Snapshot Clock.
package mvcc

import (
	"github.com/graphkeep/triplestore/pkg/index"
	"github.com/graphkeep/triplestore/pkg/lock"
	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/graphkeep/triplestore/pkg/snapshot"
	"github.com/graphkeep/triplestore/pkg/term"
	"github.com/graphkeep/triplestore/pkg/tserr"
)

// ChangedFunc is notified after a sink flush installs a non-empty delta,
// carrying the added count, removed count, and the commit version it was
// installed at.
type ChangedFunc func(added, removed int, commitVersion uint64)

// Source is a handle for one partition (explicit or inferred), from which
// datasets and sinks are obtained. Explicit and inferred partitions share
// one term arena but keep distinct statement arenas.
type Source struct {
	Explicit bool

	terms *term.Store
	list  *index.List
	index *index.Index
	clock *snapshot.Clock
	locks *lock.Manager

	onChanged ChangedFunc
}

// NewSource creates a Source over a freshly built list/index pair, sharing
// the given term store, clock, and lock manager with its sibling
// partition.
func NewSource(explicit bool, terms *term.Store, clock *snapshot.Clock, locks *lock.Manager, onChanged ChangedFunc) *Source {
	list := index.NewList()
	return &Source{
		Explicit:  explicit,
		terms:     terms,
		list:      list,
		index:     index.NewIndex(list),
		clock:     clock,
		locks:     locks,
		onChanged: onChanged,
	}
}

// List exposes the underlying statement list, for compaction and
// persistence replay.
func (s *Source) List() *index.List { return s.list }

// Index exposes the underlying statement index, for persistence replay
// rebuilding in-memory links after a bulk load.
func (s *Source) Index() *index.Index { return s.index }

// Dataset opens a read-only view at the given isolation level.
// NONE and READ_COMMITTED pin the dataset to the current version at
// scan time rather than a fixed snapshot; SNAPSHOT_READ, SNAPSHOT, and
// SERIALIZABLE pin a snapshot for the dataset's lifetime.
func (s *Source) Dataset(level model.IsolationLevel) (*Dataset, error) {
	ds := &Dataset{source: s, level: level}
	switch level {
	case model.None:
		ds.v = s.clock.Current()
	case model.ReadCommitted:
		ds.guard = s.locks.AcquireRead()
		ds.v = s.clock.Current()
	case model.SnapshotRead, model.Snapshot:
		ds.guard = s.locks.AcquireRead()
		ds.v = s.clock.BeginRead()
		ds.pinned = true
	case model.Serializable:
		ds.guard = s.locks.AcquireRead()
		ds.v = s.clock.BeginRead()
		ds.pinned = true
	default:
		return nil, tserr.New(tserr.InvalidConfig, "unsupported isolation level %q", level)
	}
	return ds, nil
}

// Sink opens a write handle at the given isolation level. SERIALIZABLE
// sinks pin the opening snapshot for prepare-time conflict detection; all
// other levels serialise only at flush.
func (s *Source) Sink(level model.IsolationLevel) (*Sink, error) {
	switch level {
	case model.None, model.ReadCommitted, model.SnapshotRead, model.Snapshot, model.Serializable:
	default:
		return nil, tserr.New(tserr.InvalidConfig, "unsupported isolation level %q", level)
	}
	return &Sink{
		source:       s,
		level:        level,
		state:        StateOpen,
		baseSnapshot: s.clock.BeginRead(),
	}, nil
}

// Terms exposes the shared term store, for callers that need to intern
// terms before building statements/patterns.
func (s *Source) Terms() *term.Store { return s.terms }

// Locks exposes the store-wide lock manager, for a caller that drives
// more than one Sink over Sources sharing the same Manager (a Connection
// multiplexing one transaction across the explicit and inferred
// partitions) and needs to coordinate a single SERIALIZABLE write guard
// across them via Sink.UseWriteGuard rather than one per sink.
func (s *Source) Locks() *lock.Manager { return s.locks }

// Restore re-inserts a statement recovered from persistence, preserving
// its original added_at/removed_at rather than assigning a fresh commit
// version. Callers must finish every Restore call on a source before
// opening the first Sink or Dataset against it.
func (s *Source) Restore(stmt model.Statement) {
	idx := s.list.Append(stmt)
	s.index.Link(idx, stmt)
	if stmt.RemovedAt == 0 {
		s.index.SetLive(idx, stmt)
	}
}
