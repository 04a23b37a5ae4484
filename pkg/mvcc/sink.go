package mvcc

import (
	"sync"

	"github.com/graphkeep/triplestore/pkg/lock"
	"github.com/graphkeep/triplestore/pkg/metrics"
	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/graphkeep/triplestore/pkg/tserr"
)

func partitionLabel(explicit bool) string {
	if explicit {
		return "explicit"
	}
	return "inferred"
}

// State is a sink's position in the lifecycle state machine:
// open -> staged -> prepared -> flushed -> closed.
type State uint8

const (
	StateOpen State = iota
	StateStaged
	StatePrepared
	StateFlushed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateStaged:
		return "staged"
	case StatePrepared:
		return "prepared"
	case StateFlushed:
		return "flushed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type opKind uint8

const (
	opAdd opKind = iota
	opRemove
)

type pendingOp struct {
	kind opKind
	stmt model.Statement

	// resolved during prepare():
	skip     bool // collapsed to a no-op (duplicate add, or remove with no target)
	targetAt int  // statement-list index to mark removed, for opRemove
}

// opKey reduces a staged operation's statement to the identity tuple used
// to resolve same-key ops against each other: (subject, predicate,
// object, context, partition), ignoring MVCC bookkeeping fields.
func opKey(stmt model.Statement) model.Statement {
	return model.Statement{
		Subject: stmt.Subject, Predicate: stmt.Predicate, Object: stmt.Object, Context: stmt.Context,
		Explicit: stmt.Explicit,
	}
}

// resolveSelfConflicts marks every op superseded by a later op on the
// same key within the same sink as skip, before anything consults the
// shared index. Only the last op touching a given key has any effect:
// without this pass, an Add immediately followed by a Remove on the same
// key (neither ever flushed) would each check the shared index
// independently, find nothing live yet, and both proceed -- installing
// the add and dropping the remove as a no-op, instead of collapsing the
// pair away. Likewise two Adds of the same key in one sink would each
// see nothing live and both install, instead of producing one record.
func resolveSelfConflicts(ops []pendingOp) {
	last := make(map[model.Statement]int, len(ops))
	for i, op := range ops {
		last[opKey(op.stmt)] = i
	}
	for i := range ops {
		if last[opKey(ops[i].stmt)] != i {
			ops[i].skip = true
		}
	}
}

// Sink is a single-threaded write handle over one partition of a Source.
// Mutations are journalled against a private buffer until flush() installs
// them atomically; Sinks are not safe for concurrent use by design.
type Sink struct {
	source *Source
	level  model.IsolationLevel

	mu    sync.Mutex
	state State

	baseSnapshot uint64
	ops          []pendingOp

	// writeGuard, once attached via UseWriteGuard, is held for the rest of
	// the sink's lifetime in place of Prepare/Flush each taking their own
	// lock, and is released exactly once by Close.
	writeGuard *lock.WriteGuard

	addedCount   int
	removedCount int
}

// State returns the sink's current lifecycle state.
func (s *Sink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sink) requireState(allowed ...State) error {
	for _, a := range allowed {
		if s.state == a {
			return nil
		}
	}
	return tserr.New(tserr.InvalidState, "sink operation invalid in state %s", s.state)
}

// UseWriteGuard attaches an already-held store-wide write guard to the
// sink, for SERIALIZABLE transactions that span more than one Sink over
// the same lock.Manager (a Connection's explicit and inferred sinks share
// one Manager instance). Acquiring the write lock separately in each
// sink's Sink() call would deadlock the pair against itself, since
// sync.RWMutex is not reentrant; acquiring it once and attaching it to
// every sink in the group instead lets the whole multi-partition
// transaction hold the lock as a single unit, from the point it is
// attached until Close. Prepare and Flush skip taking their own lock
// when one is already attached, and Close releases it -- safe to do from
// more than one sink sharing the same guard, since release is idempotent.
func (s *Sink) UseWriteGuard(g *lock.WriteGuard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeGuard = g
}

func (s *Sink) stage() {
	if s.state == StateOpen {
		s.state = StateStaged
	}
}

// Add stages the addition of (subject, predicate, object, context) as an
// explicit or inferred statement (per the owning Source's partition).
// Adding the same tuple twice in one sink, or across sinks, collapses to
// one live record.
func (s *Sink) Add(subject, predicate, object, context model.TermID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState(StateOpen, StateStaged); err != nil {
		return err
	}
	s.stage()
	s.ops = append(s.ops, pendingOp{kind: opAdd, stmt: model.Statement{
		Subject: subject, Predicate: predicate, Object: object, Context: context,
		Explicit: s.source.Explicit, TxState: model.PendingAdd,
	}})
	return nil
}

// Remove stages the removal of the live statement matching
// (subject, predicate, object, context) in this partition. Removing a
// statement added earlier in the same sink, before flush, collapses the
// pair to a no-op.
func (s *Sink) Remove(subject, predicate, object, context model.TermID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState(StateOpen, StateStaged); err != nil {
		return err
	}
	s.stage()
	s.ops = append(s.ops, pendingOp{kind: opRemove, stmt: model.Statement{
		Subject: subject, Predicate: predicate, Object: object, Context: context,
		Explicit: s.source.Explicit,
	}})
	return nil
}

// DeprecateByPattern stages removal of every currently-live statement in
// this partition matching pattern, evaluated against the sink's base
// snapshot.
func (s *Sink) DeprecateByPattern(p model.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState(StateOpen, StateStaged); err != nil {
		return err
	}
	s.stage()
	s.source.index.Scan(s.baseSnapshot, p, func(_ int, stmt model.Statement) bool {
		s.ops = append(s.ops, pendingOp{kind: opRemove, stmt: model.Statement{
			Subject: stmt.Subject, Predicate: stmt.Predicate, Object: stmt.Object, Context: stmt.Context,
			Explicit: s.source.Explicit,
		}})
		return true
	})
	return nil
}

// Clear stages removal of every live statement in the given contexts (or
// every context, if none are given).
func (s *Sink) Clear(contexts ...model.TermID) error {
	if len(contexts) == 0 {
		return s.DeprecateByPattern(model.Pattern{})
	}
	for _, c := range contexts {
		cc := c
		if err := s.DeprecateByPattern(model.Pattern{Context: &cc}); err != nil {
			return err
		}
	}
	return nil
}

// Scan reads this sink's own view: the committed statements visible at its
// base snapshot, overlaid with its own not-yet-flushed adds and removes.
// This is what gives a writer monotonicity over its own uncommitted
// changes: a writer's own uncommitted changes are visible to its own
// subsequent reads on the same sink.
func (s *Sink) Scan(p model.Pattern, fn func(model.Statement) bool) error {
	s.mu.Lock()
	if err := s.requireState(StateOpen, StateStaged, StatePrepared); err != nil {
		s.mu.Unlock()
		return err
	}
	base := s.baseSnapshot
	ops := make([]pendingOp, len(s.ops))
	copy(ops, s.ops)
	s.mu.Unlock()

	// Fold same-key ops down to their last effect first, the same way
	// Prepare does, so a key that was added and then removed in this sink
	// (or vice versa) doesn't surface under both the committed-index scan
	// and the pending-add loop below.
	resolveSelfConflicts(ops)

	touched := make(map[model.Statement]bool)
	var added []model.Statement
	for _, op := range ops {
		if op.skip {
			continue
		}
		key := opKey(op.stmt)
		touched[key] = true
		if op.kind == opAdd {
			added = append(added, key)
		}
	}

	keep := true
	s.source.index.Scan(base, p, func(_ int, stmt model.Statement) bool {
		if touched[opKey(stmt)] {
			return true
		}
		keep = fn(stmt)
		return keep
	})
	if !keep {
		return nil
	}
	for _, stmt := range added {
		if !p.Matches(&stmt) {
			continue
		}
		pending := stmt
		pending.TxState = model.PendingAdd
		if !fn(pending) {
			return nil
		}
	}
	return nil
}

// Prepare validates staged operations against the current store state:
// duplicate adds collapse to no-ops, removals locate their live target, and
// under SERIALIZABLE a write-write conflict with any transaction committed
// after the sink's snapshot fails with ConcurrentModification.
func (s *Sink) Prepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState(StateOpen, StateStaged); err != nil {
		return err
	}

	resolveSelfConflicts(s.ops)

	// A SERIALIZABLE sink sharing an externally-attached write guard (see
	// UseWriteGuard) already holds the store-wide write lock from the point
	// the guard was attached; taking a read lock here too would be redundant and, for a
	// sink sharing that guard with a sibling sink on the same Manager,
	// would deadlock against itself.
	if s.writeGuard == nil {
		guard := s.source.locks.AcquireRead()
		defer guard.Release()
	}

	for i := range s.ops {
		op := &s.ops[i]
		if op.skip {
			// Already collapsed against a later op on the same key by
			// resolveSelfConflicts above; only the last op on a key ever
			// reaches the index below.
			continue
		}
		switch op.kind {
		case opAdd:
			if live, found := s.source.index.FindLive(op.stmt); found {
				existing, ok := s.source.List().At(live)
				if ok && existing.AddedAt > s.baseSnapshot && s.level == model.Serializable {
					metrics.ConflictsTotal.WithLabelValues(partitionLabel(s.source.Explicit)).Inc()
					return tserr.New(tserr.ConcurrentModification,
						"statement committed at version %d after this sink's snapshot %d", existing.AddedAt, s.baseSnapshot)
				}
				op.skip = true // AlreadyPending: merge into a no-op
			}
		case opRemove:
			if live, found := s.source.index.FindLive(op.stmt); found {
				existing, ok := s.source.List().At(live)
				if !ok {
					op.skip = true
					continue
				}
				if existing.AddedAt > s.baseSnapshot && s.level == model.Serializable {
					metrics.ConflictsTotal.WithLabelValues(partitionLabel(s.source.Explicit)).Inc()
					return tserr.New(tserr.ConcurrentModification,
						"statement committed at version %d after this sink's snapshot %d", existing.AddedAt, s.baseSnapshot)
				}
				op.targetAt = live
			} else {
				op.skip = true
			}
		}
	}

	s.state = StatePrepared
	return nil
}

// Flush atomically installs every prepared change: it advances the clock,
// sets added_at on new records and removed_at on deprecated ones, links
// new records into the inverted lists, and updates the hash index. After
// flush, the source's ChangedFunc is notified if the delta is non-empty.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState(StatePrepared); err != nil {
		return err
	}

	if s.writeGuard == nil {
		guard := s.source.locks.AcquireWrite()
		defer guard.Release()
	}

	v := s.source.clock.Advance()

	for i := range s.ops {
		op := &s.ops[i]
		if op.skip {
			continue
		}
		switch op.kind {
		case opAdd:
			stmt := op.stmt
			stmt.AddedAt = v
			stmt.TxState = model.Committed
			idx := s.source.list.Append(stmt)
			s.source.index.Link(idx, stmt)
			s.source.index.SetLive(idx, stmt)
			s.addedCount++
		case opRemove:
			s.source.list.MarkRemoved(op.targetAt, v)
			s.source.index.ClearLive(op.stmt)
			s.removedCount++
		}
	}

	partition := partitionLabel(s.source.Explicit)
	metrics.CommitsTotal.WithLabelValues(partition, string(s.level)).Inc()
	if s.addedCount > 0 {
		metrics.StatementsAddedTotal.WithLabelValues(partition).Add(float64(s.addedCount))
	}
	if s.removedCount > 0 {
		metrics.StatementsRemovedTotal.WithLabelValues(partition).Add(float64(s.removedCount))
	}

	if s.addedCount > 0 || s.removedCount > 0 {
		if s.source.onChanged != nil {
			s.source.onChanged(s.addedCount, s.removedCount, v)
		}
	}

	s.state = StateFlushed
	return nil
}

// Close releases resources held by the sink. If called before Flush, the
// staged buffer is discarded (rollback); nothing was ever installed into
// shared state, so there is nothing further to revert. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.source.clock.EndRead(s.baseSnapshot)
	if s.writeGuard != nil {
		s.writeGuard.Release()
		s.writeGuard = nil
	}
	s.ops = nil
	s.state = StateClosed
	return nil
}

// AddedCount and RemovedCount report the size of the delta installed by
// the most recent Flush; both are 0 before flush.
func (s *Sink) AddedCount() int   { return s.addedCount }
func (s *Sink) RemovedCount() int { return s.removedCount }
