// Package conn implements the per-connection lifecycle state machine:
// closed -> idle -> active -> preparing -> committed/rolled-back -> idle.
// A connection multiplexes a single logical transaction across the
// explicit and inferred partitions, opening and closing their sinks
// together.
package conn

import (
	"sync"

	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/graphkeep/triplestore/pkg/mvcc"
	"github.com/graphkeep/triplestore/pkg/tserr"
)

// State is a connection's position in the lifecycle state machine.
type State uint8

const (
	StateClosed State = iota
	StateIdle
	StateActive
	StatePreparing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StatePreparing:
		return "preparing"
	default:
		return "unknown"
	}
}

// Connection is a per-caller handle onto a store's two partitions. It is
// not safe for concurrent use by multiple goroutines, matching the sinks
// and datasets it wraps, which are not thread-safe internally either.
type Connection struct {
	explicit *mvcc.Source
	inferred *mvcc.Source

	supported map[model.IsolationLevel]bool
	defaultLv model.IsolationLevel

	mu    sync.Mutex
	state State

	level        model.IsolationLevel
	explicitSink *mvcc.Sink
	inferredSink *mvcc.Sink
}

// New creates an idle connection over the given partitions.
func New(explicit, inferred *mvcc.Source, supported []model.IsolationLevel, defaultLevel model.IsolationLevel) (*Connection, error) {
	set := make(map[model.IsolationLevel]bool, len(supported))
	for _, l := range supported {
		set[l] = true
	}
	if !set[defaultLevel] {
		return nil, tserr.New(tserr.InvalidConfig, "default isolation level %q is not in the supported set", defaultLevel)
	}
	return &Connection{
		explicit:  explicit,
		inferred:  inferred,
		supported: set,
		defaultLv: defaultLevel,
		state:     StateIdle,
	}, nil
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin starts a transaction at the given isolation level, or the
// connection's default if level is empty. It fails with InvalidConfig if
// level is not in the store's supported set, and InvalidState if a
// transaction is already active.
func (c *Connection) Begin(level model.IsolationLevel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return tserr.New(tserr.InvalidState, "connection is closed")
	}
	if c.state != StateIdle {
		return tserr.New(tserr.InvalidState, "connection already has an active transaction")
	}
	if level == "" {
		level = c.defaultLv
	}
	if !c.supported[level] {
		return tserr.New(tserr.InvalidConfig, "isolation level %q is not supported by this store", level)
	}

	explicitSink, err := c.explicit.Sink(level)
	if err != nil {
		return err
	}
	inferredSink, err := c.inferred.Sink(level)
	if err != nil {
		_ = explicitSink.Close()
		return err
	}

	c.level = level
	c.explicitSink = explicitSink
	c.inferredSink = inferredSink
	c.state = StateActive
	return nil
}

func (c *Connection) sinkFor(explicit bool) *mvcc.Sink {
	if explicit {
		return c.explicitSink
	}
	return c.inferredSink
}

// Add stages an addition against the active transaction.
func (c *Connection) Add(explicit bool, s, p, o, ctx model.TermID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return tserr.New(tserr.InvalidState, "no active transaction")
	}
	return c.sinkFor(explicit).Add(s, p, o, ctx)
}

// Remove stages a removal against the active transaction.
func (c *Connection) Remove(explicit bool, s, p, o, ctx model.TermID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return tserr.New(tserr.InvalidState, "no active transaction")
	}
	return c.sinkFor(explicit).Remove(s, p, o, ctx)
}

// Read scans pattern matches. Outside an active transaction this opens an
// implicit auto-commit dataset at the connection's default isolation
// level and closes it before returning. Inside an active transaction it
// reads the transaction's own sink view, which includes its own staged,
// not-yet-committed changes.
func (c *Connection) Read(explicit bool, p model.Pattern, fn func(model.Statement) bool) error {
	c.mu.Lock()
	active := c.state == StateActive
	var sink *mvcc.Sink
	if active {
		sink = c.sinkFor(explicit)
	}
	source := c.explicit
	if !explicit {
		source = c.inferred
	}
	c.mu.Unlock()

	if active {
		return sink.Scan(p, fn)
	}

	ds, err := source.Dataset(c.defaultLv)
	if err != nil {
		return err
	}
	defer ds.Close()
	return ds.Scan(p, fn)
}

// ReadAll scans matches across both partitions, explicit before inferred,
// for callers that want "all statements" rather than one partition.
func (c *Connection) ReadAll(p model.Pattern, fn func(model.Statement) bool) error {
	keep := true
	err := c.Read(true, p, func(s model.Statement) bool {
		keep = fn(s)
		return keep
	})
	if err != nil || !keep {
		return err
	}
	return c.Read(false, p, func(s model.Statement) bool {
		keep = fn(s)
		return keep
	})
}

// Prepare validates the active transaction's staged changes. On failure
// the transaction is rolled back (its sinks are closed) and the
// connection returns to idle: an error during prepare aborts the sink and
// requires the caller to close it rather than retry in place.
func (c *Connection) Prepare() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return tserr.New(tserr.InvalidState, "no active transaction")
	}
	c.state = StatePreparing

	if c.level == model.Serializable {
		// The explicit and inferred sinks share one lock.Manager; taking
		// the write lock once here and attaching it to both, rather than
		// each sink acquiring its own, is what lets SERIALIZABLE hold it
		// across prepare-through-flush as a single unit without the pair
		// deadlocking against each other (see Sink.UseWriteGuard). Two
		// concurrent SERIALIZABLE transactions now serialise here: only
		// one proceeds through Prepare and Flush at a time, so the second
		// sees the first's commit reflected against its own (necessarily
		// older) base snapshot instead of racing it.
		guard := c.explicit.Locks().AcquireWrite()
		c.explicitSink.UseWriteGuard(guard)
		c.inferredSink.UseWriteGuard(guard)
	}

	if err := c.explicitSink.Prepare(); err != nil {
		c.rollbackLocked()
		return err
	}
	if err := c.inferredSink.Prepare(); err != nil {
		c.rollbackLocked()
		return err
	}
	return nil
}

// Commit flushes the prepared transaction and returns the connection to
// idle. Both sinks were already validated together in Prepare, so Flush
// itself should only ever fail on an invalid sink state, not a business
// rule -- in normal operation either both flushes succeed or neither is
// reached. If the explicit partition's flush has already succeeded by the
// time the inferred partition's fails, that installation is already
// visible to other readers and cannot be undone here, so this is reported
// as a distinct partial-commit error rather than folded into the ordinary
// rollback path, which would otherwise claim a clean rollback that did
// not actually happen.
func (c *Connection) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePreparing {
		return tserr.New(tserr.InvalidState, "transaction is not prepared")
	}
	if err := c.explicitSink.Flush(); err != nil {
		c.rollbackLocked()
		return err
	}
	if err := c.inferredSink.Flush(); err != nil {
		_ = c.explicitSink.Close()
		_ = c.inferredSink.Close()
		c.explicitSink, c.inferredSink = nil, nil
		c.state = StateIdle
		return tserr.Wrap(tserr.InvalidState, err,
			"explicit partition committed but inferred partition flush failed; store now holds a partial commit")
	}
	_ = c.explicitSink.Close()
	_ = c.inferredSink.Close()
	c.explicitSink, c.inferredSink = nil, nil
	c.state = StateIdle
	return nil
}

// Rollback discards the active (or preparing) transaction.
func (c *Connection) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive && c.state != StatePreparing {
		return tserr.New(tserr.InvalidState, "no active transaction to roll back")
	}
	c.rollbackLocked()
	return nil
}

func (c *Connection) rollbackLocked() {
	if c.explicitSink != nil {
		_ = c.explicitSink.Close()
	}
	if c.inferredSink != nil {
		_ = c.inferredSink.Close()
	}
	c.explicitSink, c.inferredSink = nil, nil
	c.state = StateIdle
}

// Close closes the connection, rolling back any active transaction first.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive || c.state == StatePreparing {
		c.rollbackLocked()
	}
	c.state = StateClosed
	return nil
}
