package conn

import (
	"sync"
	"testing"

	"github.com/graphkeep/triplestore/pkg/lock"
	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/graphkeep/triplestore/pkg/mvcc"
	"github.com/graphkeep/triplestore/pkg/snapshot"
	"github.com/graphkeep/triplestore/pkg/term"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection(t *testing.T, supported []model.IsolationLevel, defaultLevel model.IsolationLevel) (*Connection, *term.Store) {
	t.Helper()
	terms := term.New()
	clock := snapshot.New()
	locks := lock.New()
	explicit := mvcc.NewSource(true, terms, clock, locks, nil)
	inferred := mvcc.NewSource(false, terms, clock, locks, nil)

	c, err := New(explicit, inferred, supported, defaultLevel)
	require.NoError(t, err)
	return c, terms
}

func quad(t *testing.T, terms *term.Store) (model.TermID, model.TermID, model.TermID, model.TermID) {
	t.Helper()
	s, err := terms.InternIRIString("http://e/a")
	require.NoError(t, err)
	p, err := terms.InternIRIString("http://e/p")
	require.NoError(t, err)
	o, err := terms.InternIRIString("http://e/b")
	require.NoError(t, err)
	return s, p, o, model.NoContext
}

func TestNewRejectsDefaultOutsideSupported(t *testing.T) {
	terms := term.New()
	clock := snapshot.New()
	locks := lock.New()
	explicit := mvcc.NewSource(true, terms, clock, locks, nil)
	inferred := mvcc.NewSource(false, terms, clock, locks, nil)

	_, err := New(explicit, inferred, []model.IsolationLevel{model.ReadCommitted}, model.Serializable)
	assert.Error(t, err)
}

func TestBeginRejectsUnsupportedLevel(t *testing.T) {
	c, _ := newTestConnection(t, []model.IsolationLevel{model.SnapshotRead}, model.SnapshotRead)
	err := c.Begin(model.Serializable)
	assert.Error(t, err)
	assert.Equal(t, StateIdle, c.State())
}

func TestBeginEmptyLevelUsesDefault(t *testing.T) {
	c, _ := newTestConnection(t, model.AllIsolationLevels, model.SnapshotRead)
	require.NoError(t, c.Begin(""))
	assert.Equal(t, StateActive, c.State())
	require.NoError(t, c.Rollback())
}

func TestBeginTwiceWithoutCommitFails(t *testing.T) {
	c, _ := newTestConnection(t, model.AllIsolationLevels, model.SnapshotRead)
	require.NoError(t, c.Begin(""))
	err := c.Begin("")
	assert.Error(t, err)
	_ = c.Rollback()
}

func TestAddPrepareCommitFullCycle(t *testing.T) {
	c, terms := newTestConnection(t, model.AllIsolationLevels, model.SnapshotRead)
	s, p, o, ctx := quad(t, terms)

	require.NoError(t, c.Begin(""))
	require.NoError(t, c.Add(true, s, p, o, ctx))
	require.NoError(t, c.Prepare())
	require.NoError(t, c.Commit())
	assert.Equal(t, StateIdle, c.State())

	var count int
	require.NoError(t, c.Read(true, model.Pattern{Subject: &s}, func(model.Statement) bool {
		count++
		return true
	}))
	assert.Equal(t, 1, count)
}

func TestReadOutsideTransactionIsImplicitAutoCommit(t *testing.T) {
	c, terms := newTestConnection(t, model.AllIsolationLevels, model.SnapshotRead)
	s, p, o, ctx := quad(t, terms)

	require.NoError(t, c.Begin(""))
	require.NoError(t, c.Add(true, s, p, o, ctx))
	require.NoError(t, c.Prepare())
	require.NoError(t, c.Commit())

	// No Begin before this Read: it must open and close its own dataset.
	var count int
	require.NoError(t, c.Read(true, model.Pattern{Subject: &s}, func(model.Statement) bool {
		count++
		return true
	}))
	assert.Equal(t, 1, count)
	assert.Equal(t, StateIdle, c.State())
}

func TestReadAllFansOutOverBothPartitions(t *testing.T) {
	c, terms := newTestConnection(t, model.AllIsolationLevels, model.SnapshotRead)
	s, p, o, ctx := quad(t, terms)

	require.NoError(t, c.Begin(""))
	require.NoError(t, c.Add(true, s, p, o, ctx))
	require.NoError(t, c.Add(false, s, p, o, ctx))
	require.NoError(t, c.Prepare())
	require.NoError(t, c.Commit())

	var explicitSeen, inferredSeen int
	require.NoError(t, c.ReadAll(model.Pattern{Subject: &s}, func(stmt model.Statement) bool {
		if stmt.Explicit {
			explicitSeen++
		} else {
			inferredSeen++
		}
		return true
	}))
	assert.Equal(t, 1, explicitSeen)
	assert.Equal(t, 1, inferredSeen)
}

func TestReadAllStopsEarlyAcrossPartitions(t *testing.T) {
	c, terms := newTestConnection(t, model.AllIsolationLevels, model.SnapshotRead)
	s, p, o, ctx := quad(t, terms)

	require.NoError(t, c.Begin(""))
	require.NoError(t, c.Add(true, s, p, o, ctx))
	require.NoError(t, c.Add(false, s, p, o, ctx))
	require.NoError(t, c.Prepare())
	require.NoError(t, c.Commit())

	var count int
	require.NoError(t, c.ReadAll(model.Pattern{}, func(model.Statement) bool {
		count++
		return false
	}))
	assert.Equal(t, 1, count, "ReadAll must stop at the first partition once fn returns false")
}

func TestPrepareConflictRollsBackAndReturnsToIdle(t *testing.T) {
	terms := term.New()
	clock := snapshot.New()
	locks := lock.New()
	explicit := mvcc.NewSource(true, terms, clock, locks, nil)
	inferred := mvcc.NewSource(false, terms, clock, locks, nil)
	levels := []model.IsolationLevel{model.Serializable}

	c1, err := New(explicit, inferred, levels, model.Serializable)
	require.NoError(t, err)
	c2, err := New(explicit, inferred, levels, model.Serializable)
	require.NoError(t, err)

	s, p, o, ctx := quad(t, terms)

	// c2 begins before c1 commits, so its base snapshot predates c1's write.
	require.NoError(t, c2.Begin(""))

	require.NoError(t, c1.Begin(""))
	require.NoError(t, c1.Add(true, s, p, o, ctx))
	require.NoError(t, c1.Prepare())
	require.NoError(t, c1.Commit())

	require.NoError(t, c2.Remove(true, s, p, o, ctx))
	err = c2.Prepare()
	assert.Error(t, err, "a stale-snapshot SERIALIZABLE remove must conflict at prepare")
	assert.Equal(t, StateIdle, c2.State(), "a failed prepare must roll back to idle")
}

func TestConcurrentSerializableWritersToSameKeyDoNotDuplicate(t *testing.T) {
	terms := term.New()
	clock := snapshot.New()
	locks := lock.New()
	explicit := mvcc.NewSource(true, terms, clock, locks, nil)
	inferred := mvcc.NewSource(false, terms, clock, locks, nil)
	levels := []model.IsolationLevel{model.Serializable}

	c1, err := New(explicit, inferred, levels, model.Serializable)
	require.NoError(t, err)
	c2, err := New(explicit, inferred, levels, model.Serializable)
	require.NoError(t, err)

	s, p, o, ctx := quad(t, terms)

	// Both connections begin and stage their add before either prepares, so
	// both base snapshots predate either commit: this is the window the old
	// per-sink locking let two SERIALIZABLE writers race through
	// concurrently, each finding nothing live and both installing.
	require.NoError(t, c1.Begin(""))
	require.NoError(t, c1.Add(true, s, p, o, ctx))
	require.NoError(t, c2.Begin(""))
	require.NoError(t, c2.Add(true, s, p, o, ctx))

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, c := range []*Connection{c1, c2} {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := c.Prepare(); err != nil {
				results <- err
				return
			}
			results <- c.Commit()
		}(c)
	}
	wg.Wait()
	close(results)

	var succeeded, failed int
	for err := range results {
		if err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent SERIALIZABLE writer targeting the same key must win")
	assert.Equal(t, 1, failed, "the loser must see a conflict instead of silently installing a second live record")

	_ = c1.Close()
	_ = c2.Close()

	verify, err := New(explicit, inferred, levels, model.Serializable)
	require.NoError(t, err)
	require.NoError(t, verify.Begin(""))
	var live int
	require.NoError(t, verify.Read(true, model.Pattern{Subject: &s}, func(model.Statement) bool {
		live++
		return true
	}))
	require.NoError(t, verify.Rollback())
	assert.Equal(t, 1, live, "racing SERIALIZABLE writers must leave exactly one live record for the key, never two")
}

func TestCloseRollsBackActiveTransaction(t *testing.T) {
	c, terms := newTestConnection(t, model.AllIsolationLevels, model.SnapshotRead)
	s, p, o, ctx := quad(t, terms)

	require.NoError(t, c.Begin(""))
	require.NoError(t, c.Add(true, s, p, o, ctx))
	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())

	err := c.Begin("")
	assert.Error(t, err, "a closed connection must reject Begin")
}

func TestCommitWithoutPrepareFails(t *testing.T) {
	c, _ := newTestConnection(t, model.AllIsolationLevels, model.SnapshotRead)
	require.NoError(t, c.Begin(""))
	err := c.Commit()
	assert.Error(t, err)
	_ = c.Rollback()
}
