package index

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linkedIndex(t *testing.T, stmts ...model.Statement) (*List, *Index, []int) {
	t.Helper()
	l := NewList()
	ix := NewIndex(l)
	idxs := make([]int, len(stmts))
	for i, s := range stmts {
		idxs[i] = l.Append(s)
		ix.Link(idxs[i], s)
		if s.RemovedAt == 0 {
			ix.SetLive(idxs[i], s)
		}
	}
	return l, ix, idxs
}

func TestIndexScanBySubject(t *testing.T) {
	_, ix, _ := linkedIndex(t,
		stmt(1, 10, 100, 0, 1, 0),
		stmt(1, 11, 101, 0, 2, 0),
		stmt(2, 10, 100, 0, 3, 0),
	)

	subj := model.TermID(1)
	var got []model.TermID
	ix.Scan(10, model.Pattern{Subject: &subj}, func(_ int, s model.Statement) bool {
		got = append(got, s.Predicate)
		return true
	})

	assert.ElementsMatch(t, []model.TermID{10, 11}, got)
}

func TestIndexScanUnconstrainedFallsBackToFullList(t *testing.T) {
	_, ix, _ := linkedIndex(t,
		stmt(1, 1, 1, 0, 1, 0),
		stmt(2, 2, 2, 0, 2, 0),
	)

	var count int
	ix.Scan(10, model.Pattern{}, func(_ int, _ model.Statement) bool {
		count++
		return true
	})
	assert.Equal(t, 2, count)
}

func TestIndexScanRespectsStopEarly(t *testing.T) {
	_, ix, _ := linkedIndex(t,
		stmt(1, 1, 1, 0, 1, 0),
		stmt(1, 2, 2, 0, 2, 0),
		stmt(1, 3, 3, 0, 3, 0),
	)

	subj := model.TermID(1)
	var count int
	ix.Scan(10, model.Pattern{Subject: &subj}, func(_ int, _ model.Statement) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}

func TestIndexFindLiveAndClearLive(t *testing.T) {
	_, ix, idxs := linkedIndex(t, stmt(1, 2, 3, 0, 1, 0))

	got, ok := ix.FindLive(stmt(1, 2, 3, 0, 0, 0))
	require.True(t, ok, "spew: %s", spew.Sdump(ix.byHash))
	assert.Equal(t, idxs[0], got)

	ix.ClearLive(stmt(1, 2, 3, 0, 0, 0))
	_, ok = ix.FindLive(stmt(1, 2, 3, 0, 0, 0))
	assert.False(t, ok)
}

func TestIndexRemapAfterCompaction(t *testing.T) {
	l, ix, idxs := linkedIndex(t,
		stmt(1, 1, 1, 0, 1, 2), // will be reclaimed
		stmt(1, 2, 2, 0, 2, 0), // will shift from index 1 to 0
	)

	l.Compact(2, ix.Remap)

	subj := model.TermID(1)
	var predicates []model.TermID
	ix.Scan(10, model.Pattern{Subject: &subj}, func(idx int, s model.Statement) bool {
		predicates = append(predicates, s.Predicate)
		return true
	})

	// Only the surviving statement remains, and the live-index lookup
	// tracks its new position rather than the stale one.
	assert.Equal(t, []model.TermID{2}, predicates)

	_, ok := ix.FindLive(stmt(1, 1, 1, 0, 0, 0))
	assert.False(t, ok, "reclaimed statement must be dropped from the hash index: %v", idxs)

	live, ok := ix.FindLive(stmt(1, 2, 2, 0, 0, 0))
	require.True(t, ok)
	assert.Equal(t, 0, live)
}
