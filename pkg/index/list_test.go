package index

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stmt(s, p, o, c model.TermID, addedAt, removedAt uint64) model.Statement {
	return model.Statement{
		Subject: s, Predicate: p, Object: o, Context: c,
		AddedAt: addedAt, RemovedAt: removedAt, Explicit: true, TxState: model.Committed,
	}
}

func TestListAppendAndAt(t *testing.T) {
	l := NewList()
	idx := l.Append(stmt(1, 2, 3, 0, 1, 0))

	got, ok := l.At(idx)
	require.True(t, ok, "record should be found at %d: %s", idx, spew.Sdump(l))
	assert.Equal(t, model.TermID(1), got.Subject)
}

func TestListAtOutOfRange(t *testing.T) {
	l := NewList()
	_, ok := l.At(5)
	assert.False(t, ok)
}

func TestListMarkRemovedIsIdempotent(t *testing.T) {
	l := NewList()
	idx := l.Append(stmt(1, 2, 3, 0, 1, 0))

	assert.True(t, l.MarkRemoved(idx, 5))
	got, _ := l.At(idx)
	assert.Equal(t, uint64(5), got.RemovedAt)

	// A second mark must not overwrite the first removal version.
	assert.True(t, l.MarkRemoved(idx, 9))
	got, _ = l.At(idx)
	assert.Equal(t, uint64(5), got.RemovedAt)
}

func TestListIterateAtRespectsVisibility(t *testing.T) {
	l := NewList()
	l.Append(stmt(1, 1, 1, 0, 1, 0))  // added v1, still live
	l.Append(stmt(2, 2, 2, 0, 2, 3))  // added v2, removed v3
	l.Append(stmt(3, 3, 3, 0, 5, 0))  // added v5, not yet visible at v4

	var seen []model.TermID
	l.IterateAt(4, func(_ int, s model.Statement) bool {
		seen = append(seen, s.Subject)
		return true
	})

	assert.ElementsMatch(t, []model.TermID{1, 2}, seen)
}

func TestListStats(t *testing.T) {
	l := NewList()
	l.Append(stmt(1, 1, 1, 0, 1, 0))
	idx := l.Append(stmt(2, 2, 2, 0, 2, 0))
	l.MarkRemoved(idx, 3)

	total, live := l.Stats()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, live)
}

func TestListCompactReclaimsTombstonedBelowThreshold(t *testing.T) {
	l := NewList()
	idx0 := l.Append(stmt(1, 1, 1, 0, 1, 2)) // removed at 2, reclaimable at minLive=3
	idx1 := l.Append(stmt(2, 2, 2, 0, 2, 0)) // still live
	idx2 := l.Append(stmt(3, 3, 3, 0, 3, 10)) // removed at 10, not yet reclaimable at minLive=3

	type remapCall struct {
		oldIdx, newIdx int
		ok             bool
	}
	var calls []remapCall
	l.Compact(3, func(oldIdx, newIdx int, ok bool) {
		calls = append(calls, remapCall{oldIdx, newIdx, ok})
	})

	require.Len(t, calls, 3)
	assert.Equal(t, remapCall{idx0, 0, false}, calls[0])
	assert.Equal(t, remapCall{idx1, 0, true}, calls[1])
	assert.Equal(t, remapCall{idx2, 1, true}, calls[2])

	total, _ := l.Stats()
	assert.Equal(t, 2, total, "spew: %s", spew.Sdump(l))
}

func TestListCompactKeepsOrderStable(t *testing.T) {
	l := NewList()
	l.Append(stmt(1, 1, 1, 0, 1, 1)) // reclaimed
	l.Append(stmt(2, 2, 2, 0, 2, 0)) // kept, moves to index 0
	l.Append(stmt(3, 3, 3, 0, 3, 0)) // kept, moves to index 1

	l.Compact(1, func(int, int, bool) {})

	s0, ok := l.At(0)
	require.True(t, ok)
	assert.Equal(t, model.TermID(2), s0.Subject)

	s1, ok := l.At(1)
	require.True(t, ok)
	assert.Equal(t, model.TermID(3), s1.Subject)
}
