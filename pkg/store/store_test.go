package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addOneStatement(t *testing.T, s *Store) (model.TermID, model.TermID, model.TermID) {
	t.Helper()
	terms := s.Explicit().Terms()
	sub, err := terms.InternIRIString("http://e/alice")
	require.NoError(t, err)
	pred, err := terms.InternIRIString("http://e/knows")
	require.NoError(t, err)
	obj, err := terms.InternIRIString("http://e/bob")
	require.NoError(t, err)

	conn, err := s.Connect()
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Begin(""))
	require.NoError(t, conn.Add(true, sub, pred, obj, model.NoContext))
	require.NoError(t, conn.Prepare())
	require.NoError(t, conn.Commit())

	return sub, pred, obj
}

func TestOpenMemoryOnlyStoreAndQuery(t *testing.T) {
	s, err := Open(DefaultConfig())
	require.NoError(t, err)
	defer s.Close()

	sub, pred, _ := addOneStatement(t, s)

	conn, err := s.Connect()
	require.NoError(t, err)
	defer conn.Close()

	var count int
	require.NoError(t, conn.Read(true, model.Pattern{Subject: &sub, Predicate: &pred}, func(model.Statement) bool {
		count++
		return true
	}))
	assert.Equal(t, 1, count)

	live, total := s.PartitionStats(true)
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, total)
	assert.Equal(t, 3, s.TermCount())
}

func TestOpenRejectsPersistWithoutDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Persist = true
	_, err := Open(cfg)
	// DataDir is empty, but Open itself does not validate this (LoadConfig
	// does); opening the persistence engine against an empty path is
	// expected to fail when it tries to create the directory.
	assert.Error(t, err)
}

func TestPersistentStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Persist = true
	cfg.DataDir = dir
	cfg.SyncDelayMs = 0 // synchronous, so the assertions below see it on disk

	s1, err := Open(cfg)
	require.NoError(t, err)

	sub, pred, obj := addOneStatement(t, s1)
	require.NoError(t, s1.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()

	conn, err := s2.Connect()
	require.NoError(t, err)
	defer conn.Close()

	var found model.Statement
	var count int
	require.NoError(t, conn.Read(true, model.Pattern{Subject: &sub, Predicate: &pred}, func(stmt model.Statement) bool {
		found = stmt
		count++
		return true
	}))
	require.Equal(t, 1, count)
	assert.Equal(t, obj, found.Object)

	// The recovered clock must have resumed strictly after the restored
	// commit version, so a fresh write after restart gets a fresh version
	// rather than colliding with history.
	assert.Greater(t, s2.SnapshotVersion(), uint64(0))
}

func TestCompactReclaimsTombstonedStatements(t *testing.T) {
	s, err := Open(DefaultConfig())
	require.NoError(t, err)
	defer s.Close()

	sub, pred, obj := addOneStatement(t, s)

	conn, err := s.Connect()
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Begin(""))
	require.NoError(t, conn.Remove(true, sub, pred, obj, model.NoContext))
	require.NoError(t, conn.Prepare())
	require.NoError(t, conn.Commit())

	_, total := s.PartitionStats(true)
	assert.Equal(t, 1, total, "tombstoned record still counts until compaction")

	s.Compact()

	_, total = s.PartitionStats(true)
	assert.Equal(t, 0, total, "compaction must reclaim a tombstone no live reader can see")
}

func TestSubscribeReceivesChangedEvent(t *testing.T) {
	s, err := Open(DefaultConfig())
	require.NoError(t, err)
	defer s.Close()

	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	addOneStatement(t, s)

	select {
	case ev := <-sub:
		assert.Equal(t, 1, ev.Added)
	case <-time.After(time.Second):
		t.Fatal("expected a changed event after a commit")
	}
}

func TestLoadConfigRequiresDataDirWhenPersisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("persist: true\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigAppliesDefaultsForUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("persist: false\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotRead, cfg.DefaultIsolation)
	assert.Len(t, cfg.SupportedIsolationLevels, 5)
}
