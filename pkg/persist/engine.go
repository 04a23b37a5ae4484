// Package persist implements the on-disk persistence format and the
// asynchronous, coalesced flush scheduler: a tagged binary record stream
// written to a sync-file and atomically renamed over the data-file, with
// recovery replaying the file into a fresh in-memory store.
package persist

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/graphkeep/triplestore/pkg/lock"
	"github.com/graphkeep/triplestore/pkg/log"
	"github.com/graphkeep/triplestore/pkg/metrics"
	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/graphkeep/triplestore/pkg/tserr"
)

const (
	dataFileName = "store.dat"
	syncFileName = "store.dat.sync"
)

// Snapshot is the full, consistent view of the store that Dump serialises.
// Callers (pkg/store) supply it from the term store's iterator and each
// partition's full statement list, tombstoned records included; no
// isolation dataset is opened for it.
type Snapshot struct {
	Terms              func(fn func(*model.Term))
	ExplicitStatements func(fn func(model.Statement))
	InferredStatements func(fn func(model.Statement))
}

// Loaded holds everything recovered from a data file, for the caller to
// replay into a fresh term store and pair of sources.
type Loaded struct {
	Terms      []*model.Term
	Statements []StatementRecord
}

// SyncDelay controls ScheduleSync's behaviour: zero means synchronous,
// positive coalesces commits within that duration into one write,
// negative defers all writes to Shutdown.
type SyncDelay time.Duration

const (
	SyncImmediate SyncDelay = 0
	SyncAtShutdown SyncDelay = -1
)

// Engine owns the data directory lock and the coalesced sync timer. It does
// not own the in-memory store; Dump is supplied a Snapshot on demand so the
// engine stays decoupled from pkg/mvcc.
type Engine struct {
	dir   string
	delay SyncDelay

	dirLock *lock.DirLock

	syncMu sync.Mutex // serialises concurrent sync() calls

	timerMu sync.Mutex
	timer   *time.Timer

	changedMu sync.Mutex
	changed   bool

	snapshotFn func() Snapshot
}

// Open acquires the directory lock (if dataDir is persistent) and returns an
// engine ready to schedule syncs. It does not read the existing data file;
// call Load separately during store initialisation, before Open, so the
// in-memory state exists before anything can be scheduled to overwrite it.
func Open(dataDir string, delay SyncDelay, snapshotFn func() Snapshot) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, tserr.Wrap(tserr.PersistenceIO, err, "create data directory %s", dataDir)
	}
	dl, err := lock.AcquireDir(dataDir)
	if err != nil {
		return nil, err
	}
	return &Engine{dir: dataDir, delay: delay, dirLock: dl, snapshotFn: snapshotFn}, nil
}

// Load reads the existing data file at dataDir, if any, returning the terms
// and statements it contains. An absent or empty file is treated as a new,
// empty store. This does not require the directory lock to already be
// held by this process, since it is meant to run before Open.
func Load(dataDir string) (*Loaded, error) {
	path := filepath.Join(dataDir, dataFileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &Loaded{}, nil
	}
	if err != nil {
		return nil, tserr.Wrap(tserr.PersistenceIO, err, "open data file %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, tserr.Wrap(tserr.PersistenceIO, err, "stat data file %s", path)
	}
	if info.Size() == 0 {
		return &Loaded{}, nil
	}

	r := bufio.NewReader(f)
	if err := readHeader(r); err != nil {
		return nil, err
	}

	out := &Loaded{}
	namespaces := make(map[uint64]string)
	for {
		tg, err := readByte(r)
		if err != nil {
			return nil, tserr.Wrap(tserr.PersistenceIO, err, "read record tag in %s", path)
		}
		switch tag(tg) {
		case tagEOF:
			return out, nil
		case tagNamespace:
			nsID, err := readUvarint(r)
			if err != nil {
				return nil, tserr.Wrap(tserr.PersistenceIO, err, "read namespace id in %s", path)
			}
			ns, err := readString(r)
			if err != nil {
				return nil, tserr.Wrap(tserr.PersistenceIO, err, "read namespace string in %s", path)
			}
			namespaces[nsID] = ns
		case tagURI, tagBNode, tagLiteral:
			t, err := readTerm(r, tag(tg), namespaces)
			if err != nil {
				return nil, tserr.Wrap(tserr.PersistenceIO, err, "read term record in %s", path)
			}
			out.Terms = append(out.Terms, t)
		case tagStatement:
			s, err := readStatement(r)
			if err != nil {
				return nil, tserr.Wrap(tserr.PersistenceIO, err, "read statement record in %s", path)
			}
			out.Statements = append(out.Statements, s)
		default:
			return nil, tserr.New(tserr.PersistenceIO, "unknown record tag %d in %s", tg, path)
		}
	}
}

// ScheduleSync is called from commit. Immediate delay syncs synchronously;
// a positive delay (re)arms a single-shot timer, collapsing overlapping
// commits into one eventual write; a negative delay defers to Shutdown.
func (e *Engine) ScheduleSync() error {
	e.changedMu.Lock()
	e.changed = true
	e.changedMu.Unlock()

	switch {
	case e.delay == SyncImmediate:
		return e.Sync()
	case e.delay > 0:
		e.timerMu.Lock()
		defer e.timerMu.Unlock()
		if e.timer != nil {
			e.timer.Stop()
		}
		e.timer = time.AfterFunc(time.Duration(e.delay), func() {
			if err := e.Sync(); err != nil {
				log.Logger.Error().Err(err).Msg("background sync failed, will retry on next commit")
			}
		})
		return nil
	default: // SyncAtShutdown or any other negative delay
		return nil
	}
}

// Sync serialises the current snapshot to the sync-file, fsyncs it, and
// atomically renames it over the data-file. Concurrent syncs are
// serialised by syncMu; a sync that finds nothing changed since the last
// one is a no-op.
func (e *Engine) Sync() error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	e.changedMu.Lock()
	if !e.changed {
		e.changedMu.Unlock()
		return nil
	}
	e.changed = false
	e.changedMu.Unlock()

	timer := metrics.NewTimer()
	if err := e.syncOnce(); err != nil {
		metrics.SyncsTotal.WithLabelValues("failure").Inc()
		return err
	}
	timer.ObserveDuration(metrics.SyncDuration)
	metrics.SyncsTotal.WithLabelValues("success").Inc()
	return nil
}

func (e *Engine) syncOnce() error {
	syncPath := filepath.Join(e.dir, syncFileName)
	dataPath := filepath.Join(e.dir, dataFileName)

	f, err := os.OpenFile(syncPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return tserr.Wrap(tserr.PersistenceIO, err, "open sync file %s", syncPath)
	}

	w := bufio.NewWriter(f)
	if err := e.writeSnapshot(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return tserr.Wrap(tserr.PersistenceIO, err, "flush sync file %s", syncPath)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return tserr.Wrap(tserr.PersistenceIO, err, "fsync sync file %s", syncPath)
	}
	if err := f.Close(); err != nil {
		return tserr.Wrap(tserr.PersistenceIO, err, "close sync file %s", syncPath)
	}
	if err := os.Rename(syncPath, dataPath); err != nil {
		return tserr.Wrap(tserr.PersistenceIO, err, "rename %s to %s", syncPath, dataPath)
	}
	log.Logger.Debug().Str("path", dataPath).Msg("persistence sync complete")
	return nil
}

func (e *Engine) writeSnapshot(w *bufio.Writer) error {
	if err := writeHeader(w); err != nil {
		return tserr.Wrap(tserr.PersistenceIO, err, "write file header")
	}
	snap := e.snapshotFn()
	nt := newNamespaceTable()
	var termErr error
	snap.Terms(func(t *model.Term) {
		if termErr != nil {
			return
		}
		termErr = writeTerm(w, nt, t)
	})
	if termErr != nil {
		return tserr.Wrap(tserr.PersistenceIO, termErr, "write term records")
	}

	var stmtErr error
	writeAll := func(explicit bool) func(model.Statement) {
		return func(s model.Statement) {
			if stmtErr != nil {
				return
			}
			partition := byte(0)
			if explicit {
				partition = 1
			}
			stmtErr = writeStatement(w, partition, s)
		}
	}
	snap.ExplicitStatements(writeAll(true))
	if stmtErr != nil {
		return tserr.Wrap(tserr.PersistenceIO, stmtErr, "write explicit statement records")
	}
	snap.InferredStatements(writeAll(false))
	if stmtErr != nil {
		return tserr.Wrap(tserr.PersistenceIO, stmtErr, "write inferred statement records")
	}

	return writeByte(w, byte(tagEOF))
}

// Shutdown cancels any pending timer, performs a final synchronous sync
// regardless of sync_delay_ms (so SyncAtShutdown stores still persist), and
// releases the directory lock.
func (e *Engine) Shutdown() error {
	e.timerMu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timerMu.Unlock()

	e.changedMu.Lock()
	e.changed = true
	e.changedMu.Unlock()

	if err := e.Sync(); err != nil {
		return err
	}
	return e.dirLock.Release()
}
