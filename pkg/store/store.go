// Package store wires the term dictionary, the explicit and inferred
// statement partitions, the lock manager, the snapshot clock, the
// persistence engine, and the event broker into one handle, and exposes
// the connection factory callers use to read and write.
package store

import (
	"time"

	"github.com/graphkeep/triplestore/pkg/conn"
	"github.com/graphkeep/triplestore/pkg/events"
	"github.com/graphkeep/triplestore/pkg/index"
	"github.com/graphkeep/triplestore/pkg/lock"
	"github.com/graphkeep/triplestore/pkg/log"
	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/graphkeep/triplestore/pkg/mvcc"
	"github.com/graphkeep/triplestore/pkg/persist"
	"github.com/graphkeep/triplestore/pkg/snapshot"
	"github.com/graphkeep/triplestore/pkg/term"
	"github.com/graphkeep/triplestore/pkg/tserr"
)

// Store is the top-level handle a process opens once. It owns the shared
// term arena, the two statement partitions, and (when configured) the
// background persistence and compaction loops.
type Store struct {
	cfg Config

	terms *term.Store
	clock *snapshot.Clock
	locks *lock.Manager

	explicit *mvcc.Source
	inferred *mvcc.Source

	broker *events.Broker
	engine *persist.Engine

	compactStop chan struct{}
}

// Open builds a Store from cfg: starting the event broker, then, if
// cfg.Persist is set, recovering from disk and opening the coalesced sync
// scheduler, and finally (if configured) the background compactor.
func Open(cfg Config) (*Store, error) {
	s := &Store{
		cfg:   cfg,
		terms: term.New(),
		clock: snapshot.New(),
		locks: lock.New(),
	}

	s.broker = events.NewBroker()
	s.broker.Start()

	s.explicit = mvcc.NewSource(true, s.terms, s.clock, s.locks, s.onPartitionChanged("explicit"))
	s.inferred = mvcc.NewSource(false, s.terms, s.clock, s.locks, s.onPartitionChanged("inferred"))

	if cfg.Persist {
		if err := s.recover(); err != nil {
			s.broker.Stop()
			return nil, err
		}
		engine, err := persist.Open(cfg.DataDir, persist.SyncDelay(time.Duration(cfg.SyncDelayMs)*time.Millisecond), s.snapshotFn)
		if err != nil {
			s.broker.Stop()
			return nil, err
		}
		s.engine = engine
	}

	if cfg.CompactionIntervalSeconds > 0 {
		s.compactStop = make(chan struct{})
		go s.compactLoop(time.Duration(cfg.CompactionIntervalSeconds) * time.Second)
	}

	return s, nil
}

// recover replays the data file (if any) into the term store and the two
// partitions, ahead of the persistence engine being opened so nothing can
// be scheduled to overwrite it mid-replay.
func (s *Store) recover() error {
	loaded, err := persist.Load(s.cfg.DataDir)
	if err != nil {
		return err
	}
	for _, t := range loaded.Terms {
		s.terms.Restore(t)
	}
	var maxVersion uint64
	for _, rec := range loaded.Statements {
		src := s.inferred
		if rec.Explicit {
			src = s.explicit
		}
		src.Restore(rec.Stmt)
		if rec.Stmt.AddedAt > maxVersion {
			maxVersion = rec.Stmt.AddedAt
		}
		if rec.Stmt.RemovedAt > maxVersion {
			maxVersion = rec.Stmt.RemovedAt
		}
	}
	s.clock.Restore(maxVersion)
	log.Logger.Info().
		Int("terms", len(loaded.Terms)).
		Int("statements", len(loaded.Statements)).
		Uint64("resume_version", maxVersion).
		Msg("recovered store from data file")
	return nil
}

// snapshotFn builds the Snapshot the persistence engine dumps on each
// sync; it is re-evaluated on every call so it always reflects the live
// term store and partitions, not a point-in-time copy.
func (s *Store) snapshotFn() persist.Snapshot {
	return persist.Snapshot{
		Terms:              s.terms.Each,
		ExplicitStatements: eachStatement(s.explicit.List()),
		InferredStatements: eachStatement(s.inferred.List()),
	}
}

func eachStatement(l *index.List) func(func(model.Statement)) {
	return func(fn func(model.Statement)) {
		l.Each(func(_ int, s model.Statement) { fn(s) })
	}
}

// Connect opens a new Connection multiplexing a transaction across both
// partitions, using the configured supported/default isolation levels.
func (s *Store) Connect() (*conn.Connection, error) {
	return conn.New(s.explicit, s.inferred, s.cfg.SupportedIsolationLevels, s.cfg.DefaultIsolation)
}

// Explicit and Inferred expose the underlying partitions directly, for
// callers (e.g. an inference engine) that need lower-level access than a
// Connection provides.
func (s *Store) Explicit() *mvcc.Source { return s.explicit }
func (s *Store) Inferred() *mvcc.Source { return s.inferred }

// onPartitionChanged builds a partition's mvcc.ChangedFunc: it publishes a
// store.changed event and, if persistence is enabled, schedules a sync.
// Both run inside the sink's Flush, before the commit returns: a full
// broker queue or a synchronous sync (zero sync delay) delays the commit.
func (s *Store) onPartitionChanged(partition string) mvcc.ChangedFunc {
	publish := s.broker.PublishChanged(partition)
	return func(added, removed int, commitVersion uint64) {
		publish(added, removed, commitVersion)
		if s.engine == nil {
			return
		}
		if err := s.engine.ScheduleSync(); err != nil {
			log.Logger.Error().Err(err).Str("partition", partition).Msg("failed to schedule persistence sync")
		}
	}
}

// TermCount implements metrics.StatsProvider.
func (s *Store) TermCount() int { return s.terms.Len() }

// PartitionStats implements metrics.StatsProvider.
func (s *Store) PartitionStats(explicit bool) (live, total int) {
	src := s.inferred
	if explicit {
		src = s.explicit
	}
	total, live = src.List().Stats()
	return live, total
}

// SnapshotVersion implements metrics.StatsProvider.
func (s *Store) SnapshotVersion() uint64 { return s.clock.Current() }

// LiveReaders implements metrics.StatsProvider.
func (s *Store) LiveReaders() int { return s.clock.LiveCount() }

// Subscribe hands out a channel of store-changed notifications.
func (s *Store) Subscribe() events.Subscriber { return s.broker.Subscribe() }

// Unsubscribe releases a subscription obtained from Subscribe.
func (s *Store) Unsubscribe(sub events.Subscriber) { s.broker.Unsubscribe(sub) }

// Close stops the background compactor, flushes and releases the
// persistence engine (if any), and stops the event broker. It does not
// wait for in-flight connections to finish; callers are responsible for
// quiescing writers first.
func (s *Store) Close() error {
	if s.compactStop != nil {
		close(s.compactStop)
	}
	var err error
	if s.engine != nil {
		err = s.engine.Shutdown()
	}
	s.broker.Stop()
	if err != nil {
		return tserr.Wrap(tserr.PersistenceIO, err, "shutdown persistence engine")
	}
	return nil
}
