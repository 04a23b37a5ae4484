package store

import (
	"time"

	"github.com/graphkeep/triplestore/pkg/log"
	"github.com/graphkeep/triplestore/pkg/metrics"
	"github.com/graphkeep/triplestore/pkg/mvcc"
)

// compactLoop periodically reclaims tombstoned statements that are no
// longer visible to any live reader, on both partitions.
// CompactionIntervalSeconds in Config opts into it.
func (s *Store) compactLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.compactOnce()
		case <-s.compactStop:
			return
		}
	}
}

// Compact runs one reclamation pass over both partitions immediately,
// for callers (e.g. the CLI's compact subcommand) that do not want to
// wait for the configured interval.
func (s *Store) Compact() {
	s.compactOnce()
}

func (s *Store) compactOnce() {
	minLive := s.clock.MinLive()
	s.compactPartition(s.explicit, minLive)
	s.compactPartition(s.inferred, minLive)
}

func (s *Store) compactPartition(src *mvcc.Source, minLive uint64) {
	partition := "inferred"
	if src.Explicit {
		partition = "explicit"
	}
	timer := metrics.NewTimer()

	guard := s.locks.AcquireWrite()
	defer guard.Release()

	before, _ := src.List().Stats()
	src.List().Compact(minLive, src.Index().Remap)
	after, _ := src.List().Stats()

	reclaimed := before - after
	if reclaimed > 0 {
		metrics.CompactionReclaimedTotal.WithLabelValues(partition).Add(float64(reclaimed))
		log.Logger.Info().Str("partition", partition).Int("reclaimed", reclaimed).Msg("compaction reclaimed tombstoned statements")
	}
	timer.ObserveDuration(metrics.CompactionDuration)
}
