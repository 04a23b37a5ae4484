package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Term dictionary metrics
	TermsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triplestore_terms_total",
			Help: "Total number of interned terms in the term dictionary",
		},
	)

	// Statement metrics, split by partition
	StatementsLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "triplestore_statements_live",
			Help: "Number of live (non-tombstoned) statements by partition",
		},
		[]string{"partition"},
	)

	StatementsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "triplestore_statements_total",
			Help: "Total statement-list entries by partition, including tombstones",
		},
		[]string{"partition"},
	)

	// Commit / sink lifecycle metrics
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triplestore_commits_total",
			Help: "Total number of flushed sinks by partition and isolation level",
		},
		[]string{"partition", "isolation"},
	)

	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triplestore_conflicts_total",
			Help: "Total number of ConcurrentModification failures during prepare",
		},
		[]string{"partition"},
	)

	StatementsAddedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triplestore_statements_added_total",
			Help: "Total number of statements installed by flush, by partition",
		},
		[]string{"partition"},
	)

	StatementsRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triplestore_statements_removed_total",
			Help: "Total number of statements tombstoned by flush, by partition",
		},
		[]string{"partition"},
	)

	// Snapshot clock metrics
	SnapshotVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triplestore_snapshot_version",
			Help: "Current snapshot clock version",
		},
	)

	LiveReaders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triplestore_live_readers",
			Help: "Number of pinned snapshots currently held by readers",
		},
	)

	// Query / scan metrics
	ScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triplestore_scan_duration_seconds",
			Help:    "Pattern scan duration in seconds, by partition",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"partition"},
	)

	// Persistence metrics
	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triplestore_sync_duration_seconds",
			Help:    "Time taken to write and rename the sync-file in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triplestore_syncs_total",
			Help: "Total number of persistence syncs, by outcome",
		},
		[]string{"outcome"},
	)

	// Compaction metrics
	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triplestore_compaction_duration_seconds",
			Help:    "Time taken for a compaction pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompactionReclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triplestore_compaction_reclaimed_total",
			Help: "Total number of tombstoned statement slots reclaimed by compaction, by partition",
		},
		[]string{"partition"},
	)
)

func init() {
	prometheus.MustRegister(TermsTotal)
	prometheus.MustRegister(StatementsLive)
	prometheus.MustRegister(StatementsTotal)
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(ConflictsTotal)
	prometheus.MustRegister(StatementsAddedTotal)
	prometheus.MustRegister(StatementsRemovedTotal)
	prometheus.MustRegister(SnapshotVersion)
	prometheus.MustRegister(LiveReaders)
	prometheus.MustRegister(ScanDuration)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(SyncsTotal)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(CompactionReclaimedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
