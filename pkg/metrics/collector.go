package metrics

import "time"

// StatsProvider exposes the counters a Collector polls periodically. A
// *pkg/store.Store satisfies this without pkg/metrics needing to import
// it, avoiding an import cycle between the wiring package and its own
// metrics.
type StatsProvider interface {
	TermCount() int
	PartitionStats(explicit bool) (live, total int)
	SnapshotVersion() uint64
	LiveReaders() int
}

// Collector polls a StatsProvider on a fixed interval and republishes its
// counters as gauges, complementing the counters/histograms that sinks and
// the persistence engine update inline as events happen.
type Collector struct {
	source StatsProvider
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over source.
func NewCollector(source StatsProvider) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	TermsTotal.Set(float64(c.source.TermCount()))

	explicitLive, explicitTotal := c.source.PartitionStats(true)
	StatementsLive.WithLabelValues("explicit").Set(float64(explicitLive))
	StatementsTotal.WithLabelValues("explicit").Set(float64(explicitTotal))

	inferredLive, inferredTotal := c.source.PartitionStats(false)
	StatementsLive.WithLabelValues("inferred").Set(float64(inferredLive))
	StatementsTotal.WithLabelValues("inferred").Set(float64(inferredTotal))

	SnapshotVersion.Set(float64(c.source.SnapshotVersion()))
	LiveReaders.Set(float64(c.source.LiveReaders()))
}
