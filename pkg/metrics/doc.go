/*
Package metrics provides Prometheus metrics collection and exposition for
the triple store, plus the liveness/readiness/health HTTP handlers that
wrap a process-wide HealthChecker.

# Metrics

Gauges track point-in-time state: term count, live/total statement counts
per partition, the current snapshot clock version, and the number of
pinned readers. Counters track cumulative activity: commits by partition
and isolation level, conflicts, statements added/removed, and persistence
syncs by outcome. Histograms track latency: scan duration, sync duration,
and compaction duration.

A Collector polls a StatsProvider (typically *pkg/store.Store) on a fixed
interval to republish gauges that aren't naturally updated inline; sinks
and the persistence engine update counters and histograms directly as
events happen.

# Health

RegisterComponent/UpdateComponent let independent subsystems (the store's
recovery step, the persistence engine) report their own health; GetHealth
aggregates them, and GetReadiness additionally requires the "store" and
"persistence" components specifically, since a process without those is
not yet able to serve queries.

# Usage

	metrics.SetVersion(version)
	metrics.RegisterComponent("store", true, "")
	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", metrics.HealthHandler())
	http.HandleFunc("/ready", metrics.ReadyHandler())
	http.HandleFunc("/live", metrics.LivenessHandler())
*/
package metrics
