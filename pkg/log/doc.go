/*
Package log provides structured logging for the triple store using zerolog.

A single package-level Logger is initialised once via Init and shared by
every package: pkg/store logs recovery, compaction and sync-scheduling
failures, pkg/persist logs sync completion and background sync failures,
and cmd/tsctl's serve command logs start-up and shutdown. Component loggers
(WithComponent, WithPartition, WithConnID) attach context fields without
threading a logger through every call.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	sinkLog := log.WithPartition("explicit")
	sinkLog.Info().Uint64("commit_version", v).Msg("sink flushed")

	log.Logger.Error().Err(err).Msg("sync failed")

Background sync failures are logged and retried on the next commit rather
than propagated, per the store's best-effort-timed durability model; only
init() and prepare() failures return to the caller.
*/
package log
