package store

import (
	"os"

	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/graphkeep/triplestore/pkg/tserr"
	"gopkg.in/yaml.v3"
)

// Config is the caller-provided store configuration.
type Config struct {
	// Persist, if true, uses DataDir for durable storage; otherwise the
	// store is memory-only.
	Persist bool `yaml:"persist"`

	// DataDir is the directory containing persistence files, required
	// when Persist is true.
	DataDir string `yaml:"data_dir"`

	// SyncDelayMs: 0 = immediate, >0 = coalesce, <0 = defer to shutdown.
	SyncDelayMs int `yaml:"sync_delay_ms"`

	// SupportedIsolationLevels is the subset offered to callers.
	SupportedIsolationLevels []model.IsolationLevel `yaml:"supported_isolation_levels"`

	// DefaultIsolation is used when a caller does not specify a level.
	DefaultIsolation model.IsolationLevel `yaml:"default_isolation"`

	// IterationCacheThreshold is an opaque hint passed through to an
	// external query evaluator; the storage core does not interpret it.
	IterationCacheThreshold int `yaml:"iteration_cache_threshold"`

	// CompactionIntervalSeconds, if > 0, runs a background compaction
	// pass on both partitions at that cadence, alongside the persistence
	// engine's own sync timer.
	CompactionIntervalSeconds int `yaml:"compaction_interval_seconds"`
}

// DefaultConfig returns the out-of-the-box configuration: memory-only,
// all five isolation levels supported, SNAPSHOT_READ default.
func DefaultConfig() Config {
	return Config{
		Persist:     false,
		SyncDelayMs: 0,
		SupportedIsolationLevels: []model.IsolationLevel{
			model.None, model.ReadCommitted, model.SnapshotRead, model.Snapshot, model.Serializable,
		},
		DefaultIsolation: model.SnapshotRead,
	}
}

// LoadConfig reads and parses a YAML configuration file, starting from
// DefaultConfig so unset fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, tserr.Wrap(tserr.PersistenceIO, err, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, tserr.Wrap(tserr.InvalidConfig, err, "parse config file %s", path)
	}
	if cfg.Persist && cfg.DataDir == "" {
		return Config{}, tserr.New(tserr.InvalidConfig, "persist is true but data_dir is empty")
	}
	return cfg, nil
}
