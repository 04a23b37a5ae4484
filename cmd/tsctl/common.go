package main

import (
	"github.com/graphkeep/triplestore/pkg/store"
	"github.com/spf13/cobra"
)

// openStore loads the config named by the root --config flag, if any, and
// opens a store.Store. The caller is responsible for closing it.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg := store.DefaultConfig()
	if cfgFile != "" {
		loaded, err := store.LoadConfig(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return store.Open(cfg)
}
