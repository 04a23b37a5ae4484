package main

import (
	"fmt"
	"os"

	"github.com/graphkeep/triplestore/pkg/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default store configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		out, _ := cmd.Flags().GetString("out")

		cfg := store.DefaultConfig()
		cfg.Persist = true
		cfg.DataDir = dataDir

		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Wrote config to %s (data_dir: %s)\n", out, dataDir)
		return nil
	},
}

func init() {
	initCmd.Flags().String("data-dir", "./tsdata", "data directory for persistence")
	initCmd.Flags().String("out", "tsctl.yaml", "config file to write")
}
