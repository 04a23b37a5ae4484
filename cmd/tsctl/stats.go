package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print term and statement counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		explicitLive, explicitTotal := s.PartitionStats(true)
		inferredLive, inferredTotal := s.PartitionStats(false)

		fmt.Printf("terms:              %d\n", s.TermCount())
		fmt.Printf("explicit statements: %d live / %d total\n", explicitLive, explicitTotal)
		fmt.Printf("inferred statements: %d live / %d total\n", inferredLive, inferredTotal)
		fmt.Printf("snapshot version:    %d\n", s.SnapshotVersion())
		fmt.Printf("live readers:        %d\n", s.LiveReaders())
		return nil
	},
}
