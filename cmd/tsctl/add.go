package main

import (
	"fmt"

	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <subject-iri> <predicate-iri> <object-iri> [context-iri]",
	Short: "Add one explicit statement and commit it",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		terms := s.Explicit().Terms()
		subj, err := terms.InternIRIString(args[0])
		if err != nil {
			return err
		}
		pred, err := terms.InternIRIString(args[1])
		if err != nil {
			return err
		}
		obj, err := terms.InternIRIString(args[2])
		if err != nil {
			return err
		}
		ctx := model.NoContext
		if len(args) == 4 {
			ctx, err = terms.InternIRIString(args[3])
			if err != nil {
				return err
			}
		}

		c, err := s.Connect()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Begin(""); err != nil {
			return err
		}
		if err := c.Add(true, subj, pred, obj, ctx); err != nil {
			return err
		}
		if err := c.Prepare(); err != nil {
			return err
		}
		if err := c.Commit(); err != nil {
			return err
		}

		fmt.Println("added 1 statement")
		return nil
	},
}
