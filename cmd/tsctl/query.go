package main

import (
	"fmt"

	"github.com/graphkeep/triplestore/pkg/model"
	"github.com/graphkeep/triplestore/pkg/term"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <subject|*> <predicate|*> <object|*> [context|*]",
	Short: "Scan statements matching a pattern, at the default isolation level",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		explicitOnly, _ := cmd.Flags().GetBool("explicit")
		inferredOnly, _ := cmd.Flags().GetBool("inferred")

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		terms := s.Explicit().Terms()
		pattern, known := buildPattern(terms, args)
		if !known {
			fmt.Println("0 statement(s)")
			return nil
		}

		c, err := s.Connect()
		if err != nil {
			return err
		}
		defer c.Close()

		count := 0
		printStmt := func(stmt model.Statement) bool {
			count++
			fmt.Printf("%s %s %s %s (added_at=%d)\n",
				resolveOrID(terms, stmt.Subject),
				resolveOrID(terms, stmt.Predicate),
				resolveOrID(terms, stmt.Object),
				resolveOrID(terms, stmt.Context),
				stmt.AddedAt)
			return true
		}

		if !inferredOnly {
			if err := c.Read(true, pattern, printStmt); err != nil {
				return err
			}
		}
		if !explicitOnly {
			if err := c.Read(false, pattern, printStmt); err != nil {
				return err
			}
		}
		fmt.Printf("%d statement(s)\n", count)
		return nil
	},
}

func init() {
	queryCmd.Flags().Bool("explicit", false, "only scan the explicit partition")
	queryCmd.Flags().Bool("inferred", false, "only scan the inferred partition")
}

// buildPattern resolves each non-"*" argument to an already-interned term,
// without creating new terms: a query for an IRI nothing has ever
// asserted should report zero matches, not silently intern it. known is
// false if any constrained argument has never been interned, in which
// case the pattern cannot match anything and the caller should not scan.
func buildPattern(terms *term.Store, args []string) (p model.Pattern, known bool) {
	slots := []**model.TermID{&p.Subject, &p.Predicate, &p.Object}
	if len(args) == 4 {
		slots = append(slots, &p.Context)
	}
	for i, slot := range slots {
		if args[i] == "*" {
			continue
		}
		ns, local := term.SplitIRI(args[i])
		id, ok := terms.Lookup(ns, local)
		if !ok {
			return model.Pattern{}, false
		}
		v := id
		*slot = &v
	}
	return p, true
}

func resolveOrID(terms *term.Store, id model.TermID) string {
	if id == model.NoTerm {
		return "-"
	}
	if t := terms.Resolve(id); t != nil {
		return t.String()
	}
	return fmt.Sprintf("#%d", id)
}
