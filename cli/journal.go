package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sliverarmory/symscope/journal"
)

func newJournalCommand(root *rootOptions) *cobra.Command {
	var (
		journalPath string
		limit       int
	)

	cmd := &cobra.Command{
		Use:           "journal",
		Short:         "Show recent journal entries",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.cfg.Journal
			if cmd.Flags().Changed("journal") {
				path = journalPath
			}
			if path == "" {
				return commandError("no journal configured: pass --journal or set journal in the config file")
			}

			j, err := journal.Open(path)
			if err != nil {
				return &exitError{Code: exitCommandError, Err: err}
			}
			defer j.Close()

			entries, err := j.Recent(limit)
			if err != nil {
				return &exitError{Code: exitCommandError, Err: err}
			}

			if root.cfg.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			w := cmd.OutOrStdout()
			for _, e := range entries {
				verdict := "pass"
				if !e.Pass {
					verdict = "fail"
				}
				fmt.Fprintf(w, "%s  %-4s  %s/%s (%s, %dms, run %s)\n",
					e.RecordedAt, verdict, e.Scenario, e.Case, e.Kind, e.ElapsedMS, e.RunID)
				if e.Error != "" {
					fmt.Fprintf(w, "    %s: %s\n", e.Stage, e.Error)
				}
			}
			if len(entries) == 0 {
				fmt.Fprintln(w, "journal is empty")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "", "journal database path")
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries to show")
	return cmd
}
