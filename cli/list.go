package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sliverarmory/symscope/scenario"
)

type listEntry struct {
	Path        string   `json:"path"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description,omitempty"`
	Cases       []string `json:"cases"`
}

func newListCommand(root *rootOptions) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:           "list <dir>",
		Short:         "List scenarios and their cases",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := scenario.Find(args[0], filter)
			if err != nil {
				return &exitError{Code: exitCommandError, Err: err}
			}

			entries := make([]listEntry, 0, len(files))
			for _, file := range files {
				sc, err := scenario.Load(file)
				if err != nil {
					return &exitError{Code: exitCommandError, Err: err}
				}
				entry := listEntry{
					Path:        file,
					Name:        sc.Name,
					Kind:        sc.Kind,
					Description: sc.Description,
				}
				for _, c := range sc.Cases {
					entry.Cases = append(entry.Cases, c.Name)
				}
				entries = append(entries, entry)
			}

			if root.cfg.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			w := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(w, "%s (%s, %s)\n", e.Name, e.Kind, e.Path)
				for _, c := range e.Cases {
					fmt.Fprintf(w, "    %s\n", c)
				}
			}
			if len(entries) == 0 {
				fmt.Fprintln(w, "no scenarios found")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "only list scenario files matching this glob (base name)")
	return cmd
}
