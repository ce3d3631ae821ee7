package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sliverarmory/symscope/dynlink"
)

func newInspectCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <library>",
		Short: "Show a library's format and dynamic symbols",
		Long: `Inspect parses a shared-library file without loading it and prints its
format, target machine, dependencies, and the split of its dynamic
symbol table into defined exports and unresolved imports. The imports
are what the loader must satisfy from elsewhere at open time.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := dynlink.Inspect(args[0])
			if err != nil {
				return &exitError{Code: exitCommandError, Err: err}
			}

			if root.cfg.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "format:  %s\n", info.Format)
			fmt.Fprintf(w, "machine: %s\n", info.Machine)
			fmt.Fprintf(w, "type:    %s\n", info.Type)
			if len(info.Needed) > 0 {
				fmt.Fprintf(w, "needed:  %s\n", strings.Join(info.Needed, ", "))
			}
			fmt.Fprintf(w, "exports: %s\n", joinOrNone(info.Exports))
			fmt.Fprintf(w, "imports: %s\n", joinOrNone(info.Imports))
			return nil
		},
	}
	return cmd
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}
