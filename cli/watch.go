package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sliverarmory/symscope/runner"
	"github.com/sliverarmory/symscope/scenario"
	"github.com/sliverarmory/symscope/watch"
)

func newWatchCommand(root *rootOptions) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "watch <scenario-dir>",
		Short: "Re-run scenarios whenever descriptors or artifacts change",
		Long: `Watch runs every scenario under the directory, then keeps watching it
and re-runs on any change to a scenario file or library artifact.
Failures do not stop the loop; interrupt to leave it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return commandError("%s is not a directory", dir)
			}

			r := &runner.Runner{
				Parallel:        root.cfg.Parallel,
				PlatformDefault: root.cfg.PlatformDefault,
				Logger:          slog.Default(),
			}
			rerun := func() {
				files, err := scenario.Find(dir, filter)
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "symscope:", err)
					return
				}
				if len(files) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no scenarios found")
					return
				}
				res, err := r.Run(cmd.Context(), files)
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "symscope:", err)
					return
				}
				if err := renderRun(cmd, root.cfg.Format, root.cfg.Color, res); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "symscope:", err)
				}
			}

			rerun()

			w, err := watch.New(time.Duration(root.cfg.WatchWindowMS)*time.Millisecond, slog.Default())
			if err != nil {
				return &exitError{Code: exitCommandError, Err: err}
			}
			defer w.Close()
			if err := w.Add(dir); err != nil {
				return &exitError{Code: exitCommandError, Err: err}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", dir)
			err = w.Run(cmd.Context(), func(changed []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d change(s), re-running\n", len(changed))
				rerun()
			})
			if err != nil && cmd.Context().Err() == nil {
				return &exitError{Code: exitCommandError, Err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "only run scenario files matching this glob (base name)")
	return cmd
}
