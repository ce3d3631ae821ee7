package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sliverarmory/symscope/journal"
	"github.com/sliverarmory/symscope/report"
	"github.com/sliverarmory/symscope/runner"
	"github.com/sliverarmory/symscope/scenario"
)

func newRunCommand(root *rootOptions) *cobra.Command {
	var (
		parallel        int
		journalPath     string
		filter          string
		platformDefault string
	)

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml|dir>...",
		Short: "Run scenarios and report case outcomes",
		Long: `Run executes every case of the given scenario files (or every scenario
found under the given directories). Native cases each run in an isolated
child process; wasm cases run in-process.

Exit codes:
  0 - every case passed
  1 - at least one case failed
  2 - command error (bad paths, malformed scenarios)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if cmd.Flags().Changed("parallel") {
				cfg.Parallel = parallel
			}
			if cmd.Flags().Changed("journal") {
				cfg.Journal = journalPath
			}
			if cmd.Flags().Changed("platform-default") {
				cfg.PlatformDefault = platformDefault
			}
			if err := cfg.Validate(); err != nil {
				return &exitError{Code: exitCommandError, Err: err}
			}

			files, err := collectScenarioFiles(args, filter)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no scenarios found")
				return nil
			}

			r := &runner.Runner{
				Parallel:        cfg.Parallel,
				PlatformDefault: cfg.PlatformDefault,
				Logger:          slog.Default(),
			}
			res, err := r.Run(cmd.Context(), files)
			if err != nil {
				return &exitError{Code: exitCommandError, Err: err}
			}

			if cfg.Journal != "" {
				if err := recordRun(cfg.Journal, res); err != nil {
					return &exitError{Code: exitCommandError, Err: err}
				}
			}

			if err := renderRun(cmd, cfg.Format, cfg.Color, res); err != nil {
				return &exitError{Code: exitCommandError, Err: err}
			}
			if res.Failed > 0 {
				return &exitError{
					Code: exitCaseFailure,
					Err:  fmt.Errorf("%d of %d cases failed", res.Failed, len(res.Cases)),
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", 0, "max concurrently running cases")
	cmd.Flags().StringVar(&journalPath, "journal", "", "record results to this journal database")
	cmd.Flags().StringVar(&filter, "filter", "", "only run scenario files matching this glob (base name)")
	cmd.Flags().StringVar(&platformDefault, "platform-default", "", "force the default-visibility capability (global|local)")

	return cmd
}

// collectScenarioFiles expands each argument into scenario files: a
// directory is scanned recursively, a file is taken as-is.
func collectScenarioFiles(args []string, filter string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, commandError("stat %s: %v", arg, err)
		}
		if info.IsDir() {
			found, err := scenario.Find(arg, filter)
			if err != nil {
				return nil, &exitError{Code: exitCommandError, Err: err}
			}
			files = append(files, found...)
			continue
		}
		files = append(files, arg)
	}
	return files, nil
}

func recordRun(path string, res *runner.RunResult) error {
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()
	return j.Record(res)
}

func renderRun(cmd *cobra.Command, format, color string, res *runner.RunResult) error {
	rep := report.New(cmd.OutOrStdout(), report.UseColor(color, os.Stdout))
	if format == "json" {
		return rep.RenderJSON(res)
	}
	return rep.Render(res)
}
