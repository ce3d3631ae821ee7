package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sliverarmory/symscope/runner"
	"github.com/sliverarmory/symscope/scenario"
)

// newExecCaseCommand is the hidden child entry point. The parent runner
// execs one of these per native case; it executes exactly one case
// in-process and writes one JSON CaseResult on stdout. Being its own
// process IS the isolation: whatever the case does to the loader's
// global scope dies with it.
func newExecCaseCommand(root *rootOptions) *cobra.Command {
	var (
		scenarioPath    string
		caseIndex       int
		platformDefault string
	)

	cmd := &cobra.Command{
		Use:           runner.ExecCaseCommand,
		Short:         "Execute a single scenario case (internal)",
		Hidden:        true,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := scenario.Load(scenarioPath)
			if err != nil {
				return &exitError{Code: exitCommandError, Err: err}
			}
			if caseIndex < 0 || caseIndex >= len(sc.Cases) {
				return commandError("case index %d out of range (%d cases)", caseIndex, len(sc.Cases))
			}

			res := runner.ExecuteCaseOpts(sc, caseIndex, runner.ExecOptions{
				PlatformDefault: platformDefault,
			})
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(res); err != nil {
				return &exitError{Code: exitCommandError, Err: err}
			}
			if !res.Pass {
				return &exitError{
					Code: exitCaseFailure,
					Err:  fmt.Errorf("case %s/%s failed", res.Scenario, res.Case),
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "scenario file")
	cmd.Flags().IntVar(&caseIndex, "case", 0, "case index within the scenario")
	cmd.Flags().StringVar(&platformDefault, "platform-default", "", "force the default-visibility capability (global|local)")
	_ = cmd.MarkFlagRequired("scenario")

	return cmd
}
