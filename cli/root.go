package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sliverarmory/symscope/config"
)

// Exit codes. Failing cases and command errors are distinct so a CI
// pipeline can tell "the libraries misbehaved" from "the invocation was
// wrong".
const (
	exitSuccess      = 0
	exitCaseFailure  = 1
	exitCommandError = 2
)

// exitError carries a specific exit code out of a command.
type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	return e.Err.Error()
}

func (e *exitError) Unwrap() error {
	return e.Err
}

// rootOptions holds global flags and the loaded configuration, shared by
// every subcommand.
type rootOptions struct {
	Verbose    bool
	Format     string
	Color      string
	ConfigPath string

	cfg config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "symscope",
		Short:         "Native-library symbol-resolution test harness",
		Long:          "symscope loads shared libraries in a declared order and visibility,\nresolves and invokes symbols through them, and checks which library's\ndefinition of a colliding symbol actually won.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			cfg := config.Default()
			if opts.ConfigPath != "" {
				loaded, err := config.Load(opts.ConfigPath)
				if err != nil {
					return &exitError{Code: exitCommandError, Err: err}
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("format") {
				cfg.Format = opts.Format
			}
			if cmd.Flags().Changed("color") {
				cfg.Color = opts.Color
			}
			if err := cfg.Validate(); err != nil {
				return &exitError{Code: exitCommandError, Err: err}
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging on stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.Color, "color", "auto", "color mode (auto|always|never)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "harness config file (TOML)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newExecCaseCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newJournalCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

func commandError(format string, args ...any) error {
	return &exitError{Code: exitCommandError, Err: fmt.Errorf(format, args...)}
}
