// Package runner executes scenarios and collects case results. Native
// cases contaminate process-wide loader state (one RTLD_GLOBAL load
// changes every later lookup in the process), so each native case runs
// in its own child process: the runner re-execs the harness binary with
// a hidden per-case command and reads one JSON CaseResult from its
// stdout. Wasm cases are hermetic and run in-process. Distinct cases are
// independent and may run concurrently.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sliverarmory/symscope/scenario"
)

// ExecCaseCommand is the hidden CLI command a child is started with.
const ExecCaseCommand = "exec-case"

// Runner dispatches scenario cases.
type Runner struct {
	// Exec is the harness binary to re-exec for native cases. Empty
	// means the running executable.
	Exec string

	// Parallel caps concurrently running cases. Values below 1 mean 1.
	Parallel int

	// InProcess forces every case in-process, native ones included.
	// Only the per-case child command itself sets this: a child is
	// already the isolation boundary.
	InProcess bool

	// PlatformDefault forces the default-visibility capability for
	// every case; see ExecOptions.
	PlatformDefault string

	// Logger receives per-case progress. Nil means slog.Default.
	Logger *slog.Logger
}

// Run loads every scenario file and executes all their cases. The
// returned result lists cases in scenario-file order; the error is
// non-nil only for harness-level problems (unreadable scenario, missing
// binary), never for failing cases.
func (r *Runner) Run(ctx context.Context, paths []string) (*RunResult, error) {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}

	type caseRef struct {
		sc    *scenario.Scenario
		index int
	}
	var refs []caseRef
	for _, path := range paths {
		sc, err := scenario.Load(path)
		if err != nil {
			return nil, err
		}
		for i := range sc.Cases {
			refs = append(refs, caseRef{sc: sc, index: i})
		}
	}

	execPath := r.Exec
	if execPath == "" && !r.InProcess {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("runner: locate own binary: %w", err)
		}
		execPath = self
	}

	result := &RunResult{
		RunID: uuid.NewString(),
		Cases: make([]CaseResult, len(refs)),
	}

	g, ctx := errgroup.WithContext(ctx)
	parallel := r.Parallel
	if parallel < 1 {
		parallel = 1
	}
	g.SetLimit(parallel)

	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			name := ref.sc.Cases[ref.index].Name
			log.Debug("case start", "scenario", ref.sc.Name, "case", name, "kind", ref.sc.Kind)

			var cr CaseResult
			if ref.sc.Kind == scenario.KindNative && !r.InProcess {
				cr = r.runChild(ctx, execPath, ref.sc, ref.index)
			} else {
				cr = ExecuteCaseOpts(ref.sc, ref.index, ExecOptions{PlatformDefault: r.PlatformDefault})
			}
			result.Cases[i] = cr

			log.Debug("case done", "scenario", cr.Scenario, "case", cr.Case, "pass", cr.Pass)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Tally()
	return result, nil
}

// runChild executes one native case in an isolated child process and
// decodes its JSON result. A child that fails to produce a result (bad
// binary, crash in the loader itself) becomes a failed case carrying the
// child's stderr, not a run-level error: one broken case must not hide
// the others' outcomes.
func (r *Runner) runChild(ctx context.Context, execPath string, sc *scenario.Scenario, index int) CaseResult {
	var stdout, stderr bytes.Buffer
	args := []string{ExecCaseCommand, "--scenario", sc.Path, "--case", strconv.Itoa(index)}
	if r.PlatformDefault != "" {
		args = append(args, "--platform-default", r.PlatformDefault)
	}
	cmd := exec.CommandContext(ctx, execPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	var cr CaseResult
	if err := json.Unmarshal(stdout.Bytes(), &cr); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" && runErr != nil {
			detail = runErr.Error()
		}
		return CaseResult{
			Scenario: sc.Name,
			Case:     sc.Cases[index].Name,
			Kind:     sc.Kind,
			Error:    fmt.Sprintf("child produced no result: %s", detail),
		}
	}

	// Exit code 1 with a clean JSON result is just a failed case. Any
	// other abnormal exit means the child died after reporting, which
	// overrides whatever the report claimed.
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) || exitErr.ExitCode() != 1 {
			cr.Pass = false
			if cr.Error == "" {
				cr.Error = fmt.Sprintf("child exited abnormally: %v", runErr)
			}
		}
	}
	return cr
}
