package runner

// StepResult records one executed step and its verdict.
type StepResult struct {
	Op      string  `json:"op"`
	Library string  `json:"library"`
	Symbol  string  `json:"symbol,omitempty"`
	Args    []int64 `json:"args,omitempty"`

	// Want/WantNot echo the step's expectation; Got is the invoke result.
	Want    *int64 `json:"want,omitempty"`
	WantNot *int64 `json:"want_not,omitempty"`
	Got     *int64 `json:"got,omitempty"`

	// BoundLibrary and BoundPath identify the physical definition a
	// resolve step actually bound. Predicted is the scope model's answer
	// for the same lookup, so divergence is visible in reports.
	BoundLibrary string `json:"bound_library,omitempty"`
	BoundPath    string `json:"bound_path,omitempty"`
	Predicted    string `json:"predicted,omitempty"`

	Pass bool `json:"pass"`

	// Detail explains a failed step in one line.
	Detail string `json:"detail,omitempty"`
}

// CaseResult is the unit of the parent/child protocol: a child process
// executes exactly one case and writes one CaseResult as JSON on stdout.
type CaseResult struct {
	Scenario string `json:"scenario"`
	Case     string `json:"case"`
	Kind     string `json:"kind"`
	Pass     bool   `json:"pass"`

	Steps []StepResult `json:"steps,omitempty"`

	// Stage and Error describe a load/resolve/invoke failure. They are
	// set for expected failures too (Pass true), preserving the loader's
	// diagnostic either way.
	Stage string `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`

	// WantError echoes the case's expected-failure stage, if any.
	WantError string `json:"want_error,omitempty"`

	ElapsedMS int64 `json:"elapsed_ms"`
}

// RunResult aggregates one run over a set of scenarios.
type RunResult struct {
	RunID  string       `json:"run_id"`
	Cases  []CaseResult `json:"cases"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
}

// Tally recomputes the pass/fail counters from the case list.
func (r *RunResult) Tally() {
	r.Passed, r.Failed = 0, 0
	for _, c := range r.Cases {
		if c.Pass {
			r.Passed++
		} else {
			r.Failed++
		}
	}
}
