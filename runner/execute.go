package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sliverarmory/symscope"
	"github.com/sliverarmory/symscope/abi"
	"github.com/sliverarmory/symscope/scenario"
	"github.com/sliverarmory/symscope/wasmlink"
)

// ExecOptions adjust case execution.
type ExecOptions struct {
	// PlatformDefault forces the default-visibility capability: "global"
	// or "local". Empty keeps the backend's own answer.
	PlatformDefault string
}

// ExecuteCase runs one scenario case against a fresh session and returns
// its result. The caller owns isolation: native cases mutate process-wide
// loader state, so the runner executes them in child processes and only
// wasm cases (which are hermetic) in-process.
func ExecuteCase(sc *scenario.Scenario, index int) CaseResult {
	return ExecuteCaseOpts(sc, index, ExecOptions{})
}

// ExecuteCaseOpts is ExecuteCase with execution options applied.
func ExecuteCaseOpts(sc *scenario.Scenario, index int, opts ExecOptions) CaseResult {
	start := time.Now()
	res := CaseResult{
		Scenario: sc.Name,
		Kind:     sc.Kind,
	}
	if index < 0 || index >= len(sc.Cases) {
		res.Error = fmt.Sprintf("case index %d out of range (%d cases)", index, len(sc.Cases))
		res.ElapsedMS = time.Since(start).Milliseconds()
		return res
	}
	c := &sc.Cases[index]
	res.Case = c.Name
	res.WantError = c.WantError

	var backend symscope.Backend
	switch sc.Kind {
	case scenario.KindWasm:
		env := wasmlink.New(context.Background())
		defer env.Close()
		backend = symscope.WasmBackend(env)
	default:
		backend = symscope.NativeBackend()
	}
	switch opts.PlatformDefault {
	case "global":
		backend = symscope.WithDefaultVisibility(backend, true)
	case "local":
		backend = symscope.WithDefaultVisibility(backend, false)
	}
	sess := symscope.NewSession(backend)

	ex := caseExec{sc: sc, c: c, sess: sess, res: &res, libs: make(map[string]*symscope.LoadedLibrary)}
	ex.run()

	if err := sess.End(); err != nil && res.Pass {
		res.Pass = false
		res.Error = fmt.Sprintf("session teardown: %v", err)
	}
	res.ElapsedMS = time.Since(start).Milliseconds()
	return res
}

type caseExec struct {
	sc   *scenario.Scenario
	c    *scenario.Case
	sess *symscope.Session
	res  *CaseResult
	libs map[string]*symscope.LoadedLibrary
}

func (e *caseExec) run() {
	for _, id := range e.c.Load {
		lib, _ := e.sc.Library(id)
		if !e.open(lib) {
			return
		}
	}

	for i := range e.c.Steps {
		if !e.step(&e.c.Steps[i]) {
			return
		}
	}

	if e.c.WantError != "" {
		e.res.Pass = false
		e.res.Error = fmt.Sprintf("expected a failure at %s, but every step succeeded", e.c.WantError)
		return
	}
	e.res.Pass = allPass(e.res.Steps)
}

func (e *caseExec) open(lib scenario.Library) bool {
	path, err := e.sc.LibraryPath(lib)
	if err != nil {
		return e.fail(scenario.StageOpen, err)
	}
	vis, err := symscope.ParseVisibility(lib.Visibility)
	if err != nil {
		return e.fail(scenario.StageOpen, err)
	}

	loaded, err := e.sess.Open(symscope.LibrarySpec{
		ID:           lib.ID,
		Path:         path,
		Visibility:   vis,
		PreferSystem: lib.PreferSystem,
	})
	if err != nil {
		return e.fail(scenario.StageOpen, err)
	}
	e.libs[lib.ID] = loaded
	return true
}

func (e *caseExec) step(st *scenario.Step) bool {
	sr := StepResult{
		Op:      st.Op,
		Library: st.Library,
		Symbol:  st.Symbol,
		Args:    st.Args,
		Want:    st.Want,
		WantNot: st.WantNot,
	}

	switch st.Op {
	case scenario.OpResolve:
		r, err := e.resolve(st)
		if err != nil {
			return e.fail(scenario.StageResolve, err)
		}
		sr.BoundLibrary = r.BoundLibrary
		sr.BoundPath = r.BoundPath
		sr.Predicted = r.Predicted.String()
		sr.Pass = true
		if st.WantSource != "" && r.BoundLibrary != st.WantSource {
			sr.Pass = false
			sr.Detail = fmt.Sprintf("bound to %s, want %s", r.BoundLibrary, st.WantSource)
		}

	case scenario.OpInvoke:
		r, err := e.resolve(st)
		if err != nil {
			return e.fail(scenario.StageResolve, err)
		}
		sr.BoundLibrary = r.BoundLibrary
		sr.BoundPath = r.BoundPath
		sr.Predicted = r.Predicted.String()
		got, err := e.sess.Invoke(r, st.Args...)
		if err != nil {
			return e.fail(scenario.StageInvoke, err)
		}
		sr.Got = &got
		sr.Pass = true
		switch {
		case st.Want != nil && got != *st.Want:
			sr.Pass = false
			sr.Detail = fmt.Sprintf("want %d, got %d", *st.Want, got)
		case st.WantNot != nil && got == *st.WantNot:
			sr.Pass = false
			sr.Detail = fmt.Sprintf("got %d, want anything else", got)
		}

	case scenario.OpClose:
		if err := e.sess.Close(e.libs[st.Library]); err != nil {
			// Double close is a scenario logic bug; never an expected
			// failure stage.
			e.res.Pass = false
			e.res.Error = err.Error()
			return false
		}
		sr.Pass = true
	}

	e.res.Steps = append(e.res.Steps, sr)
	return true
}

func (e *caseExec) resolve(st *scenario.Step) (*symscope.ResolutionResult, error) {
	sig, err := abi.Parse(st.Signature)
	if err != nil {
		return nil, err
	}
	return e.sess.Resolve(symscope.SymbolQuery{
		Library:   e.libs[st.Library],
		Symbol:    st.Symbol,
		Signature: sig,
	})
}

// fail records a stage failure, turning it into a pass when the case
// declared it expected. Always returns false: a failed stage ends the
// case either way.
func (e *caseExec) fail(stage string, err error) bool {
	e.res.Stage = stage
	e.res.Error = err.Error()
	if e.c.WantError == stage {
		if e.c.ErrorContains == "" || strings.Contains(err.Error(), e.c.ErrorContains) {
			e.res.Pass = allPass(e.res.Steps)
			return false
		}
		e.res.Pass = false
		e.res.Error = fmt.Sprintf("failure at %s lacks %q: %v", stage, e.c.ErrorContains, err)
		return false
	}
	e.res.Pass = false
	return false
}

func allPass(steps []StepResult) bool {
	for _, s := range steps {
		if !s.Pass {
			return false
		}
	}
	return true
}
