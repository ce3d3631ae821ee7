// Package scenario defines the YAML descriptors that drive resolution
// experiments. A scenario declares a set of libraries and one or more
// cases; each case loads a subset of the libraries in a fixed order and
// walks a list of resolve/invoke/close steps with expectations attached.
//
// Descriptors are decoded strictly: an unknown field is a typo, not an
// extension point. Library paths resolve relative to the scenario file,
// so a scenario directory can be checked out and run from anywhere.
package scenario

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sliverarmory/symscope/abi"
)

// Scenario kinds select the backend a scenario runs against.
const (
	KindNative = "native"
	KindWasm   = "wasm"
)

// Step operations.
const (
	OpResolve = "resolve"
	OpInvoke  = "invoke"
	OpClose   = "close"
)

// Stages an expected error may occur in, for case-level want_error.
const (
	StageOpen    = "open"
	StageResolve = "resolve"
	StageInvoke  = "invoke"
)

// Scenario is one descriptor file.
type Scenario struct {
	// Name uniquely identifies the scenario in reports and the journal.
	Name string `yaml:"name"`

	// Description says what outcome the scenario demonstrates.
	Description string `yaml:"description,omitempty"`

	// Kind selects the backend: native or wasm.
	Kind string `yaml:"kind"`

	// Libraries declares every library any case may load.
	Libraries []Library `yaml:"libraries"`

	// Cases are the load/step sequences. Each case runs in isolation:
	// native cases each get their own process, wasm cases a fresh
	// environment.
	Cases []Case `yaml:"cases"`

	// Path and Dir locate the descriptor file; set by Load, not by YAML.
	Path string `yaml:"-"`
	Dir  string `yaml:"-"`
}

// Library binds a scenario-local ID to an on-disk artifact.
type Library struct {
	ID string `yaml:"id"`

	// Path is either a single relative/absolute path or a per-platform
	// map; see PathSpec.
	Path PathSpec `yaml:"path"`

	// Visibility is "global", "local", or "platform" (empty means
	// platform).
	Visibility string `yaml:"visibility,omitempty"`

	// PreferSystem tries the bare base name through the system search
	// path before the explicit path.
	PreferSystem bool `yaml:"prefer_system,omitempty"`
}

// PathSpec is a library location, written in YAML as either a plain
// string or a map keyed by GOOS with an optional "default" entry:
//
//	path: a/libfoo.so
//	path: {linux: a/libfoo.so, darwin: a/libfoo.dylib, default: a/libfoo.so}
type PathSpec struct {
	exact string
	perOS map[string]string
}

// UnmarshalYAML accepts the scalar and map forms.
func (p *PathSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		p.exact = s
		return nil
	case yaml.MappingNode:
		m := make(map[string]string)
		if err := node.Decode(&m); err != nil {
			return err
		}
		for key := range m {
			switch key {
			case "linux", "darwin", "windows", "default":
			default:
				return fmt.Errorf("path: unknown platform key %q", key)
			}
		}
		p.perOS = m
		return nil
	}
	return fmt.Errorf("path: expected string or platform map")
}

// IsZero reports an absent path.
func (p PathSpec) IsZero() bool {
	return p.exact == "" && len(p.perOS) == 0
}

// For picks the entry for the given GOOS: the exact path if one was
// written, else the platform's entry, else "default".
func (p PathSpec) For(goos string) (string, error) {
	if p.exact != "" {
		return p.exact, nil
	}
	if path, ok := p.perOS[goos]; ok {
		return path, nil
	}
	if path, ok := p.perOS["default"]; ok {
		return path, nil
	}
	return "", fmt.Errorf("no library path for platform %s", goos)
}

// Case is one isolated load/step sequence.
type Case struct {
	Name string `yaml:"name"`

	// Load lists library IDs in load order.
	Load []string `yaml:"load"`

	Steps []Step `yaml:"steps,omitempty"`

	// WantError declares that the case is expected to fail at the named
	// stage (open, resolve, invoke). A case with WantError passes when
	// the failure occurs and fails when everything succeeds.
	WantError string `yaml:"want_error,omitempty"`

	// ErrorContains narrows WantError: the failure's text must contain
	// this substring (typically the unresolved symbol's name).
	ErrorContains string `yaml:"error_contains,omitempty"`
}

// Step is one resolve, invoke, or close action with its expectations.
type Step struct {
	Op      string `yaml:"op"`
	Library string `yaml:"library"`

	// Symbol names the function for resolve and invoke.
	Symbol string `yaml:"symbol,omitempty"`

	// Signature is the declared function type, in abi notation like
	// "int32(int32)". Empty means the abi default.
	Signature string `yaml:"signature,omitempty"`

	// Args are invoke arguments.
	Args []int64 `yaml:"args,omitempty"`

	// Want asserts the invoke result. WantNot asserts the result is NOT
	// the given value, which is how a scenario documents a deliberate
	// erroneous collision. At most one of the two may be set.
	Want    *int64 `yaml:"want,omitempty"`
	WantNot *int64 `yaml:"want_not,omitempty"`

	// WantSource asserts which declared library's definition the
	// resolution actually bound, by ID.
	WantSource string `yaml:"want_source,omitempty"`
}

// Load reads, strictly decodes, and validates one scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}

	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("scenario: parse %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: resolve %s: %w", path, err)
	}
	sc.Path = abs
	sc.Dir = filepath.Dir(abs)

	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("scenario: %s: %w", path, err)
	}
	return &sc, nil
}

// Library returns the declared library with the given ID.
func (s *Scenario) Library(id string) (Library, bool) {
	for _, lib := range s.Libraries {
		if lib.ID == id {
			return lib, true
		}
	}
	return Library{}, false
}

// LibraryPath resolves a declared library's on-disk path for the running
// platform, relative paths anchored at the scenario file's directory.
func (s *Scenario) LibraryPath(lib Library) (string, error) {
	path, err := lib.Path.For(runtime.GOOS)
	if err != nil {
		return "", fmt.Errorf("library %s: %w", lib.ID, err)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.Dir, path)
	}
	return path, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch s.Kind {
	case KindNative, KindWasm:
	case "":
		return fmt.Errorf("kind is required (native or wasm)")
	default:
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	if len(s.Libraries) == 0 {
		return fmt.Errorf("libraries list is required and must be non-empty")
	}
	if len(s.Cases) == 0 {
		return fmt.Errorf("cases list is required and must be non-empty")
	}

	ids := make(map[string]struct{}, len(s.Libraries))
	for i, lib := range s.Libraries {
		if lib.ID == "" {
			return fmt.Errorf("libraries[%d]: id is required", i)
		}
		if _, dup := ids[lib.ID]; dup {
			return fmt.Errorf("libraries[%d]: duplicate id %q", i, lib.ID)
		}
		ids[lib.ID] = struct{}{}
		if lib.Path.IsZero() {
			return fmt.Errorf("libraries[%d] (%s): path is required", i, lib.ID)
		}
		switch strings.ToLower(lib.Visibility) {
		case "", "platform", "local", "global":
		default:
			return fmt.Errorf("libraries[%d] (%s): unknown visibility %q", i, lib.ID, lib.Visibility)
		}
	}

	names := make(map[string]struct{}, len(s.Cases))
	for i := range s.Cases {
		if err := s.validateCase(i, ids); err != nil {
			return err
		}
		name := s.Cases[i].Name
		if _, dup := names[name]; dup {
			return fmt.Errorf("cases[%d]: duplicate name %q", i, name)
		}
		names[name] = struct{}{}
	}
	return nil
}

func (s *Scenario) validateCase(i int, ids map[string]struct{}) error {
	c := &s.Cases[i]
	if c.Name == "" {
		return fmt.Errorf("cases[%d]: name is required", i)
	}
	if len(c.Load) == 0 {
		return fmt.Errorf("cases[%d] (%s): load list is required and must be non-empty", i, c.Name)
	}
	loaded := make(map[string]struct{}, len(c.Load))
	for j, id := range c.Load {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("cases[%d] (%s): load[%d]: undeclared library %q", i, c.Name, j, id)
		}
		if _, dup := loaded[id]; dup {
			return fmt.Errorf("cases[%d] (%s): load[%d]: library %q loaded twice", i, c.Name, j, id)
		}
		loaded[id] = struct{}{}
	}

	switch c.WantError {
	case "", StageOpen, StageResolve, StageInvoke:
	default:
		return fmt.Errorf("cases[%d] (%s): unknown want_error stage %q", i, c.Name, c.WantError)
	}
	if c.ErrorContains != "" && c.WantError == "" {
		return fmt.Errorf("cases[%d] (%s): error_contains requires want_error", i, c.Name)
	}

	for j := range c.Steps {
		if err := validateStep(i, c, j, loaded); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, c *Case, j int, loaded map[string]struct{}) error {
	st := &c.Steps[j]
	where := fmt.Sprintf("cases[%d] (%s): steps[%d]", i, c.Name, j)

	if st.Library == "" {
		return fmt.Errorf("%s: library is required", where)
	}
	if _, ok := loaded[st.Library]; !ok {
		return fmt.Errorf("%s: library %q is not in this case's load list", where, st.Library)
	}

	switch st.Op {
	case OpResolve, OpInvoke:
		if st.Symbol == "" {
			return fmt.Errorf("%s: symbol is required for %s", where, st.Op)
		}
		if _, err := abi.Parse(st.Signature); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	case OpClose:
		if st.Symbol != "" || st.Want != nil || st.WantNot != nil || st.WantSource != "" {
			return fmt.Errorf("%s: close takes only a library", where)
		}
	case "":
		return fmt.Errorf("%s: op is required", where)
	default:
		return fmt.Errorf("%s: unknown op %q", where, st.Op)
	}

	if st.Want != nil && st.WantNot != nil {
		return fmt.Errorf("%s: want and want_not are mutually exclusive", where)
	}
	if st.Op != OpInvoke && (st.Want != nil || st.WantNot != nil) {
		return fmt.Errorf("%s: want/want_not apply only to invoke", where)
	}
	if st.Op != OpResolve && st.WantSource != "" {
		return fmt.Errorf("%s: want_source applies only to resolve", where)
	}
	return nil
}

// Find walks dir for scenario files (.yaml/.yml), optionally filtered by
// a glob pattern against the file's base name without extension.
func Find(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scenario: scan %s: %w", dir, err)
	}
	return files, nil
}
