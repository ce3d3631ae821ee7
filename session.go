// Package symscope runs symbol-resolution experiments against real
// loaders. A Session owns a set of loaded libraries, resolves and
// invokes symbols through them, and keeps an explicit model of the
// global symbol scope so binding outcomes can be predicted, observed,
// and compared against what the loader actually did.
package symscope

import (
	"errors"
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sliverarmory/symscope/abi"
)

// LibrarySpec describes one library load. It is immutable test input.
type LibrarySpec struct {
	// ID names the library within a session. Empty defaults to the base
	// name of Path.
	ID string
	// Path locates the library file.
	Path string
	Visibility Visibility
	// PreferSystem first tries the bare base name of Path through the
	// system search path, falling back to Path itself.
	PreferSystem bool
}

// LibState is a library's lifecycle state. The only walk is
// Unloaded -> Loaded -> Closed; Closed is terminal.
type LibState uint8

const (
	StateUnloaded LibState = iota
	StateLoaded
	StateClosed
)

func (s LibState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// LoadedLibrary is an open library owned by exactly one session. The
// session that opened it closes it exactly once.
type LoadedLibrary struct {
	spec     LibrarySpec
	handle   Handle
	state    LibState
	order    int
	openedAs string
	exports  []string
	global   bool
}

// ID returns the session-unique library name.
func (l *LoadedLibrary) ID() string {
	return l.spec.ID
}

// Spec returns the input that produced the load.
func (l *LoadedLibrary) Spec() LibrarySpec {
	return l.spec
}

func (l *LoadedLibrary) State() LibState {
	return l.state
}

// OpenedAs reports the name actually handed to the backend, which is the
// bare base name when PreferSystem found a system copy.
func (l *LoadedLibrary) OpenedAs() string {
	return l.openedAs
}

// Global reports the effective visibility after resolving a
// platform-default request.
func (l *LoadedLibrary) Global() bool {
	return l.global
}

// SymbolQuery names a symbol to resolve through a loaded library. A zero
// Signature (nil params) means abi.Default.
type SymbolQuery struct {
	Library   *LoadedLibrary
	Symbol    string
	Signature abi.Signature
}

// ResolutionResult is a successful resolution.
type ResolutionResult struct {
	Query SymbolQuery
	// Addr is the resolved address; for wasm a stable pseudo-address.
	Addr uintptr
	// BoundPath is the physical object the loader attributed the
	// definition to. Empty when the backend could not place it.
	BoundPath string
	// BoundLibrary is the session ID of the library owning BoundPath,
	// or the base name of BoundPath for objects the session did not
	// open itself.
	BoundLibrary string
	// Predicted is the scope model's expectation for the same query,
	// recorded so reports can surface model/loader divergence.
	Predicted Prediction

	sym Symbol
}

type resolveKey struct {
	lib    *LoadedLibrary
	symbol string
	sig    string
}

const resolveCacheSize = 256

// Session drives one load-resolve-invoke-close experiment. Sessions are
// single-threaded: operations block, and nothing retries or times out.
type Session struct {
	backend Backend
	scope   *GlobalScope
	libs    []*LoadedLibrary
	cache   *lru.Cache[resolveKey, *ResolutionResult]
	ended   bool
}

// NewSession builds a session over the given backend.
func NewSession(backend Backend) *Session {
	cache, err := lru.New[resolveKey, *ResolutionResult](resolveCacheSize)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(err)
	}
	return &Session{
		backend: backend,
		scope:   NewGlobalScope(backend.DefaultGlobal()),
		cache:   cache,
	}
}

// NewNativeSession builds a session over the OS dynamic loader.
func NewNativeSession() *Session {
	return NewSession(NativeBackend())
}

// Scope exposes the session's global-scope model.
func (s *Session) Scope() *GlobalScope {
	return s.scope
}

// Backend returns the loader the session runs against.
func (s *Session) Backend() Backend {
	return s.backend
}

// Libraries lists every library the session opened, in open order,
// whatever state each is in now.
func (s *Session) Libraries() []*LoadedLibrary {
	out := make([]*LoadedLibrary, len(s.libs))
	copy(out, s.libs)
	return out
}

// Open loads a library per its spec. Open failures are LoadErrors with
// the loader's diagnostic preserved. A load with effective global
// visibility admits the library's exports into the scope model.
func (s *Session) Open(spec LibrarySpec) (*LoadedLibrary, error) {
	if s.ended {
		return nil, ErrSessionEnded
	}
	if spec.Path == "" {
		return nil, &LoadError{Path: spec.Path, Err: errors.New("empty library path")}
	}
	if spec.ID == "" {
		spec.ID = filepath.Base(spec.Path)
	}
	for _, lib := range s.libs {
		if lib.spec.ID == spec.ID {
			return nil, &LoadError{Path: spec.Path, Err: fmt.Errorf("duplicate library id %q", spec.ID)}
		}
	}

	global := s.effectiveGlobal(spec.Visibility)

	var handle Handle
	openedAs := spec.Path
	if spec.PreferSystem {
		base := filepath.Base(spec.Path)
		if h, err := s.backend.Open(base, global); err == nil {
			handle = h
			openedAs = base
		}
	}
	if handle == nil {
		h, err := s.backend.Open(spec.Path, global)
		if err != nil {
			return nil, &LoadError{Path: spec.Path, Err: err}
		}
		handle = h
		openedAs = spec.Path
	}

	lib := &LoadedLibrary{
		spec:     spec,
		handle:   handle,
		state:    StateLoaded,
		order:    len(s.libs),
		openedAs: openedAs,
		global:   global,
	}
	// Export inspection is best-effort: a bare-soname open has no file
	// to parse, and the scope model simply knows less about it.
	if exports, err := handle.Exports(); err == nil {
		lib.exports = exports
	}
	if global {
		s.scope.Admit(spec.ID, lib.exports)
	}
	s.libs = append(s.libs, lib)
	return lib, nil
}

func (s *Session) effectiveGlobal(v Visibility) bool {
	switch v {
	case VisibilityGlobal:
		return true
	case VisibilityLocal:
		return false
	default:
		return s.backend.DefaultGlobal()
	}
}

// Resolve looks a symbol up through a library's handle and reports which
// physical object supplied the definition. Results are memoized per
// (library, symbol, signature) for the library's Loaded lifetime, so
// repeated resolution is idempotent and returns the identical result.
func (s *Session) Resolve(q SymbolQuery) (*ResolutionResult, error) {
	if s.ended {
		return nil, ErrSessionEnded
	}
	if q.Library == nil {
		return nil, errors.New("symscope: resolve: no library in query")
	}
	if q.Symbol == "" {
		return nil, errors.New("symscope: resolve: empty symbol name")
	}
	if q.Library.state != StateLoaded {
		return nil, fmt.Errorf("symscope: resolve %s in %s: %w", q.Symbol, q.Library.spec.ID, ErrAlreadyClosed)
	}
	if q.Signature.Params == nil {
		q.Signature = abi.Default
	}

	key := resolveKey{lib: q.Library, symbol: q.Symbol, sig: q.Signature.String()}
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	sym, err := q.Library.handle.Symbol(q.Symbol)
	if err != nil {
		return nil, &SymbolNotFoundError{Library: q.Library.spec.ID, Symbol: q.Symbol, Err: err}
	}

	boundPath := sym.Source()
	result := &ResolutionResult{
		Query:        q,
		Addr:         sym.Addr(),
		BoundPath:    boundPath,
		BoundLibrary: s.attribute(boundPath),
		Predicted:    s.scope.Predict(q.Symbol, q.Library.spec.ID, q.Library.exports),
		sym:          sym,
	}
	s.cache.Add(key, result)
	return result, nil
}

// attribute maps a physical path back to a session library ID, falling
// back to the path's base name for objects loaded behind the session's
// back (system libraries, dependencies).
func (s *Session) attribute(path string) string {
	if path == "" {
		return ""
	}
	clean := filepath.Clean(path)
	for _, lib := range s.libs {
		if filepath.Clean(lib.spec.Path) == clean || lib.openedAs == path {
			return lib.spec.ID
		}
	}
	return filepath.Base(path)
}

// Invoke calls a previously resolved symbol. The owning library must
// still be Loaded; anything else is an InvocationError, which scenario
// logic treats as fatal.
func (s *Session) Invoke(r *ResolutionResult, args ...int64) (int64, error) {
	if s.ended {
		return 0, ErrSessionEnded
	}
	if r == nil || r.sym == nil {
		return 0, &InvocationError{Err: errors.New("no resolution")}
	}
	lib := r.Query.Library
	if lib.state != StateLoaded {
		return 0, &InvocationError{Library: lib.spec.ID, Symbol: r.Query.Symbol, Err: ErrAlreadyClosed}
	}

	value, err := r.sym.Call(r.Query.Signature, args)
	if err != nil {
		return 0, &InvocationError{Library: lib.spec.ID, Symbol: r.Query.Symbol, Err: err}
	}
	return value, nil
}

// Close releases a library exactly once. A second close is an error, not
// a no-op: it means the scenario's close choreography is wrong.
func (s *Session) Close(lib *LoadedLibrary) error {
	if lib == nil {
		return errors.New("symscope: close: nil library")
	}
	return s.closeLibrary(lib)
}

func (s *Session) closeLibrary(lib *LoadedLibrary) error {
	if lib.state != StateLoaded {
		return fmt.Errorf("symscope: close %s: %w", lib.spec.ID, ErrAlreadyClosed)
	}
	lib.state = StateClosed
	if lib.global {
		s.scope.Withdraw(lib.spec.ID)
	}
	for _, key := range s.cache.Keys() {
		if key.lib == lib {
			s.cache.Remove(key)
		}
	}
	if err := lib.handle.Close(); err != nil {
		return fmt.Errorf("symscope: close %s: %w", lib.spec.ID, err)
	}
	return nil
}

// End closes every library still Loaded, in reverse open order, and
// seals the session. Ending twice is harmless.
func (s *Session) End() error {
	if s.ended {
		return nil
	}
	s.ended = true

	var errs []error
	for i := len(s.libs) - 1; i >= 0; i-- {
		lib := s.libs[i]
		if lib.state != StateLoaded {
			continue
		}
		if err := s.closeLibrary(lib); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
