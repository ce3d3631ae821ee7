// Package wasmlink gives WebAssembly modules the same open, resolve,
// invoke, close lifecycle that dynlink gives native shared libraries. It
// is fully hermetic: modules come from files, run in-process under
// wazero, and leave no process-global state behind, which makes it the
// backend of choice for exercising harness logic without touching the OS
// loader.
//
// Visibility is emulated with an explicit scope table. A module opened
// global contributes its exports to the table, first definition of a name
// winning. A module whose imports name "env" binds them against the table
// at open time; an import with no provider fails the open, matching eager
// native binding. Bindings taken at open time never rebind afterwards.
package wasmlink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/sliverarmory/symscope/abi"
)

// Modules import shared symbols from this pseudo-module name.
const ScopeModule = "env"

var (
	// ErrClosed is returned when a module handle is used after Close.
	ErrClosed = errors.New("wasmlink: module closed")

	// ErrEnvClosed is returned when an Env is used after Close.
	ErrEnvClosed = errors.New("wasmlink: environment closed")
)

// Env hosts the modules of one resolution session.
type Env struct {
	ctx   context.Context
	cache wazero.CompilationCache

	mu      sync.Mutex
	scope   []*binding
	modules []*Module
	symSeq  uintptr
	closed  bool
}

// binding is one admitted entry of the shared scope.
type binding struct {
	symbol  string
	owner   *Module
	fn      api.Function
	params  []api.ValueType
	results []api.ValueType
}

// New returns an empty environment. The context is used for every wazero
// call the environment makes over its lifetime.
func New(ctx context.Context) *Env {
	return &Env{ctx: ctx, cache: wazero.NewCompilationCache()}
}

// Module is an instantiated wasm module.
//
// Each module runs in its own wazero runtime so that its import bindings
// live in a private scope instance. Later admissions to the shared table
// then cannot disturb what an earlier module already bound.
type Module struct {
	env      *Env
	rt       wazero.Runtime
	compiled wazero.CompiledModule
	mod      api.Module
	path     string
	global   bool
	closed   bool
	imports  map[string]*binding
}

// Open reads, compiles, and instantiates the module at path. When global
// is set its exports are admitted to the shared scope. Every function
// import must name ScopeModule and have a provider already admitted;
// otherwise the open fails.
func (e *Env) Open(path string, global bool) (*Module, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEnvClosed
	}

	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wasmlink: read %s: %w", path, err)
	}

	rt := wazero.NewRuntimeWithConfig(e.ctx,
		wazero.NewRuntimeConfig().WithCompilationCache(e.cache))
	compiled, err := rt.CompileModule(e.ctx, bin)
	if err != nil {
		_ = rt.Close(e.ctx)
		return nil, fmt.Errorf("wasmlink: compile %s: %w", path, err)
	}

	imports, err := e.bindImportsLocked(path, compiled)
	if err != nil {
		_ = rt.Close(e.ctx)
		return nil, err
	}
	if len(imports) > 0 {
		builder := rt.NewHostModuleBuilder(ScopeModule)
		for _, symbol := range sortedKeys(imports) {
			b := imports[symbol]
			builder = builder.NewFunctionBuilder().
				WithGoFunction(dispatcher(b), b.params, b.results).
				Export(symbol)
		}
		if _, err := builder.Instantiate(e.ctx); err != nil {
			_ = rt.Close(e.ctx)
			return nil, fmt.Errorf("wasmlink: bind imports of %s: %w", path, err)
		}
	}

	mod, err := rt.InstantiateModule(e.ctx, compiled,
		wazero.NewModuleConfig().WithName(path))
	if err != nil {
		_ = rt.Close(e.ctx)
		return nil, fmt.Errorf("wasmlink: instantiate %s: %w", path, err)
	}

	m := &Module{
		env:      e,
		rt:       rt,
		compiled: compiled,
		mod:      mod,
		path:     path,
		global:   global,
		imports:  imports,
	}
	if global {
		e.admitLocked(m)
	}
	e.modules = append(e.modules, m)
	return m, nil
}

// bindImportsLocked matches a compiled module's function imports against
// the current scope, failing on the first one without a provider.
func (e *Env) bindImportsLocked(path string, compiled wazero.CompiledModule) (map[string]*binding, error) {
	var imports map[string]*binding
	for _, def := range compiled.ImportedFunctions() {
		modName, symbol, _ := def.Import()
		if modName != ScopeModule {
			return nil, fmt.Errorf("wasmlink: open %s: unresolved import %s.%s", path, modName, symbol)
		}
		b := e.lookupLocked(symbol)
		if b == nil {
			return nil, fmt.Errorf("wasmlink: open %s: unresolved import %s.%s", path, modName, symbol)
		}
		if !typesEqual(def.ParamTypes(), b.params) || !typesEqual(def.ResultTypes(), b.results) {
			return nil, fmt.Errorf("wasmlink: open %s: import %s.%s: type mismatch with provider %s",
				path, modName, symbol, b.owner.path)
		}
		if imports == nil {
			imports = make(map[string]*binding)
		}
		imports[symbol] = b
	}
	return imports, nil
}

// dispatcher forwards a bound import into its provider. A provider closed
// after binding turns the call into a trap, surfaced as an error by the
// outermost Call.
func dispatcher(b *binding) api.GoFunc {
	return func(ctx context.Context, stack []uint64) {
		results, err := b.fn.Call(ctx, stack[:len(b.params)]...)
		if err != nil {
			panic(err)
		}
		copy(stack, results)
	}
}

// admitLocked adds the module's exports to the scope, in name order for
// determinism, skipping names that already have a definition.
func (e *Env) admitLocked(m *Module) {
	exports := m.compiled.ExportedFunctions()
	for _, symbol := range sortedKeys(exports) {
		if e.lookupLocked(symbol) != nil {
			continue
		}
		fn := m.mod.ExportedFunction(symbol)
		if fn == nil {
			continue
		}
		def := exports[symbol]
		e.scope = append(e.scope, &binding{
			symbol:  symbol,
			owner:   m,
			fn:      fn,
			params:  def.ParamTypes(),
			results: def.ResultTypes(),
		})
	}
}

func (e *Env) lookupLocked(symbol string) *binding {
	for _, b := range e.scope {
		if b.symbol == symbol {
			return b
		}
	}
	return nil
}

// ScopeProviders lists the owners of current scope entries in admission
// order, one path per admitted symbol.
func (e *Env) ScopeProviders() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.scope))
	for _, b := range e.scope {
		out[b.symbol] = b.owner.path
	}
	return out
}

// Close shuts down every module and the shared compilation cache.
func (e *Env) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	for _, m := range e.modules {
		if m.closed {
			continue
		}
		m.closed = true
		if err := m.rt.Close(e.ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", m.path, err))
		}
	}
	e.scope = nil
	if err := e.cache.Close(e.ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Name returns the path the module was opened from.
func (m *Module) Name() string {
	return m.path
}

// Symbol resolves an exported function. Exports that merely re-export an
// import are attributed to the import's provider.
func (m *Module) Symbol(name string) (*Symbol, error) {
	e := m.env
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("wasmlink: lookup %s in %s: %w", name, m.path, ErrClosed)
	}

	fn := m.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("wasmlink: lookup %s in %s: not exported", name, m.path)
	}

	source := m.path
	if def := fn.Definition(); def.ModuleName() == ScopeModule {
		if b, ok := m.imports[name]; ok {
			source = b.owner.path
		}
	}

	e.symSeq++
	return &Symbol{
		env:    e,
		mod:    m,
		name:   name,
		fn:     fn,
		source: source,
		addr:   e.symSeq,
	}, nil
}

// Exports lists the module's exported function names.
func (m *Module) Exports() ([]string, error) {
	e := m.env
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("wasmlink: exports of %s: %w", m.path, ErrClosed)
	}
	return sortedKeys(m.compiled.ExportedFunctions()), nil
}

// Close tears down the module's runtime and withdraws its scope entries.
// Imports other modules already bound to it keep their binding and trap
// if called afterwards.
func (m *Module) Close() error {
	e := m.env
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.closed {
		return fmt.Errorf("wasmlink: close %s: %w", m.path, ErrClosed)
	}
	m.closed = true

	kept := e.scope[:0]
	for _, b := range e.scope {
		if b.owner != m {
			kept = append(kept, b)
		}
	}
	e.scope = kept

	if err := m.rt.Close(e.ctx); err != nil {
		return fmt.Errorf("wasmlink: close %s: %w", m.path, err)
	}
	return nil
}

// Symbol is a resolved wasm export.
type Symbol struct {
	env    *Env
	mod    *Module
	name   string
	fn     api.Function
	source string
	addr   uintptr
}

func (s *Symbol) Name() string {
	return s.name
}

// Addr returns a session-unique pseudo-address. Wasm functions have no
// machine address; the value only needs to be stable and nonzero.
func (s *Symbol) Addr() uintptr {
	return s.addr
}

// Source reports the path of the module whose definition the symbol is
// bound to.
func (s *Symbol) Source() string {
	return s.source
}

// Call invokes the function with the given signature.
func (s *Symbol) Call(sig abi.Signature, args []int64) (int64, error) {
	if err := sig.CheckArgs(len(args)); err != nil {
		return 0, err
	}

	e := s.env
	e.mu.Lock()
	if s.mod.closed {
		e.mu.Unlock()
		return 0, fmt.Errorf("wasmlink: call %s: %w", s.name, ErrClosed)
	}
	e.mu.Unlock()

	params := make([]uint64, len(args))
	for i, arg := range args {
		switch sig.Params[i] {
		case abi.Int32:
			params[i] = api.EncodeI32(int32(arg))
		default:
			params[i] = api.EncodeI64(arg)
		}
	}
	results, err := s.fn.Call(e.ctx, params...)
	if err != nil {
		return 0, fmt.Errorf("wasmlink: call %s: %w", s.name, err)
	}

	switch sig.Result {
	case abi.Void:
		return 0, nil
	case abi.Int32:
		if len(results) == 0 {
			return 0, fmt.Errorf("wasmlink: call %s: no result", s.name)
		}
		return int64(api.DecodeI32(results[0])), nil
	default:
		if len(results) == 0 {
			return 0, fmt.Errorf("wasmlink: call %s: no result", s.name)
		}
		return int64(results[0]), nil
	}
}

func typesEqual(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
