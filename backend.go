package symscope

import (
	"github.com/sliverarmory/symscope/abi"
	"github.com/sliverarmory/symscope/dynlink"
	"github.com/sliverarmory/symscope/wasmlink"
)

// Backend abstracts a loader behind a session: the OS dynamic loader or
// the in-process wasm environment.
type Backend interface {
	// Name identifies the backend in reports.
	Name() string
	// DefaultGlobal reports whether a platform-default open joins the
	// global symbol scope on this backend.
	DefaultGlobal() bool
	// Open loads a library by file path, or by bare name through the
	// backend's search path.
	Open(name string, global bool) (Handle, error)
}

// Handle is an open library inside a backend.
type Handle interface {
	Name() string
	Symbol(name string) (Symbol, error)
	Exports() ([]string, error)
	Close() error
}

// Symbol is a resolved definition, valid while its library stays open.
type Symbol interface {
	Name() string
	Addr() uintptr
	Source() string
	Call(sig abi.Signature, args []int64) (int64, error)
}

// NativeBackend loads through the operating system's dynamic loader.
func NativeBackend() Backend {
	return nativeBackend{}
}

type nativeBackend struct{}

func (nativeBackend) Name() string {
	return "native"
}

func (nativeBackend) DefaultGlobal() bool {
	return dynlink.DefaultVisibilityGlobal()
}

func (nativeBackend) Open(name string, global bool) (Handle, error) {
	lib, err := dynlink.Open(name, global)
	if err != nil {
		return nil, err
	}
	return nativeHandle{lib}, nil
}

type nativeHandle struct {
	*dynlink.Library
}

func (h nativeHandle) Symbol(name string) (Symbol, error) {
	sym, err := h.Library.Symbol(name)
	if err != nil {
		return nil, err
	}
	return sym, nil
}

// WithDefaultVisibility wraps a backend, overriding the platform-default
// visibility capability it reports. Scenarios written against one policy
// can then run unchanged on a platform whose own default differs.
func WithDefaultVisibility(b Backend, global bool) Backend {
	return overrideBackend{Backend: b, global: global}
}

type overrideBackend struct {
	Backend
	global bool
}

func (o overrideBackend) DefaultGlobal() bool {
	return o.global
}

// WasmBackend loads WebAssembly modules into env.
func WasmBackend(env *wasmlink.Env) Backend {
	return wasmBackend{env}
}

type wasmBackend struct {
	env *wasmlink.Env
}

func (b wasmBackend) Name() string {
	return "wasm"
}

func (b wasmBackend) DefaultGlobal() bool {
	return false
}

func (b wasmBackend) Open(name string, global bool) (Handle, error) {
	mod, err := b.env.Open(name, global)
	if err != nil {
		return nil, err
	}
	return wasmHandle{mod}, nil
}

type wasmHandle struct {
	*wasmlink.Module
}

func (h wasmHandle) Symbol(name string) (Symbol, error) {
	sym, err := h.Module.Symbol(name)
	if err != nil {
		return nil, err
	}
	return sym, nil
}
