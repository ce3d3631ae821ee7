package symscope

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyClosed marks a second close, or any use of a library
	// after its close. Scenario logic that trips it has a bug, so it is
	// always reported rather than swallowed.
	ErrAlreadyClosed = errors.New("symscope: library is already closed")

	// ErrSessionEnded marks use of a session after End.
	ErrSessionEnded = errors.New("symscope: session has ended")
)

// LoadError reports a library that could not be opened: a missing file, a
// malformed image, or unresolved dependent symbols under eager binding.
// The loader's own diagnostic is preserved in Err.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("symscope: load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// SymbolNotFoundError reports a symbol with no definition visible from
// the queried library's lookup scope.
type SymbolNotFoundError struct {
	Library string
	Symbol  string
	Err     error
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("symscope: symbol %s not found in %s: %v", e.Symbol, e.Library, e.Err)
}

func (e *SymbolNotFoundError) Unwrap() error {
	return e.Err
}

// InvocationError reports a call that could not be completed: the owning
// library left the Loaded state, or the call itself failed. Invocation
// failures are fatal to a scenario; nothing retries them.
type InvocationError struct {
	Library string
	Symbol  string
	Err     error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("symscope: invoke %s in %s: %v", e.Symbol, e.Library, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
