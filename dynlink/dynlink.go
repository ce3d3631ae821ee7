// Package dynlink wraps the operating system's dynamic loader. It opens
// shared libraries from on-disk paths (or bare sonames through the system
// search path), resolves exported symbols, attributes resolved addresses
// back to the file that defines them, and invokes resolved functions with
// small integer signatures.
//
// Loads always bind eagerly (RTLD_NOW) so a library with unresolved
// dependent symbols fails at open time rather than at first call.
package dynlink

import (
	"errors"
	"runtime"
)

var (
	// ErrClosed is returned when a library handle is used after Close.
	ErrClosed = errors.New("dynlink: library closed")

	// ErrUnsupported is returned on platforms without a usable loader.
	ErrUnsupported = errors.New("dynlink: unsupported platform")
)

// DefaultVisibilityGlobal reports whether a plain dlopen on this platform
// admits the library into the global symbol scope. Darwin does; glibc and
// musl default to RTLD_LOCAL.
func DefaultVisibilityGlobal() bool {
	return runtime.GOOS == "darwin"
}
