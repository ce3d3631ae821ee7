//go:build (linux || darwin) && (amd64 || arm64)

package dynlink

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"

	"github.com/sliverarmory/symscope/abi"
)

// SyscallN tops out at this many integer arguments.
const maxCallArgs = 15

// Library is an open shared-library handle.
type Library struct {
	mu     sync.RWMutex
	handle uintptr
	name   string
	closed bool
}

// Open loads the named library. A bare name (no path separator) goes
// through the system search path; anything else is opened as a file path.
// When global is set the library's exports join the process-wide scope and
// can satisfy unresolved references in later loads.
func Open(name string, global bool) (*Library, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("dynlink: empty library name")
	}
	if err := preflight(name); err != nil {
		return nil, err
	}

	mode := purego.RTLD_NOW
	if global {
		mode |= purego.RTLD_GLOBAL
	} else {
		mode |= purego.RTLD_LOCAL
	}
	handle, err := purego.Dlopen(name, mode)
	if err != nil {
		// err carries the dlerror text verbatim.
		return nil, fmt.Errorf("dlopen(%s): %w", name, err)
	}
	return &Library{handle: handle, name: name}, nil
}

// preflight rejects unreadable explicit paths before they reach dlopen,
// which keeps the common "no such file" case cheap and unambiguous. Bare
// sonames are left to the loader's search path.
func preflight(name string) error {
	if !strings.ContainsRune(name, filepath.Separator) {
		return nil
	}
	if err := unix.Access(name, unix.R_OK); err != nil {
		return fmt.Errorf("access %s: %w", name, err)
	}
	return nil
}

// Name returns the string the library was opened with.
func (l *Library) Name() string {
	return l.name
}

// Symbol resolves name through this handle's lookup scope: the library
// itself plus its dependency subtree. Symbols visible only in the global
// scope are not found here; that is the loader's own behavior and the
// harness models it rather than papering over it.
func (l *Library) Symbol(name string) (*Symbol, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("dynlink: empty symbol name")
	}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, fmt.Errorf("dlsym(%s): %w", name, ErrClosed)
	}
	handle := l.handle
	l.mu.RUnlock()

	addr, err := purego.Dlsym(handle, name)
	if err != nil {
		return nil, fmt.Errorf("dlsym(%s): %w", name, err)
	}
	if addr == 0 {
		return nil, fmt.Errorf("dlsym(%s): symbol address is nil", name)
	}
	return &Symbol{name: name, addr: addr}, nil
}

// Exports lists the defined dynamic symbols of the library file. For a
// bare-soname open there is no file path to inspect and an error is
// returned; callers treat that as an unknown export set.
func (l *Library) Exports() ([]string, error) {
	info, err := Inspect(l.name)
	if err != nil {
		return nil, err
	}
	return info.Exports, nil
}

// Close releases the handle. Closing twice is an error.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("dlclose(%s): %w", l.name, ErrClosed)
	}
	l.closed = true
	if err := purego.Dlclose(l.handle); err != nil {
		return fmt.Errorf("dlclose(%s): %w", l.name, err)
	}
	l.handle = 0
	return nil
}

// Symbol is a resolved symbol address. It stays valid only while the
// library that produced it remains open.
type Symbol struct {
	name string
	addr uintptr
}

func (s *Symbol) Name() string {
	return s.name
}

func (s *Symbol) Addr() uintptr {
	return s.addr
}

// Source reports the path of the object that defines the symbol's address,
// asking dladdr first and falling back to the process map. Empty when
// neither can place the address.
func (s *Symbol) Source() string {
	if path := dladdrPath(s.addr); path != "" {
		return path
	}
	return sourceFromMaps(s.addr)
}

// Call invokes the symbol with the given signature. The owning library
// must still be open; calling through a closed library's address is
// undefined and the caller is expected to guard against it.
func (s *Symbol) Call(sig abi.Signature, args []int64) (int64, error) {
	if err := sig.CheckArgs(len(args)); err != nil {
		return 0, err
	}
	if len(args) > maxCallArgs {
		return 0, fmt.Errorf("dynlink: call %s: too many arguments (%d)", s.name, len(args))
	}

	in := make([]uintptr, len(args))
	for i, arg := range args {
		switch sig.Params[i] {
		case abi.Int32:
			in[i] = uintptr(uint32(int32(arg)))
		default:
			in[i] = uintptr(arg)
		}
	}
	r1, _, _ := purego.SyscallN(s.addr, in...)
	switch sig.Result {
	case abi.Void:
		return 0, nil
	case abi.Int32:
		return int64(int32(uint32(r1))), nil
	default:
		return int64(r1), nil
	}
}

var (
	dladdrOnce sync.Once
	dladdrAddr uintptr
)

// dlInfo mirrors the C Dl_info struct: four pointer-sized fields.
type dlInfo struct {
	fname uintptr
	fbase uintptr
	sname uintptr
	saddr uintptr
}

func dladdrPath(addr uintptr) string {
	dladdrOnce.Do(func() {
		dladdrAddr, _ = purego.Dlsym(purego.RTLD_DEFAULT, "dladdr")
	})
	if dladdrAddr == 0 || addr == 0 {
		return ""
	}
	var info dlInfo
	ret, _, _ := purego.SyscallN(dladdrAddr, addr, uintptr(unsafe.Pointer(&info)))
	if ret == 0 {
		return ""
	}
	path := cStringFromPtr(info.fname)
	runtime.KeepAlive(&info)
	return path
}

func cStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	const maxLen = 1 << 20
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		ch := *(*byte)(unsafe.Pointer(ptr + uintptr(i)))
		if ch == 0 {
			return string(buf)
		}
		buf = append(buf, ch)
	}
	return string(buf)
}
