//go:build linux && (amd64 || arm64)

package dynlink_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sliverarmory/symscope/abi"
	"github.com/sliverarmory/symscope/dynlink"
	"github.com/sliverarmory/symscope/internal/fixture"
)

func TestOpenAndCall(t *testing.T) {
	cc := fixture.RequireCC(t)
	dir := t.TempDir()
	path := fixture.BuildSharedLib(t, cc, dir, "libfoo.so", fixture.SquareSrc)

	lib, err := dynlink.Open(path, false)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer lib.Close()

	sym, err := lib.Symbol("square")
	if err != nil {
		t.Fatalf("Symbol(square): %v", err)
	}
	if sym.Addr() == 0 {
		t.Fatal("Symbol(square): zero address")
	}
	if src := sym.Source(); src != path {
		t.Errorf("Source() = %q, want %q", src, path)
	}

	got, err := sym.Call(abi.Default, []int64{3})
	if err != nil {
		t.Fatalf("Call(3): %v", err)
	}
	if got != 9 {
		t.Errorf("square(3) = %d, want 9", got)
	}
}

func TestResolveMissingSymbol(t *testing.T) {
	cc := fixture.RequireCC(t)
	dir := t.TempDir()
	path := fixture.BuildSharedLib(t, cc, dir, "libfoo.so", fixture.SquareSrc)

	lib, err := dynlink.Open(path, false)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer lib.Close()

	if _, err := lib.Symbol("no_such_symbol"); err == nil {
		t.Fatal("Symbol(no_such_symbol) succeeded, want error")
	} else if !strings.Contains(err.Error(), "no_such_symbol") {
		t.Errorf("error %q does not name the symbol", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.so")
	if _, err := dynlink.Open(path, false); err == nil {
		t.Fatal("Open of a missing file succeeded")
	} else if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q does not name the path", err)
	}
}

func TestEagerBindingFailsWithoutProvider(t *testing.T) {
	cc := fixture.RequireCC(t)
	dir := t.TempDir()
	path := fixture.BuildSharedLib(t, cc, dir, "libbar.so", fixture.PowerFourSrc)

	_, err := dynlink.Open(path, false)
	if err == nil {
		t.Fatal("Open of a dependent with no provider succeeded")
	}
	if !strings.Contains(err.Error(), "square") {
		t.Errorf("error %q does not name the unresolved symbol", err)
	}
}

func TestGlobalProviderSatisfiesDependent(t *testing.T) {
	cc := fixture.RequireCC(t)
	fooDir := t.TempDir()
	barDir := t.TempDir()
	fooPath := fixture.BuildSharedLib(t, cc, fooDir, "libfoo.so", fixture.SquareSrc)
	barPath := fixture.BuildSharedLib(t, cc, barDir, "libbar.so", fixture.PowerFourSrc)

	foo, err := dynlink.Open(fooPath, true)
	if err != nil {
		t.Fatalf("Open(%s): %v", fooPath, err)
	}
	defer foo.Close()

	bar, err := dynlink.Open(barPath, false)
	if err != nil {
		t.Fatalf("Open(%s) with global provider loaded: %v", barPath, err)
	}
	defer bar.Close()

	sym, err := bar.Symbol("power_four")
	if err != nil {
		t.Fatalf("Symbol(power_four): %v", err)
	}
	got, err := sym.Call(abi.Default, []int64{2})
	if err != nil {
		t.Fatalf("Call(2): %v", err)
	}
	if got != 16 {
		t.Errorf("power_four(2) = %d, want 16", got)
	}
}

func TestCloseTwice(t *testing.T) {
	cc := fixture.RequireCC(t)
	dir := t.TempDir()
	path := fixture.BuildSharedLib(t, cc, dir, "libfoo.so", fixture.SquareSrc)

	lib, err := dynlink.Open(path, false)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	if err := lib.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := lib.Close(); !errors.Is(err, dynlink.ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
}

func TestResolveAfterClose(t *testing.T) {
	cc := fixture.RequireCC(t)
	dir := t.TempDir()
	path := fixture.BuildSharedLib(t, cc, dir, "libfoo.so", fixture.SquareSrc)

	lib, err := dynlink.Open(path, false)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	if err := lib.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := lib.Symbol("square"); !errors.Is(err, dynlink.ErrClosed) {
		t.Errorf("Symbol after Close = %v, want ErrClosed", err)
	}
}

func TestInt64Signature(t *testing.T) {
	cc := fixture.RequireCC(t)
	dir := t.TempDir()
	path := fixture.BuildSharedLib(t, cc, dir, "libwide.so", fixture.Int64Src)

	lib, err := dynlink.Open(path, false)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer lib.Close()

	sym, err := lib.Symbol("mul64")
	if err != nil {
		t.Fatalf("Symbol(mul64): %v", err)
	}
	sig, err := abi.Parse("int64(int64, int64)")
	if err != nil {
		t.Fatal(err)
	}
	got, err := sym.Call(sig, []int64{3 << 32, 2})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if want := int64(6 << 32); got != want {
		t.Errorf("mul64(3<<32, 2) = %d, want %d", got, want)
	}
}

func TestInspectSplitsExportsAndImports(t *testing.T) {
	cc := fixture.RequireCC(t)
	fooDir := t.TempDir()
	barDir := t.TempDir()
	fooPath := fixture.BuildSharedLib(t, cc, fooDir, "libfoo.so", fixture.SquareSrc,
		fixture.Soname("libfoo.so"))
	barPath := fixture.BuildSharedLib(t, cc, barDir, "libbar.so", fixture.PowerFourSrc,
		"-L"+fooDir, "-lfoo", fixture.Rpath(fooDir))

	fooInfo, err := dynlink.Inspect(fooPath)
	if err != nil {
		t.Fatalf("Inspect(%s): %v", fooPath, err)
	}
	if fooInfo.Format != "elf" || fooInfo.Type != "ET_DYN" {
		t.Errorf("Inspect(libfoo) = format %q type %q", fooInfo.Format, fooInfo.Type)
	}
	if !containsString(fooInfo.Exports, "square") {
		t.Errorf("libfoo exports %v, want square among them", fooInfo.Exports)
	}

	barInfo, err := dynlink.Inspect(barPath)
	if err != nil {
		t.Fatalf("Inspect(%s): %v", barPath, err)
	}
	if !containsString(barInfo.Exports, "power_four") {
		t.Errorf("libbar exports %v, want power_four among them", barInfo.Exports)
	}
	if !containsString(barInfo.Imports, "square") {
		t.Errorf("libbar imports %v, want square among them", barInfo.Imports)
	}
	if !containsString(barInfo.Needed, "libfoo.so") {
		t.Errorf("libbar needed %v, want libfoo.so among them", barInfo.Needed)
	}
}

func TestInspectUnrecognizedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-library")
	if err := os.WriteFile(path, []byte("plain text\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := dynlink.Inspect(path); err == nil {
		t.Fatal("Inspect of a text file succeeded")
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
