//go:build linux && (amd64 || arm64)

package symscope_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/sliverarmory/symscope"
	"github.com/sliverarmory/symscope/internal/fixture"
)

func TestNativeLocalBindsOwnDefinition(t *testing.T) {
	cc := fixture.RequireCC(t)
	dir := t.TempDir()
	path := fixture.BuildSharedLib(t, cc, dir, "libfoo.so", fixture.SquareSrc)

	sess := symscope.NewNativeSession()
	defer sess.End()

	lib, err := sess.Open(symscope.LibrarySpec{ID: "foo", Path: path, Visibility: symscope.VisibilityLocal})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r, err := sess.Resolve(symscope.SymbolQuery{Library: lib, Symbol: "square"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.BoundPath != path {
		t.Errorf("BoundPath = %q, want %q", r.BoundPath, path)
	}
	if r.BoundLibrary != "foo" {
		t.Errorf("BoundLibrary = %q, want foo", r.BoundLibrary)
	}
	if r.Predicted.Kind != symscope.BindSelf || r.Predicted.Source != "foo" {
		t.Errorf("Predicted = %v, want self:foo", r.Predicted)
	}

	got, err := sess.Invoke(r, 3)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != 9 {
		t.Errorf("square(3) = %d, want 9", got)
	}
}

func TestNativeGlobalOverrideSatisfiesDependent(t *testing.T) {
	cc := fixture.RequireCC(t)
	fooDir := t.TempDir()
	barDir := t.TempDir()
	fooPath := fixture.BuildSharedLib(t, cc, fooDir, "libfoo.so", fixture.SquareSrc)
	barPath := fixture.BuildSharedLib(t, cc, barDir, "libbar.so", fixture.PowerFourSrc)

	sess := symscope.NewNativeSession()
	defer sess.End()

	if _, err := sess.Open(symscope.LibrarySpec{ID: "a", Path: fooPath, Visibility: symscope.VisibilityGlobal}); err != nil {
		t.Fatalf("Open(a): %v", err)
	}
	bar, err := sess.Open(symscope.LibrarySpec{ID: "bar", Path: barPath, Visibility: symscope.VisibilityLocal})
	if err != nil {
		t.Fatalf("Open(bar) with global provider loaded: %v", err)
	}

	if source, ok := sess.Scope().Lookup("square"); !ok || source != "a" {
		t.Errorf("scope Lookup(square) = %q, %v; want a, true", source, ok)
	}

	r, err := sess.Resolve(symscope.SymbolQuery{Library: bar, Symbol: "power_four"})
	if err != nil {
		t.Fatalf("Resolve(power_four): %v", err)
	}
	if r.BoundLibrary != "bar" {
		t.Errorf("BoundLibrary = %q, want bar", r.BoundLibrary)
	}

	got, err := sess.Invoke(r, 2)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != 16 {
		t.Errorf("power_four(2) = %d, want 16 through the global square", got)
	}
}

func TestNativeOpenFailsWithoutProvider(t *testing.T) {
	cc := fixture.RequireCC(t)
	dir := t.TempDir()
	barPath := fixture.BuildSharedLib(t, cc, dir, "libbar.so", fixture.PowerFourSrc)

	sess := symscope.NewNativeSession()
	defer sess.End()

	_, err := sess.Open(symscope.LibrarySpec{ID: "bar", Path: barPath, Visibility: symscope.VisibilityLocal})
	var loadErr *symscope.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Open = %v, want LoadError", err)
	}
	if !strings.Contains(err.Error(), "square") {
		t.Errorf("LoadError %q does not preserve the unresolved symbol", err)
	}
}

func TestNativeIdenticalNamesStayIsolated(t *testing.T) {
	cc := fixture.RequireCC(t)
	aDir := t.TempDir()
	bDir := t.TempDir()
	aPath := fixture.BuildSharedLib(t, cc, aDir, "libfoo.so", fixture.SquareSrc)
	bPath := fixture.BuildSharedLib(t, cc, bDir, "libfoo.so", fixture.CubeSquareSrc)

	sess := symscope.NewNativeSession()
	defer sess.End()

	a, err := sess.Open(symscope.LibrarySpec{ID: "a", Path: aPath, Visibility: symscope.VisibilityLocal})
	if err != nil {
		t.Fatalf("Open(a): %v", err)
	}
	b, err := sess.Open(symscope.LibrarySpec{ID: "b", Path: bPath, Visibility: symscope.VisibilityLocal})
	if err != nil {
		t.Fatalf("Open(b): %v", err)
	}

	ra, err := sess.Resolve(symscope.SymbolQuery{Library: a, Symbol: "square"})
	if err != nil {
		t.Fatalf("Resolve(a, square): %v", err)
	}
	rb, err := sess.Resolve(symscope.SymbolQuery{Library: b, Symbol: "square"})
	if err != nil {
		t.Fatalf("Resolve(b, square): %v", err)
	}

	if ra.BoundPath == rb.BoundPath {
		t.Errorf("both handles bound %q, want distinct definitions", ra.BoundPath)
	}
	if ra.BoundLibrary != "a" || rb.BoundLibrary != "b" {
		t.Errorf("BoundLibrary = %q/%q, want a/b", ra.BoundLibrary, rb.BoundLibrary)
	}

	gotA, err := sess.Invoke(ra, 3)
	if err != nil {
		t.Fatal(err)
	}
	gotB, err := sess.Invoke(rb, 3)
	if err != nil {
		t.Fatal(err)
	}
	if gotA != 9 || gotB != 27 {
		t.Errorf("square(3) = %d/%d, want 9/27", gotA, gotB)
	}
}

func TestNativeDependencyResolvesThroughRunpath(t *testing.T) {
	cc := fixture.RequireCC(t)
	fooDir := t.TempDir()
	barDir := t.TempDir()
	fooPath := fixture.BuildSharedLib(t, cc, fooDir, "libfoo.so", fixture.SquareSrc,
		fixture.Soname("libfoo.so"))
	barPath := fixture.BuildSharedLib(t, cc, barDir, "libbar.so", fixture.PowerFourSrc,
		"-L"+fooDir, "-lfoo", fixture.Rpath(fooDir))

	sess := symscope.NewNativeSession()
	defer sess.End()

	bar, err := sess.Open(symscope.LibrarySpec{ID: "bar", Path: barPath, Visibility: symscope.VisibilityLocal})
	if err != nil {
		t.Fatalf("Open(bar): %v", err)
	}

	// The dependency was loaded behind the session's back, so binding
	// attribution falls back to the file's base name.
	r, err := sess.Resolve(symscope.SymbolQuery{Library: bar, Symbol: "square"})
	if err != nil {
		t.Fatalf("Resolve(square): %v", err)
	}
	if r.BoundPath != fooPath {
		t.Errorf("BoundPath = %q, want %q", r.BoundPath, fooPath)
	}
	if r.BoundLibrary != "libfoo.so" {
		t.Errorf("BoundLibrary = %q, want libfoo.so", r.BoundLibrary)
	}

	rp, err := sess.Resolve(symscope.SymbolQuery{Library: bar, Symbol: "power_four"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := sess.Invoke(rp, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got != 16 {
		t.Errorf("power_four(2) = %d, want 16", got)
	}
}

func TestNativeSonameCollisionRedirectsDependency(t *testing.T) {
	cc := fixture.RequireCC(t)
	goodDir := t.TempDir()
	badDir := t.TempDir()
	barDir := t.TempDir()
	fixture.BuildSharedLib(t, cc, goodDir, "libfoo.so", fixture.SquareSrc,
		fixture.Soname("libfoo.so"))
	badPath := fixture.BuildSharedLib(t, cc, badDir, "libfoo.so", fixture.CubeSquareSrc,
		fixture.Soname("libfoo.so"))
	barPath := fixture.BuildSharedLib(t, cc, barDir, "libbar.so", fixture.PowerFourSrc,
		"-L"+goodDir, "-lfoo", fixture.Rpath(goodDir))

	sess := symscope.NewNativeSession()
	defer sess.End()

	// The erroneous library is loaded first. Its soname matches libbar's
	// DT_NEEDED entry, so the loader reuses it instead of mapping the
	// good copy from the run-path.
	if _, err := sess.Open(symscope.LibrarySpec{ID: "bad", Path: badPath, Visibility: symscope.VisibilityLocal}); err != nil {
		t.Fatalf("Open(bad): %v", err)
	}
	bar, err := sess.Open(symscope.LibrarySpec{ID: "bar", Path: barPath, Visibility: symscope.VisibilityLocal})
	if err != nil {
		t.Fatalf("Open(bar): %v", err)
	}

	r, err := sess.Resolve(symscope.SymbolQuery{Library: bar, Symbol: "square"})
	if err != nil {
		t.Fatalf("Resolve(square): %v", err)
	}
	if r.BoundPath != badPath {
		t.Errorf("BoundPath = %q, want the erroneous copy %q", r.BoundPath, badPath)
	}
	if r.BoundLibrary != "bad" {
		t.Errorf("BoundLibrary = %q, want bad", r.BoundLibrary)
	}

	rp, err := sess.Resolve(symscope.SymbolQuery{Library: bar, Symbol: "power_four"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := sess.Invoke(rp, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got != 64 {
		t.Errorf("power_four(2) = %d, want 64 through the erroneous square", got)
	}
	if got == 16 {
		t.Error("dependency unexpectedly bound the good square")
	}
}

func TestNativeCloseInvalidatesResolution(t *testing.T) {
	cc := fixture.RequireCC(t)
	dir := t.TempDir()
	path := fixture.BuildSharedLib(t, cc, dir, "libfoo.so", fixture.SquareSrc)

	sess := symscope.NewNativeSession()
	defer sess.End()

	lib, err := sess.Open(symscope.LibrarySpec{ID: "foo", Path: path})
	if err != nil {
		t.Fatal(err)
	}
	r, err := sess.Resolve(symscope.SymbolQuery{Library: lib, Symbol: "square"})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(lib); err != nil {
		t.Fatal(err)
	}

	var invErr *symscope.InvocationError
	if _, err := sess.Invoke(r, 3); !errors.As(err, &invErr) {
		t.Fatalf("Invoke after close = %v, want InvocationError", err)
	}
}

func TestNativeRepeatedResolveIsCached(t *testing.T) {
	cc := fixture.RequireCC(t)
	dir := t.TempDir()
	path := fixture.BuildSharedLib(t, cc, dir, "libfoo.so", fixture.SquareSrc)

	sess := symscope.NewNativeSession()
	defer sess.End()

	lib, err := sess.Open(symscope.LibrarySpec{ID: "foo", Path: path})
	if err != nil {
		t.Fatal(err)
	}
	q := symscope.SymbolQuery{Library: lib, Symbol: "square"}
	first, err := sess.Resolve(q)
	if err != nil {
		t.Fatal(err)
	}
	second, err := sess.Resolve(q)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("repeated Resolve re-resolved instead of returning the cached result")
	}
}

func TestNativePreferSystemFallsBackToPath(t *testing.T) {
	cc := fixture.RequireCC(t)
	dir := t.TempDir()
	path := fixture.BuildSharedLib(t, cc, dir, "libscopefixture.so", fixture.SquareSrc)

	sess := symscope.NewNativeSession()
	defer sess.End()

	// Nothing on the system search path exports this soname, so the open
	// falls back to the explicit path.
	lib, err := sess.Open(symscope.LibrarySpec{ID: "foo", Path: path, PreferSystem: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if lib.OpenedAs() != path {
		t.Errorf("OpenedAs = %q, want %q", lib.OpenedAs(), path)
	}
}

func TestNativePreferSystemHitsSearchPath(t *testing.T) {
	sess := symscope.NewNativeSession()
	defer sess.End()

	lib, err := sess.Open(symscope.LibrarySpec{
		ID:           "m",
		Path:         "/definitely/not/here/libm.so.6",
		PreferSystem: true,
	})
	if err != nil {
		t.Skipf("no system libm.so.6: %v", err)
	}
	if lib.OpenedAs() != "libm.so.6" {
		t.Errorf("OpenedAs = %q, want bare libm.so.6", lib.OpenedAs())
	}
}
