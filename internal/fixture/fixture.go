// Package fixture compiles the throwaway shared libraries the tests load.
// Tests that need a fixture call RequireCC first and skip when the host has
// no C compiler; nothing here is used outside the test suites.
package fixture

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Fixture sources. The erroneous variant exports the same symbol name as
// the correct one but cubes its argument, which is what makes collision
// outcomes observable: power_four(2) is 16 through the correct square and
// 64 through the erroneous one.
const (
	SquareSrc     = "int square(int x) { return x * x; }\n"
	CubeSquareSrc = "int square(int x) { return x * x * x; }\n"
	PowerFourSrc  = "extern int square(int x);\n" +
		"int power_four(int x) { return square(x) * square(x); }\n"
	Int64Src = "long long mul64(long long a, long long b) { return a * b; }\n"
)

// RequireCC returns a C compiler from PATH, skipping the test without one.
func RequireCC(t testing.TB) string {
	t.Helper()
	for _, cc := range []string{"cc", "gcc", "clang"} {
		if path, err := exec.LookPath(cc); err == nil {
			return path
		}
	}
	t.Skip("no C compiler on PATH")
	return ""
}

// BuildSharedLib compiles src into dir/name with the given extra link
// flags and returns the output path.
func BuildSharedLib(t testing.TB, cc, dir, name, src string, extra ...string) string {
	t.Helper()

	base := strings.TrimSuffix(name, filepath.Ext(name))
	srcPath := filepath.Join(dir, base+".c")
	if err := os.WriteFile(srcPath, []byte(src), 0o644); err != nil {
		t.Fatalf("write %s: %v", srcPath, err)
	}

	outPath := filepath.Join(dir, name)
	args := []string{"-shared", "-fPIC", "-o", outPath, srcPath}
	args = append(args, extra...)
	out, err := exec.Command(cc, args...).CombinedOutput()
	if err != nil {
		t.Fatalf("build %s: %v\n%s", name, err, out)
	}
	return outPath
}

// Soname returns the linker flag pinning a library's soname, which is what
// the loader deduplicates DT_NEEDED entries by.
func Soname(name string) string {
	return "-Wl,-soname," + name
}

// Rpath returns the linker flag embedding a run-path into a dependent.
func Rpath(dir string) string {
	return "-Wl,-rpath," + dir
}
