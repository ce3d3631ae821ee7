//go:build linux && (amd64 || arm64)

package dynlink

import (
	"strings"
	"testing"
	"unsafe"
)

func TestParseHexUintptr(t *testing.T) {
	cases := []struct {
		in   string
		want uintptr
		ok   bool
	}{
		{"0", 0, true},
		{"7f", 0x7f, true},
		{"7F", 0x7f, true},
		{"deadbeef", 0xdeadbeef, true},
		{"0x10", 0, false},
		{"xyz", 0, false},
	}
	for _, tc := range cases {
		got, err := parseHexUintptr(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("parseHexUintptr(%q): err = %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("parseHexUintptr(%q) = %#x, want %#x", tc.in, got, tc.want)
		}
	}
}

func TestReadProcMapsFindsExecutableMappings(t *testing.T) {
	entries, err := readProcMaps()
	if err != nil {
		t.Fatalf("readProcMaps: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("readProcMaps returned no executable file mappings")
	}
	for _, entry := range entries {
		if entry.start >= entry.end {
			t.Errorf("entry %s: start %#x not below end %#x", entry.path, entry.start, entry.end)
		}
		if !strings.HasPrefix(entry.path, "/") {
			t.Errorf("entry path %q is not absolute", entry.path)
		}
		if !strings.Contains(entry.perms, "x") {
			t.Errorf("entry %s: perms %q not executable", entry.path, entry.perms)
		}
	}
}

func TestCStringFromPtr(t *testing.T) {
	buf := []byte("square\x00trailing")
	got := cStringFromPtr(uintptr(unsafe.Pointer(&buf[0])))
	if got != "square" {
		t.Errorf("cStringFromPtr = %q, want %q", got, "square")
	}
	if got := cStringFromPtr(0); got != "" {
		t.Errorf("cStringFromPtr(0) = %q, want empty", got)
	}
}
