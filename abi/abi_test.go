package abi_test

import (
	"testing"

	"github.com/sliverarmory/symscope/abi"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "int32(int32)"},
		{"int32(int32)", "int32(int32)"},
		{"int(int)", "int32(int32)"},
		{"int64(int32, int64)", "int64(int32, int64)"},
		{"void(int32)", "void(int32)"},
		{"int64()", "int64()"},
	}
	for _, tc := range cases {
		sig, err := abi.Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if got := sig.String(); got != tc.want {
			t.Errorf("Parse(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"int32",
		"int32(",
		"int32)",
		"float64(int32)",
		"int32(void)",
		"int32(int32,)",
	} {
		if _, err := abi.Parse(in); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", in)
		}
	}
}

func TestCheckArgs(t *testing.T) {
	sig, err := abi.Parse("int32(int32, int32)")
	if err != nil {
		t.Fatal(err)
	}
	if err := sig.CheckArgs(2); err != nil {
		t.Errorf("CheckArgs(2): %v", err)
	}
	if err := sig.CheckArgs(1); err == nil {
		t.Error("CheckArgs(1) succeeded, want error")
	}
}
