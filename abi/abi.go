// Package abi describes the shapes of functions invoked across the
// dynamic-linking boundary. Signatures are deliberately small: integer
// scalars in, one integer scalar (or nothing) out, which is all the
// resolution scenarios need.
package abi

import (
	"fmt"
	"strings"
)

// Kind is a scalar value type.
type Kind uint8

const (
	Void Kind = iota
	Int32
	Int64
)

func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Signature is the declared type of a resolved function.
type Signature struct {
	Params []Kind
	Result Kind
}

// Default is assumed when a query does not declare a signature.
var Default = Signature{Params: []Kind{Int32}, Result: Int32}

func (s Signature) String() string {
	params := make([]string, len(s.Params))
	for i, p := range s.Params {
		params[i] = p.String()
	}
	return s.Result.String() + "(" + strings.Join(params, ", ") + ")"
}

// CheckArgs reports whether n arguments fit the signature.
func (s Signature) CheckArgs(n int) error {
	if n != len(s.Params) {
		return fmt.Errorf("abi: %s takes %d arguments, got %d", s, len(s.Params), n)
	}
	return nil
}

// Parse reads a signature in C-like notation: "int32(int32)",
// "int64(int32, int64)", "void(int32)". "int" is accepted as an alias
// for "int32". The empty string yields Default. Parsed signatures always
// carry a non-nil Params slice, so a zero Signature remains
// distinguishable as "unspecified".
func Parse(text string) (Signature, error) {
	if text == "" {
		return Default, nil
	}
	open := strings.IndexByte(text, '(')
	if open < 0 || !strings.HasSuffix(text, ")") {
		return Signature{}, fmt.Errorf("abi: malformed signature %q", text)
	}
	result, err := parseKind(strings.TrimSpace(text[:open]))
	if err != nil {
		return Signature{}, fmt.Errorf("abi: signature %q: %w", text, err)
	}
	sig := Signature{Params: []Kind{}, Result: result}
	inner := strings.TrimSpace(text[open+1 : len(text)-1])
	if inner == "" {
		return sig, nil
	}
	for _, part := range strings.Split(inner, ",") {
		kind, err := parseKind(strings.TrimSpace(part))
		if err != nil {
			return Signature{}, fmt.Errorf("abi: signature %q: %w", text, err)
		}
		if kind == Void {
			return Signature{}, fmt.Errorf("abi: signature %q: void parameter", text)
		}
		sig.Params = append(sig.Params, kind)
	}
	return sig, nil
}

func parseKind(text string) (Kind, error) {
	switch text {
	case "void":
		return Void, nil
	case "int", "int32":
		return Int32, nil
	case "int64":
		return Int64, nil
	}
	return 0, fmt.Errorf("unknown type %q", text)
}
