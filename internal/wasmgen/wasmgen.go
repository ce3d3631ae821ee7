// Package wasmgen assembles the tiny WebAssembly modules the tests load.
// Emitting the binaries directly keeps the suite hermetic: no wasm
// toolchain is needed to exercise the wasm backend.
package wasmgen

// Binary format constants (magic, section ids, opcodes).
const (
	secType   = 0x01
	secImport = 0x02
	secFunc   = 0x03
	secExport = 0x07
	secCode   = 0x0a

	typeFunc = 0x60
	valI32   = 0x7f

	kindFunc = 0x00

	opUnreachable = 0x00
	opCall        = 0x10
	opLocalGet    = 0x20
	opI32Mul      = 0x6c
	opEnd         = 0x0b
)

// SquareModule exports square(x) = x*x.
func SquareModule() []byte {
	return module(
		typeSection(),
		section(secFunc, vec([]byte{0x00})),
		exportSection(export("square", 0)),
		codeSection(body(
			opLocalGet, 0x00,
			opLocalGet, 0x00,
			opI32Mul,
		)),
	)
}

// CubeSquareModule exports square(x) = x*x*x under the same name as the
// correct definition, standing in for an erroneously built library.
func CubeSquareModule() []byte {
	return module(
		typeSection(),
		section(secFunc, vec([]byte{0x00})),
		exportSection(export("square", 0)),
		codeSection(body(
			opLocalGet, 0x00,
			opLocalGet, 0x00,
			opI32Mul,
			opLocalGet, 0x00,
			opI32Mul,
		)),
	)
}

// PowerFourModule imports env.square and exports
// power_four(x) = square(x) * square(x). Function index 0 is the import,
// so the local function exports as index 1.
func PowerFourModule() []byte {
	return module(
		typeSection(),
		section(secImport, vec(importFunc("env", "square", 0))),
		section(secFunc, vec([]byte{0x00})),
		exportSection(export("power_four", 1)),
		codeSection(body(
			opLocalGet, 0x00,
			opCall, 0x00,
			opLocalGet, 0x00,
			opCall, 0x00,
			opI32Mul,
		)),
	)
}

// TrapModule exports boom(x) which traps unconditionally.
func TrapModule() []byte {
	return module(
		typeSection(),
		section(secFunc, vec([]byte{0x00})),
		exportSection(export("boom", 0)),
		codeSection(body(opUnreachable)),
	)
}

// typeSection declares the single (i32) -> i32 function type every
// fixture uses.
func typeSection() []byte {
	return section(secType, vec([]byte{typeFunc, 0x01, valI32, 0x01, valI32}))
}

func module(sections ...[]byte) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

func section(id byte, contents []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(contents)))...)
	return append(out, contents...)
}

// vec encodes a vector of pre-encoded entries.
func vec(entries ...[]byte) []byte {
	out := uleb(uint32(len(entries)))
	for _, e := range entries {
		out = append(out, e...)
	}
	return out
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func importFunc(module, field string, typeIdx byte) []byte {
	out := name(module)
	out = append(out, name(field)...)
	return append(out, kindFunc, typeIdx)
}

func export(field string, funcIdx byte) []byte {
	out := name(field)
	return append(out, kindFunc, funcIdx)
}

func exportSection(entries ...[]byte) []byte {
	return section(secExport, vec(entries...))
}

// body wraps instructions into a code entry with no locals.
func body(instrs ...byte) []byte {
	entry := append([]byte{0x00}, instrs...)
	entry = append(entry, opEnd)
	return append(uleb(uint32(len(entry))), entry...)
}

func codeSection(bodies ...[]byte) []byte {
	return section(secCode, vec(bodies...))
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}
