package dynlink

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Info describes a shared-library file: its format, target machine, and
// the split of its dynamic symbol table into defined exports and
// unresolved imports. Imports are what the loader must satisfy from
// elsewhere when the library is opened with eager binding.
type Info struct {
	Format  string
	Machine string
	Type    string
	Needed  []string
	Exports []string
	Imports []string
}

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// Inspect parses the library file at path without loading it.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	magic := make([]byte, 4)
	_, err = f.Read(magic)
	closeErr := f.Close()
	if err != nil {
		return nil, fmt.Errorf("inspect %s: read magic: %w", path, err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, closeErr)
	}

	switch {
	case bytes.Equal(magic, elfMagic):
		return inspectELF(path)
	case isMachOMagic(magic):
		return inspectMachO(path)
	}
	return nil, fmt.Errorf("inspect %s: unrecognized library format", path)
}

func inspectELF(path string) (*Info, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	defer f.Close()

	info := &Info{
		Format:  "elf",
		Machine: f.Machine.String(),
		Type:    f.Type.String(),
	}
	if needed, err := f.ImportedLibraries(); err == nil {
		info.Needed = needed
	}

	syms, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("inspect %s: dynamic symbols: %w", path, err)
	}
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		if s.Section == elf.SHN_UNDEF {
			info.Imports = append(info.Imports, s.Name)
		} else {
			info.Exports = append(info.Exports, s.Name)
		}
	}
	sortSymbols(info)
	return info, nil
}

// Mach-O symbol type bits. debug/macho does not export these.
const (
	machoNExt  = 0x01
	machoNType = 0x0e
	machoNSect = 0x0e
)

func inspectMachO(path string) (*Info, error) {
	f, err := macho.Open(path)
	if err != nil {
		fat, fatErr := macho.OpenFat(path)
		if fatErr != nil {
			return nil, fmt.Errorf("inspect %s: %w", path, err)
		}
		defer fat.Close()
		return machOInfo(path, fat.Arches[0].File)
	}
	defer f.Close()
	return machOInfo(path, f)
}

func machOInfo(path string, f *macho.File) (*Info, error) {
	info := &Info{
		Format:  "mach-o",
		Machine: f.Cpu.String(),
		Type:    f.Type.String(),
	}
	if needed, err := f.ImportedLibraries(); err == nil {
		info.Needed = needed
	}
	if imports, err := f.ImportedSymbols(); err == nil {
		for _, name := range imports {
			info.Imports = append(info.Imports, strings.TrimPrefix(name, "_"))
		}
	}
	if f.Symtab != nil {
		for _, s := range f.Symtab.Syms {
			if s.Type&machoNExt == 0 || s.Type&machoNType != machoNSect || s.Sect == 0 {
				continue
			}
			info.Exports = append(info.Exports, strings.TrimPrefix(s.Name, "_"))
		}
	}
	sortSymbols(info)
	return info, nil
}

func isMachOMagic(magic []byte) bool {
	known := [][]byte{
		{0xfe, 0xed, 0xfa, 0xce},
		{0xfe, 0xed, 0xfa, 0xcf},
		{0xce, 0xfa, 0xed, 0xfe},
		{0xcf, 0xfa, 0xed, 0xfe},
		{0xca, 0xfe, 0xba, 0xbe},
		{0xbe, 0xba, 0xfe, 0xca},
	}
	for _, m := range known {
		if bytes.Equal(magic, m) {
			return true
		}
	}
	return false
}

func sortSymbols(info *Info) {
	sort.Strings(info.Exports)
	sort.Strings(info.Imports)
}
