//go:build !((linux || darwin) && (amd64 || arm64))

package dynlink

import "github.com/sliverarmory/symscope/abi"

type Library struct{}

func Open(name string, global bool) (*Library, error) {
	_, _ = name, global
	return nil, ErrUnsupported
}

func (l *Library) Name() string {
	return ""
}

func (l *Library) Symbol(name string) (*Symbol, error) {
	_ = name
	return nil, ErrUnsupported
}

func (l *Library) Exports() ([]string, error) {
	return nil, ErrUnsupported
}

func (l *Library) Close() error {
	return ErrUnsupported
}

type Symbol struct{}

func (s *Symbol) Name() string {
	return ""
}

func (s *Symbol) Addr() uintptr {
	return 0
}

func (s *Symbol) Source() string {
	return ""
}

func (s *Symbol) Call(sig abi.Signature, args []int64) (int64, error) {
	_, _ = sig, args
	return 0, ErrUnsupported
}
