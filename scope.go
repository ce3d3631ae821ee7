package symscope

import (
	"fmt"
	"strings"
)

// Visibility controls whether a load joins the global symbol scope.
type Visibility uint8

const (
	// VisibilityPlatform defers to whatever a plain open does on the
	// running platform; see GlobalScope.DefaultGlobal.
	VisibilityPlatform Visibility = iota
	VisibilityLocal
	VisibilityGlobal
)

func (v Visibility) String() string {
	switch v {
	case VisibilityPlatform:
		return "platform"
	case VisibilityLocal:
		return "local"
	case VisibilityGlobal:
		return "global"
	}
	return fmt.Sprintf("visibility(%d)", uint8(v))
}

// ParseVisibility reads a visibility name. The empty string means
// platform default.
func ParseVisibility(s string) (Visibility, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "platform":
		return VisibilityPlatform, nil
	case "local":
		return VisibilityLocal, nil
	case "global":
		return VisibilityGlobal, nil
	}
	return 0, fmt.Errorf("symscope: unknown visibility %q", s)
}

// BindKind classifies where a symbol lookup lands.
type BindKind uint8

const (
	// BindNone predicts no visible definition.
	BindNone BindKind = iota
	// BindSelf predicts the queried library's own definition.
	BindSelf
	// BindGlobal predicts a definition from a global provider.
	BindGlobal
)

func (k BindKind) String() string {
	switch k {
	case BindNone:
		return "none"
	case BindSelf:
		return "self"
	case BindGlobal:
		return "global"
	}
	return fmt.Sprintf("bind(%d)", uint8(k))
}

// Prediction is the scope model's answer for a lookup: which provider
// should supply the definition, if any.
type Prediction struct {
	Kind   BindKind
	Source string
}

func (p Prediction) String() string {
	if p.Kind == BindNone {
		return "none"
	}
	return p.Kind.String() + ":" + p.Source
}

// GlobalScope models the process-wide symbol scope explicitly: the
// ordered providers whose exports are visible to every later load, plus
// the platform's default-visibility capability. The loader backend stays
// authoritative for actual binding; the model makes the harness's own
// logic testable without one and lets reports show where model and
// loader disagree.
type GlobalScope struct {
	defaultGlobal bool
	providers     []scopeProvider
}

type scopeProvider struct {
	name    string
	exports map[string]struct{}
}

// NewGlobalScope returns an empty scope. defaultGlobal states whether a
// platform-default open joins the scope on this backend.
func NewGlobalScope(defaultGlobal bool) *GlobalScope {
	return &GlobalScope{defaultGlobal: defaultGlobal}
}

// DefaultGlobal reports the platform-default visibility capability.
func (g *GlobalScope) DefaultGlobal() bool {
	return g.defaultGlobal
}

// Admit appends a provider with its export list. Admission order is
// lookup order: an earlier provider shadows later definitions of the
// same symbol. Admitting a name twice replaces its export list but keeps
// its position.
func (g *GlobalScope) Admit(name string, exports []string) {
	set := make(map[string]struct{}, len(exports))
	for _, e := range exports {
		set[e] = struct{}{}
	}
	for i, p := range g.providers {
		if p.name == name {
			g.providers[i].exports = set
			return
		}
	}
	g.providers = append(g.providers, scopeProvider{name: name, exports: set})
}

// Withdraw removes a provider.
func (g *GlobalScope) Withdraw(name string) {
	kept := g.providers[:0]
	for _, p := range g.providers {
		if p.name != name {
			kept = append(kept, p)
		}
	}
	g.providers = kept
}

// Providers lists admitted provider names in lookup order.
func (g *GlobalScope) Providers() []string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.name
	}
	return names
}

// Lookup finds the earliest provider exporting symbol.
func (g *GlobalScope) Lookup(symbol string) (string, bool) {
	for _, p := range g.providers {
		if _, ok := p.exports[symbol]; ok {
			return p.name, true
		}
	}
	return "", false
}

// Predict applies the lookup policy for a query through a specific
// library: the library's own exports win first, because a handle lookup
// searches the library and its dependency subtree before anything else,
// then the global providers in admission order. A library with an
// unknown export set (nil) predicts only against the global providers.
func (g *GlobalScope) Predict(symbol, from string, fromExports []string) Prediction {
	for _, e := range fromExports {
		if e == symbol {
			return Prediction{Kind: BindSelf, Source: from}
		}
	}
	if name, ok := g.Lookup(symbol); ok {
		return Prediction{Kind: BindGlobal, Source: name}
	}
	return Prediction{Kind: BindNone}
}
