// Package plugin defines the contract between the object linking layer and
// code that observes or transforms link graphs, and the Registry that
// dispatches lifecycle events to registered plugins in registration order.
//
// For a single unit the hooks run in this order:
//
//	ModifyPassConfig -> pre-fixup passes -> fixups -> post-fixup passes
//	  -> NotifyLoaded -> NotifyEmitted | NotifyFailed
//	  -> NotifyRemovingResources | NotifyTransferringResources
//
// A pass or emit failure routes the unit to NotifyFailed instead.
package plugin

import (
	"fmt"
	"sort"
	"strings"

	"objlink/internal/linkgraph"
)

// ResourceKey identifies a resource scope: a group of allocations that are
// removed or transferred together. It carries no internal structure.
type ResourceKey uint64

// SymbolFlags describes a symbol requested from a unit.
type SymbolFlags uint8

const (
	FlagExported SymbolFlags = 1 << iota
	FlagCallable
	FlagWeak
)

// String renders flags as "[Exported|Callable]".
func (f SymbolFlags) String() string {
	var parts []string
	if f&FlagExported != 0 {
		parts = append(parts, "Exported")
	}
	if f&FlagCallable != 0 {
		parts = append(parts, "Callable")
	}
	if f&FlagWeak != 0 {
		parts = append(parts, "Weak")
	}
	return "[" + strings.Join(parts, "|") + "]"
}

// SymbolFlagsMap maps symbol names to their flags.
type SymbolFlagsMap map[string]SymbolFlags

// Names returns the symbol names in sorted order.
func (m SymbolFlagsMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String renders the map deterministically: { (a, [Callable]), (b, []) }.
func (m SymbolFlagsMap) String() string {
	if len(m) == 0 {
		return "{ }"
	}
	var sb strings.Builder
	sb.WriteString("{")
	for i, name := range m.Names() {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, " (%s, %s)", name, m[name])
	}
	sb.WriteString(" }")
	return sb.String()
}

// Unit is a materialization unit: a request to produce code and data for a
// set of symbols. The linking layer owns it; plugins receive it by pointer for
// the duration of a callback and must not retain it.
type Unit struct {
	Name    string
	Symbols SymbolFlagsMap
	Triple  string
	Key     ResourceKey
}

// UnitFromGraph builds a unit requesting every default- or hidden-scope
// symbol defined in g.
func UnitFromGraph(g *linkgraph.Graph, key ResourceKey) *Unit {
	syms := make(SymbolFlagsMap)
	for _, sym := range g.Symbols() {
		if !sym.IsDefined() || sym.Scope == linkgraph.ScopeLocal {
			continue
		}
		var flags SymbolFlags
		if sym.Scope == linkgraph.ScopeDefault {
			flags |= FlagExported
		}
		if sym.Callable {
			flags |= FlagCallable
		}
		syms[sym.Name] = flags
	}
	return &Unit{Name: g.Name, Symbols: syms, Triple: g.Triple, Key: key}
}

// Pass is a transformation over a link graph. A non-nil error fails the unit.
type Pass func(g *linkgraph.Graph) error

// PassConfig holds the passes run at the two pass points of a link.
type PassConfig struct {
	// PreFixup passes run after the graph is laid out and before fixups
	// are applied. They may still add, remove or rewrite edges.
	PreFixup []Pass
	// PostFixup passes run after fixups are applied, before the graph's
	// memory is finalized.
	PostFixup []Pass
}

// Plugin observes and transforms the linking pipeline.
//
// ModifyPassConfig must not fail; work that can fail belongs in a pass.
// NotifyLoaded and NotifyTransferringResources have no failure path either.
// Implementations shared across concurrently linked units must be safe for
// concurrent use.
type Plugin interface {
	// ModifyPassConfig lets the plugin append passes for the unit's graph.
	ModifyPassConfig(u *Unit, triple string, cfg *PassConfig)
	// NotifyLoaded runs once the unit is placed in memory, before its
	// symbols become visible.
	NotifyLoaded(u *Unit)
	// NotifyEmitted runs once the unit's symbols are resolved and visible.
	NotifyEmitted(u *Unit) error
	// NotifyFailed runs when the unit cannot be completed.
	NotifyFailed(u *Unit) error
	// NotifyRemovingResources runs before a resource scope is released.
	NotifyRemovingResources(key ResourceKey) error
	// NotifyTransferringResources runs when src's resources move to dst.
	NotifyTransferringResources(dst, src ResourceKey)
}

// Base implements every Plugin hook as a no-op. Embed it to override only
// the hooks a plugin cares about.
type Base struct{}

func (Base) ModifyPassConfig(*Unit, string, *PassConfig)      {}
func (Base) NotifyLoaded(*Unit)                               {}
func (Base) NotifyEmitted(*Unit) error                        { return nil }
func (Base) NotifyFailed(*Unit) error                         { return nil }
func (Base) NotifyRemovingResources(ResourceKey) error        { return nil }
func (Base) NotifyTransferringResources(dst, src ResourceKey) {}

// Funcs adapts a table of optional closures to the Plugin interface.
// Nil fields behave like Base.
type Funcs struct {
	ModifyPassConfigFunc            func(u *Unit, triple string, cfg *PassConfig)
	NotifyLoadedFunc                func(u *Unit)
	NotifyEmittedFunc               func(u *Unit) error
	NotifyFailedFunc                func(u *Unit) error
	NotifyRemovingResourcesFunc     func(key ResourceKey) error
	NotifyTransferringResourcesFunc func(dst, src ResourceKey)
}

func (f Funcs) ModifyPassConfig(u *Unit, triple string, cfg *PassConfig) {
	if f.ModifyPassConfigFunc != nil {
		f.ModifyPassConfigFunc(u, triple, cfg)
	}
}

func (f Funcs) NotifyLoaded(u *Unit) {
	if f.NotifyLoadedFunc != nil {
		f.NotifyLoadedFunc(u)
	}
}

func (f Funcs) NotifyEmitted(u *Unit) error {
	if f.NotifyEmittedFunc == nil {
		return nil
	}
	return f.NotifyEmittedFunc(u)
}

func (f Funcs) NotifyFailed(u *Unit) error {
	if f.NotifyFailedFunc == nil {
		return nil
	}
	return f.NotifyFailedFunc(u)
}

func (f Funcs) NotifyRemovingResources(key ResourceKey) error {
	if f.NotifyRemovingResourcesFunc == nil {
		return nil
	}
	return f.NotifyRemovingResourcesFunc(key)
}

func (f Funcs) NotifyTransferringResources(dst, src ResourceKey) {
	if f.NotifyTransferringResourcesFunc != nil {
		f.NotifyTransferringResourcesFunc(dst, src)
	}
}
