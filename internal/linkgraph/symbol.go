package linkgraph

import (
	"fmt"
	"strings"
)

// Scope controls symbol visibility outside the graph.
type Scope uint8

const (
	// ScopeDefault symbols are visible to other units.
	ScopeDefault Scope = iota
	// ScopeHidden symbols are visible only within the linked session.
	ScopeHidden
	// ScopeLocal symbols are visible only within this graph.
	ScopeLocal
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopeDefault:
		return "default"
	case ScopeHidden:
		return "hidden"
	case ScopeLocal:
		return "local"
	default:
		return "unknown"
	}
}

// ParseScope converts a string to Scope.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return ScopeDefault, nil
	case "hidden":
		return ScopeHidden, nil
	case "local":
		return ScopeLocal, nil
	default:
		return ScopeDefault, fmt.Errorf("invalid symbol scope: %q (expected: default|hidden|local)", s)
	}
}

// Symbol names an address. Defined symbols point into a block; external
// symbols have no block and are resolved by the linker.
type Symbol struct {
	Name     string
	Offset   uint64
	Scope    Scope
	Callable bool

	block *Block
}

// Block returns the defining block, or nil for external symbols.
func (s *Symbol) Block() *Block { return s.block }

// IsDefined reports whether the symbol is defined in this graph.
func (s *Symbol) IsDefined() bool { return s.block != nil }

// Address returns the symbol address. External symbols report zero.
func (s *Symbol) Address() Addr {
	if s.block == nil {
		return 0
	}
	return s.block.addr + Addr(s.Offset)
}
