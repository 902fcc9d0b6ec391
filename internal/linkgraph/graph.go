// Package linkgraph models the in-memory layout of an object being linked.
//
// A Graph is an ordered collection of sections, each holding an ordered
// collection of blocks. Blocks are either backed by content bytes or marked
// zero-fill. Fixups are expressed as edges on blocks that reference symbols by
// name; they are resolved by the hosting linker between the pre-fixup and
// post-fixup pass points.
//
// Iteration order of sections and blocks is insertion order and is never
// re-sorted, so renderings of the same graph are deterministic.
package linkgraph

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrAddressOverflow indicates that base+size of a block wraps the address space.
	ErrAddressOverflow = errors.New("block end address overflows")
	// ErrDuplicateSymbol indicates that a symbol name is already defined in the graph.
	ErrDuplicateSymbol = errors.New("duplicate symbol")
	// ErrEdgeOutOfRange indicates that a fixup does not fit inside its block.
	ErrEdgeOutOfRange = errors.New("edge out of block range")
	// ErrZeroFillEdge indicates that a fixup was attached to a zero-fill block.
	ErrZeroFillEdge = errors.New("edge on zero-fill block")
)

// Graph is a snapshot of an object's sections and blocks.
type Graph struct {
	Name        string
	Triple      string
	PointerSize int
	Endian      Endianness

	sections  []*Section
	byName    map[string]*Section
	symbols   []*Symbol
	symByName map[string]*Symbol
}

// New creates an empty graph.
func New(name, triple string, pointerSize int, endian Endianness) *Graph {
	if pointerSize <= 0 {
		pointerSize = 8
	}
	return &Graph{
		Name:        name,
		Triple:      triple,
		PointerSize: pointerSize,
		Endian:      endian,
		byName:      make(map[string]*Section),
		symByName:   make(map[string]*Symbol),
	}
}

// Sections returns sections in insertion order.
// The returned slice must not be modified.
func (g *Graph) Sections() []*Section {
	if g == nil {
		return nil
	}
	return g.sections
}

// Section looks up a section by name.
func (g *Graph) Section(name string) *Section {
	if g == nil {
		return nil
	}
	return g.byName[name]
}

// CreateSection returns the named section, creating it at the end of the
// section list if it does not exist yet.
func (g *Graph) CreateSection(name string) *Section {
	if s, ok := g.byName[name]; ok {
		return s
	}
	s := &Section{name: name, graph: g}
	g.sections = append(g.sections, s)
	g.byName[name] = s
	return s
}

// Blocks returns every block of every section, in section then block order.
func (g *Graph) Blocks() []*Block {
	var out []*Block
	for _, s := range g.Sections() {
		out = append(out, s.blocks...)
	}
	return out
}

// Symbols returns all symbols in definition order.
func (g *Graph) Symbols() []*Symbol {
	if g == nil {
		return nil
	}
	return g.symbols
}

// Symbol looks up a symbol by name.
func (g *Graph) Symbol(name string) *Symbol {
	if g == nil {
		return nil
	}
	return g.symByName[name]
}

// AddDefinedSymbol defines name at offset within b.
// An external symbol of the same name is upgraded to a definition.
func (g *Graph) AddDefinedSymbol(b *Block, name string, offset uint64, scope Scope, callable bool) (*Symbol, error) {
	if b == nil || b.section == nil || b.section.graph != g {
		return nil, fmt.Errorf("symbol %q: block does not belong to graph %q", name, g.Name)
	}
	if offset > b.size {
		return nil, fmt.Errorf("symbol %q: offset %d past end of %d byte block", name, offset, b.size)
	}
	if existing, ok := g.symByName[name]; ok {
		if existing.IsDefined() {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSymbol, name)
		}
		existing.block = b
		existing.Offset = offset
		existing.Scope = scope
		existing.Callable = callable
		return existing, nil
	}
	sym := &Symbol{Name: name, block: b, Offset: offset, Scope: scope, Callable: callable}
	g.symbols = append(g.symbols, sym)
	g.symByName[name] = sym
	return sym, nil
}

// AddExternalSymbol declares name as defined outside the graph.
// Declaring an already known symbol returns the existing one.
func (g *Graph) AddExternalSymbol(name string) *Symbol {
	if existing, ok := g.symByName[name]; ok {
		return existing
	}
	sym := &Symbol{Name: name, Scope: ScopeDefault}
	g.symbols = append(g.symbols, sym)
	g.symByName[name] = sym
	return sym
}

// ExternalSymbols returns the symbols that have no defining block.
func (g *Graph) ExternalSymbols() []*Symbol {
	var out []*Symbol
	for _, sym := range g.Symbols() {
		if !sym.IsDefined() {
			out = append(out, sym)
		}
	}
	return out
}

// Validate checks the structural invariants of the graph: block ranges do
// not overflow, content matches the declared size, and every edge lies within
// its block and names a known symbol.
func (g *Graph) Validate() error {
	for _, s := range g.Sections() {
		for _, b := range s.blocks {
			if err := b.validate(); err != nil {
				return fmt.Errorf("section %q: %w", s.name, err)
			}
			for _, e := range b.edges {
				if g.Symbol(e.Target) == nil {
					return fmt.Errorf("section %q: block@%s: edge target %q is not a known symbol", s.name, b.addr, e.Target)
				}
			}
		}
	}
	return nil
}

// Section is a named, ordered collection of blocks.
type Section struct {
	name   string
	graph  *Graph
	blocks []*Block
}

// Name returns the section name.
func (s *Section) Name() string { return s.name }

// Blocks returns blocks in insertion order.
// The returned slice must not be modified.
func (s *Section) Blocks() []*Block { return s.blocks }

// CreateContentBlock appends a block backed by content at addr.
// The block keeps a reference to content; callers hand over ownership.
func (s *Section) CreateContentBlock(addr Addr, content []byte) (*Block, error) {
	size := uint64(len(content))
	if err := checkRange(addr, size); err != nil {
		return nil, err
	}
	b := &Block{section: s, addr: addr, size: size, content: content}
	s.blocks = append(s.blocks, b)
	return b, nil
}

// CreateZeroFillBlock appends a zero-fill block of size bytes at addr.
func (s *Section) CreateZeroFillBlock(addr Addr, size uint64) (*Block, error) {
	if err := checkRange(addr, size); err != nil {
		return nil, err
	}
	b := &Block{section: s, addr: addr, size: size, zeroFill: true}
	s.blocks = append(s.blocks, b)
	return b, nil
}

func checkRange(addr Addr, size uint64) error {
	if size > math.MaxUint64-uint64(addr) {
		return fmt.Errorf("%w: block@%s size %d", ErrAddressOverflow, addr, size)
	}
	return nil
}

// Block is a contiguous region of memory-to-be within a section.
type Block struct {
	section  *Section
	addr     Addr
	size     uint64
	zeroFill bool
	content  []byte
	mutable  bool
	edges    []Edge
}

// Section returns the owning section.
func (b *Block) Section() *Section { return b.section }

// Addr returns the block's base address.
func (b *Block) Addr() Addr { return b.addr }

// Size returns the block size in bytes.
func (b *Block) Size() uint64 { return b.size }

// End returns the first address past the block.
func (b *Block) End() Addr { return b.addr + Addr(b.size) }

// IsZeroFill reports whether the block has no backing content.
func (b *Block) IsZeroFill() bool { return b.zeroFill }

// Content returns the block's bytes. The slice is a read-only view: it is
// owned by the snapshot source and must not be modified or retained.
// Zero-fill blocks return nil.
func (b *Block) Content() []byte {
	if b.zeroFill {
		return nil
	}
	return b.content
}

// MutableContent returns a writable copy of the block content that replaces
// the original view. The copy is made once per block.
func (b *Block) MutableContent() []byte {
	if b.zeroFill {
		return nil
	}
	if !b.mutable {
		buf := make([]byte, len(b.content))
		copy(buf, b.content)
		b.content = buf
		b.mutable = true
	}
	return b.content
}

// Edges returns the block's fixups in insertion order.
func (b *Block) Edges() []Edge { return b.edges }

// AddEdge attaches a fixup to the block.
func (b *Block) AddEdge(e Edge) error {
	if b.zeroFill {
		return fmt.Errorf("%w: block@%s", ErrZeroFillEdge, b.addr)
	}
	width := e.Kind.Width()
	if width == 0 {
		return fmt.Errorf("block@%s: unknown edge kind %d", b.addr, e.Kind)
	}
	if e.Offset > b.size || b.size-e.Offset < width {
		return fmt.Errorf("%w: %s at offset %d in %d byte block@%s", ErrEdgeOutOfRange, e.Kind, e.Offset, b.size, b.addr)
	}
	b.edges = append(b.edges, e)
	return nil
}

// Contains reports whether addr lies inside [Addr, End).
func (b *Block) Contains(addr Addr) bool {
	return addr >= b.addr && addr < b.End()
}

func (b *Block) validate() error {
	if err := checkRange(b.addr, b.size); err != nil {
		return err
	}
	if b.zeroFill {
		if len(b.edges) > 0 {
			return fmt.Errorf("%w: block@%s", ErrZeroFillEdge, b.addr)
		}
		return nil
	}
	if uint64(len(b.content)) != b.size {
		return fmt.Errorf("block@%s: content is %d bytes, size is %d", b.addr, len(b.content), b.size)
	}
	return nil
}
