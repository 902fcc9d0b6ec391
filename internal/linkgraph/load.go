package linkgraph

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"
)

// graphFile mirrors the TOML description of an object:
//
//	name = "test-module"
//	triple = "x86_64-unknown-linux-gnu"
//
//	[[section]]
//	name = "__text"
//	  [[section.block]]
//	  addr = "0x1000"
//	  content = "b8 07 00 00 00 c3"
//	    [[section.block.symbol]]
//	    name = "callee"
//	    callable = true
type graphFile struct {
	Name        string        `toml:"name"`
	Triple      string        `toml:"triple"`
	PointerSize int           `toml:"pointer_size"`
	Endian      string        `toml:"endian"`
	Sections    []sectionFile `toml:"section"`
	Externals   []string      `toml:"externals"`
}

type sectionFile struct {
	Name   string      `toml:"name"`
	Blocks []blockFile `toml:"block"`
}

type blockFile struct {
	Addr     any          `toml:"addr"`
	Size     any          `toml:"size"`
	ZeroFill bool         `toml:"zero_fill"`
	Content  string       `toml:"content"`
	Symbols  []symbolFile `toml:"symbol"`
	Edges    []edgeFile   `toml:"edge"`
}

type symbolFile struct {
	Name     string `toml:"name"`
	Offset   any    `toml:"offset"`
	Scope    string `toml:"scope"`
	Callable bool   `toml:"callable"`
}

type edgeFile struct {
	Kind   string `toml:"kind"`
	Offset any    `toml:"offset"`
	Target string `toml:"target"`
	Addend int64  `toml:"addend"`
}

// ParseAddr accepts either a TOML integer or a string with a base prefix
// ("0x1000", "4096", "0o10"). A missing value is zero.
func ParseAddr(v any) (uint64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case int64:
		u, err := safecast.Conv[uint64](val)
		if err != nil {
			return 0, fmt.Errorf("address %d: %w", val, err)
		}
		return u, nil
	case string:
		u, err := strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(val), "_", ""), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid address %q: %w", val, err)
		}
		return u, nil
	default:
		return 0, fmt.Errorf("invalid address value of type %T", v)
	}
}

// LoadFile reads a graph description from a TOML file.
func LoadFile(path string) (*Graph, error) {
	var gf graphFile
	if _, err := toml.DecodeFile(path, &gf); err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	g, err := gf.build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if g.Name == "" {
		g.Name = path
	}
	return g, nil
}

// Decode reads a graph description from r.
func Decode(r io.Reader) (*Graph, error) {
	var gf graphFile
	if _, err := toml.NewDecoder(r).Decode(&gf); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return gf.build()
}

func (gf *graphFile) build() (*Graph, error) {
	endian, err := ParseEndianness(gf.Endian)
	if err != nil {
		return nil, err
	}
	g := New(gf.Name, gf.Triple, gf.PointerSize, endian)

	type pending struct {
		block *Block
		file  *blockFile
	}
	var blocks []pending

	for i := range gf.Sections {
		sf := &gf.Sections[i]
		if sf.Name == "" {
			return nil, fmt.Errorf("section #%d has no name", i)
		}
		sec := g.CreateSection(sf.Name)
		for j := range sf.Blocks {
			bf := &sf.Blocks[j]
			b, err := bf.create(sec)
			if err != nil {
				return nil, fmt.Errorf("section %q block #%d: %w", sf.Name, j, err)
			}
			blocks = append(blocks, pending{block: b, file: bf})
		}
	}

	for _, p := range blocks {
		for _, sym := range p.file.Symbols {
			scope, err := ParseScope(sym.Scope)
			if err != nil {
				return nil, err
			}
			offset, err := ParseAddr(sym.Offset)
			if err != nil {
				return nil, fmt.Errorf("symbol %q: %w", sym.Name, err)
			}
			if _, err := g.AddDefinedSymbol(p.block, sym.Name, offset, scope, sym.Callable); err != nil {
				return nil, err
			}
		}
	}
	for _, name := range gf.Externals {
		g.AddExternalSymbol(name)
	}

	for _, p := range blocks {
		for _, ef := range p.file.Edges {
			kind, err := ParseEdgeKind(ef.Kind)
			if err != nil {
				return nil, err
			}
			offset, err := ParseAddr(ef.Offset)
			if err != nil {
				return nil, fmt.Errorf("block@%s: edge: %w", p.block.addr, err)
			}
			if ef.Target == "" {
				return nil, fmt.Errorf("block@%s: edge at offset %d has no target", p.block.addr, offset)
			}
			if g.Symbol(ef.Target) == nil {
				g.AddExternalSymbol(ef.Target)
			}
			edge := Edge{Kind: kind, Offset: offset, Target: ef.Target, Addend: ef.Addend}
			if err := p.block.AddEdge(edge); err != nil {
				return nil, err
			}
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (bf *blockFile) create(sec *Section) (*Block, error) {
	base, err := ParseAddr(bf.Addr)
	if err != nil {
		return nil, err
	}
	size, err := ParseAddr(bf.Size)
	if err != nil {
		return nil, fmt.Errorf("size: %w", err)
	}
	addr := Addr(base)
	if bf.ZeroFill {
		if bf.Content != "" {
			return nil, fmt.Errorf("block@%s: zero_fill block cannot have content", addr)
		}
		return sec.CreateZeroFillBlock(addr, size)
	}
	content, err := decodeHex(bf.Content)
	if err != nil {
		return nil, fmt.Errorf("block@%s: %w", addr, err)
	}
	if size != 0 && size != uint64(len(content)) {
		return nil, fmt.Errorf("block@%s: size %d does not match %d content bytes", addr, size, len(content))
	}
	return sec.CreateContentBlock(addr, content)
}

func decodeHex(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
	out, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid content hex: %w", err)
	}
	return out, nil
}
