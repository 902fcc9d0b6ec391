package linker

import (
	"fmt"
	"sort"

	"fortio.org/safecast"

	"objlink/internal/linkgraph"
)

// resolveTargets maps every edge target of g to an address. Symbols defined
// in g win over session definitions.
func (l *Layer) resolveTargets(unit string, g *linkgraph.Graph) (map[string]linkgraph.Addr, error) {
	addrs := make(map[string]linkgraph.Addr)
	var missing []string
	seen := make(map[string]struct{})
	for _, b := range g.Blocks() {
		for _, e := range b.Edges() {
			if _, ok := seen[e.Target]; ok {
				continue
			}
			seen[e.Target] = struct{}{}
			if sym := g.Symbol(e.Target); sym != nil && sym.IsDefined() {
				addrs[e.Target] = sym.Address()
				continue
			}
			if addr, ok := l.Lookup(e.Target); ok {
				addrs[e.Target] = addr
				continue
			}
			missing = append(missing, e.Target)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &UnresolvedSymbolError{Unit: unit, Symbols: missing}
	}
	return addrs, nil
}

// applyFixups writes every edge of g using the resolved addresses. Blocks
// with edges get a private copy of their content before the first write.
func applyFixups(g *linkgraph.Graph, addrs map[string]linkgraph.Addr) error {
	order := g.Endian.ByteOrder()
	for _, b := range g.Blocks() {
		edges := b.Edges()
		if len(edges) == 0 {
			continue
		}
		content := b.MutableContent()
		for _, e := range edges {
			target, ok := addrs[e.Target]
			if !ok {
				return fmt.Errorf("block@%s: edge target %q was not resolved", b.Addr(), e.Target)
			}
			start, err := safecast.Conv[int](e.Offset)
			if err != nil {
				return &FixupRangeError{Block: b.Addr(), Edge: e, Target: target, Err: err}
			}
			width := int(e.Kind.Width())
			if start+width > len(content) {
				return &FixupRangeError{Block: b.Addr(), Edge: e, Target: target, Err: linkgraph.ErrEdgeOutOfRange}
			}
			fixupAddr := b.Addr() + linkgraph.Addr(e.Offset)
			// Arithmetic wraps modulo 2^64 so negative addends and backwards
			// references come out as two's complement.
			value := uint64(target) + uint64(e.Addend)
			switch e.Kind {
			case linkgraph.EdgeAbs64:
				order.PutUint64(content[start:], value)
			case linkgraph.EdgeDelta64:
				order.PutUint64(content[start:], value-uint64(fixupAddr))
			case linkgraph.EdgeRel32:
				delta := int64(value - uint64(fixupAddr) - 4)
				rel, err := safecast.Conv[int32](delta)
				if err != nil {
					return &FixupRangeError{Block: b.Addr(), Edge: e, Target: target, Err: err}
				}
				order.PutUint32(content[start:], uint32(rel))
			default:
				return fmt.Errorf("block@%s: unknown edge kind %d", b.Addr(), e.Kind)
			}
		}
	}
	return nil
}
