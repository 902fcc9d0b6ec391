package linkgraph

import (
	"fmt"
	"strings"
)

// EdgeKind identifies how a fixup is computed and stored.
type EdgeKind uint8

const (
	// EdgeAbs64 stores the absolute 64-bit target address plus addend.
	EdgeAbs64 EdgeKind = iota + 1
	// EdgeRel32 stores a 32-bit offset relative to the end of the fixup
	// (target + addend - (fixup address + 4)), as used by x86-64 calls.
	EdgeRel32
	// EdgeDelta64 stores target + addend - fixup address as 64 bits.
	EdgeDelta64
)

// String returns the string representation of EdgeKind.
func (k EdgeKind) String() string {
	switch k {
	case EdgeAbs64:
		return "abs64"
	case EdgeRel32:
		return "rel32"
	case EdgeDelta64:
		return "delta64"
	default:
		return "unknown"
	}
}

// Width returns the number of bytes the fixup overwrites.
func (k EdgeKind) Width() uint64 {
	switch k {
	case EdgeAbs64, EdgeDelta64:
		return 8
	case EdgeRel32:
		return 4
	default:
		return 0
	}
}

// ParseEdgeKind converts a string to EdgeKind.
func ParseEdgeKind(s string) (EdgeKind, error) {
	switch strings.ToLower(s) {
	case "abs64":
		return EdgeAbs64, nil
	case "rel32":
		return EdgeRel32, nil
	case "delta64":
		return EdgeDelta64, nil
	default:
		return 0, fmt.Errorf("invalid edge kind: %q (expected: abs64|rel32|delta64)", s)
	}
}

// Edge is a fixup inside a block that refers to a symbol by name.
type Edge struct {
	Kind   EdgeKind
	Offset uint64 // relative to the start of the block
	Target string
	Addend int64
}
