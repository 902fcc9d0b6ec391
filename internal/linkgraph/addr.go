package linkgraph

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Addr is an address in the target's address space.
type Addr uint64

// String formats the address as a zero-padded 16 digit hex value.
func (a Addr) String() string {
	return fmt.Sprintf("0x%016x", uint64(a))
}

// AlignDown rounds a down to the nearest multiple of width.
// A zero width leaves the address unchanged.
func (a Addr) AlignDown(width uint64) Addr {
	if width == 0 {
		return a
	}
	return a - Addr(uint64(a)%width)
}

// Endianness selects the byte order used when fixups are written.
type Endianness uint8

const (
	// LittleEndian is the default byte order.
	LittleEndian Endianness = iota
	// BigEndian stores the most significant byte first.
	BigEndian
)

// String returns the string representation of Endianness.
func (e Endianness) String() string {
	switch e {
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	default:
		return "unknown"
	}
}

// ByteOrder returns the matching encoding/binary byte order.
func (e Endianness) ByteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// ParseEndianness converts a string to Endianness.
func ParseEndianness(s string) (Endianness, error) {
	switch strings.ToLower(s) {
	case "", "little", "le":
		return LittleEndian, nil
	case "big", "be":
		return BigEndian, nil
	default:
		return LittleEndian, fmt.Errorf("invalid endianness: %q (expected: little|big)", s)
	}
}
