package linker

import (
	"errors"
	"fmt"
	"strings"

	"objlink/internal/linkgraph"
)

var (
	// ErrSessionCorrupted is returned once the layer has seen an unrecoverable
	// error such as an out-of-order lifecycle transition. Every later call
	// fails with it.
	ErrSessionCorrupted = errors.New("linking session is corrupted")
	// ErrUnitsInFlight indicates a resource scope still has units that have
	// not reached a terminal state.
	ErrUnitsInFlight = errors.New("resource scope has units in flight")
	// ErrResourceRemoving indicates a resource key whose removal is in
	// progress. Nothing new can be linked or transferred into it.
	ErrResourceRemoving = errors.New("resource key is being removed")
	// ErrUnknownResource indicates a resource key the layer does not track.
	ErrUnknownResource = errors.New("unknown resource key")
	// ErrDuplicateDefinition indicates a session-wide symbol defined twice.
	ErrDuplicateDefinition = errors.New("duplicate definition")
)

// UnresolvedSymbolError lists edge targets no definition could be found for.
type UnresolvedSymbolError struct {
	Unit    string
	Symbols []string
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("unit %q: unresolved symbols: %s", e.Unit, strings.Join(e.Symbols, ", "))
}

// FixupRangeError reports a fixup whose value does not fit its storage.
type FixupRangeError struct {
	Block  linkgraph.Addr
	Edge   linkgraph.Edge
	Target linkgraph.Addr
	Err    error
}

func (e *FixupRangeError) Error() string {
	return fmt.Sprintf("block@%s+%d: %s fixup to %s (%s) out of range: %v",
		e.Block, e.Edge.Offset, e.Edge.Kind, e.Edge.Target, e.Target, e.Err)
}

func (e *FixupRangeError) Unwrap() error { return e.Err }

// PassError wraps a failing pass with its pass point and position.
type PassError struct {
	Phase Phase
	Index int
	Err   error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("%s pass #%d: %v", e.Phase, e.Index, e.Err)
}

func (e *PassError) Unwrap() error { return e.Err }
