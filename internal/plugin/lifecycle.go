package plugin

import (
	"errors"
	"fmt"
	"sync"
)

// State is a step in a unit's linking lifecycle.
type State uint8

const (
	StateConfiguring State = iota + 1
	StatePreFixup
	StateFixup
	StatePostFixup
	StateLoaded
	StateEmitted
	StateFailed
	StateResourcesRemoved
	StateResourcesTransferred
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StatePreFixup:
		return "pre-fixup"
	case StateFixup:
		return "fixup"
	case StatePostFixup:
		return "post-fixup"
	case StateLoaded:
		return "loaded"
	case StateEmitted:
		return "emitted"
	case StateFailed:
		return "failed"
	case StateResourcesRemoved:
		return "resources-removed"
	case StateResourcesTransferred:
		return "resources-transferred"
	default:
		return "unknown"
	}
}

// Terminal reports whether the unit has finished linking, successfully or not.
func (s State) Terminal() bool {
	return s >= StateEmitted
}

// ErrLifecycleOrder is wrapped by every StateError.
var ErrLifecycleOrder = errors.New("lifecycle hook out of order")

// StateError reports a transition that skips or reverses a lifecycle step.
type StateError struct {
	Unit string
	From State
	To   State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("unit %q: illegal lifecycle transition %s -> %s", e.Unit, e.From, e.To)
}

func (e *StateError) Unwrap() error { return ErrLifecycleOrder }

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateConfiguring:          {StatePreFixup, StateFailed},
	StatePreFixup:             {StateFixup, StateFailed},
	StateFixup:                {StatePostFixup, StateFailed},
	StatePostFixup:            {StateLoaded, StateFailed},
	StateLoaded:               {StateEmitted, StateFailed},
	StateEmitted:              {StateResourcesRemoved, StateResourcesTransferred},
	StateFailed:               {StateResourcesRemoved, StateResourcesTransferred},
	StateResourcesTransferred: {StateResourcesRemoved, StateResourcesTransferred},
}

// Lifecycle tracks one unit's progress and rejects out-of-order transitions.
// It is safe for concurrent use so that resource management can inspect a
// unit while it is linking.
type Lifecycle struct {
	mu    sync.Mutex
	unit  string
	state State
}

// NewLifecycle starts tracking unit in StateConfiguring.
func NewLifecycle(unit string) *Lifecycle {
	return &Lifecycle{unit: unit, state: StateConfiguring}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Terminal reports whether the unit reached Emitted or Failed.
func (l *Lifecycle) Terminal() bool {
	return l.State().Terminal()
}

// Advance moves to next, or returns a *StateError if next is not a legal
// successor of the current state.
func (l *Lifecycle) Advance(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, allowed := range transitions[l.state] {
		if allowed == next {
			l.state = next
			return nil
		}
	}
	return &StateError{Unit: l.unit, From: l.state, To: next}
}
