package trace

import (
	"fmt"
	"strings"
)

// Level controls tracing verbosity.
type Level uint8

const (
	LevelOff Level = iota
	LevelSession
	LevelUnit
	LevelPass
	LevelDebug
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelSession:
		return "session"
	case LevelUnit:
		return "unit"
	case LevelPass:
		return "pass"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "", "off":
		return LevelOff, nil
	case "session":
		return LevelSession, nil
	case "unit":
		return LevelUnit, nil
	case "pass":
		return LevelPass, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|session|unit|pass|debug)", s)
	}
}

// ShouldEmit reports whether events of scope are recorded at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	switch l {
	case LevelSession:
		return scope <= ScopeSession
	case LevelUnit:
		return scope <= ScopeUnit
	case LevelPass:
		return scope <= ScopePass
	case LevelDebug:
		return true
	default:
		return false
	}
}
