package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	// KindSpanBegin marks the start of a logical operation.
	KindSpanBegin Kind = iota + 1
	// KindSpanEnd marks the end of a logical operation.
	KindSpanEnd
	// KindPoint represents an instant event.
	KindPoint
	// KindHeartbeat is a periodic liveness signal.
	KindHeartbeat
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity of the event.
// Lower values are coarser.
type Scope uint8

const (
	// ScopeSession covers a whole linking session.
	ScopeSession Scope = iota + 1
	// ScopeUnit covers one materialization unit's lifecycle.
	ScopeUnit
	// ScopePass covers pass lists and the fixup phase.
	ScopePass
	// ScopePlugin covers single plugin hook dispatches.
	ScopePlugin
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopeSession:
		return "session"
	case ScopeUnit:
		return "unit"
	case ScopePass:
		return "pass"
	case ScopePlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time     time.Time
	Seq      uint64 // global, monotonic
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64 // 0 for root spans
	Name     string // e.g. "unit:entry", "pass:pre-fixup"
	Detail   string
	Extra    map[string]string
}
