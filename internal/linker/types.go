package linker

import "time"

// Phase names a step of linking a unit or managing its resources.
type Phase string

const (
	PhaseConfigure Phase = "configure"
	PhasePreFixup  Phase = "pre-fixup"
	PhaseFixup     Phase = "fixup"
	PhasePostFixup Phase = "post-fixup"
	PhaseLoad      Phase = "load"
	PhaseEmit      Phase = "emit"
	PhaseRemove    Phase = "remove"
	PhaseTransfer  Phase = "transfer"
)

// Status captures progress within a phase.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Event reports progress for a unit.
type Event struct {
	Unit    string
	Phase   Phase
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events. It may be called from several
// goroutines when units are linked concurrently.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(Event)

func (f SinkFunc) OnEvent(evt Event) { f(evt) }
