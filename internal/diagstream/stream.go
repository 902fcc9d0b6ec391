// Package diagstream is the process-wide diagnostic text stream.
//
// Graph dumps and lifecycle messages from plugins are written here. The
// stream is initialised once at program start with Init; until then it
// writes to os.Stderr. Writes are serialized so that dumps of units linked
// concurrently do not interleave mid-line, and they are best-effort: a
// failing sink drops output and counts it but never reports an error to the
// caller.
package diagstream

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

var (
	mu      sync.Mutex
	out     io.Writer = os.Stderr
	dropped atomic.Uint64
)

// Init replaces the stream's sink. A nil writer discards output.
func Init(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	mu.Lock()
	out = w
	mu.Unlock()
}

// Write writes p as one unit. It never fails.
func Write(p []byte) {
	mu.Lock()
	defer mu.Unlock()
	if _, err := out.Write(p); err != nil {
		dropped.Add(1)
	}
}

// WriteString writes s as one unit.
func WriteString(s string) {
	Write([]byte(s))
}

// Printf formats and writes a message as one unit.
func Printf(format string, args ...any) {
	Write(fmt.Appendf(nil, format, args...))
}

// Writer returns an io.Writer that forwards to the stream. Each Write call is
// serialized independently and always reports success.
func Writer() io.Writer { return streamWriter{} }

type streamWriter struct{}

func (streamWriter) Write(p []byte) (int, error) {
	Write(p)
	return len(p), nil
}

// Flush flushes the sink if it supports flushing.
func Flush() error {
	mu.Lock()
	defer mu.Unlock()
	switch f := out.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case interface{ Sync() error }:
		if f == os.Stderr || f == os.Stdout {
			return nil
		}
		return f.Sync()
	}
	return nil
}

// Dropped returns the number of writes lost to sink errors.
func Dropped() uint64 { return dropped.Load() }
