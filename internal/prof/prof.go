// Package prof wires Go's pprof and runtime tracing into the CLI.
package prof

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	rtrace "runtime/trace"
)

// Options names the files to write. Empty paths are skipped.
type Options struct {
	CPUProfile   string
	MemProfile   string
	RuntimeTrace string
}

// Enabled reports whether any output was requested.
func (o Options) Enabled() bool {
	return o.CPUProfile != "" || o.MemProfile != "" || o.RuntimeTrace != ""
}

// Session is an active profiling session. Only one may run at a time
// because the CPU profiler and the runtime tracer are process-wide.
type Session struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
}

// Start begins CPU profiling and runtime tracing as requested. The heap
// profile is written by Stop.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}
	if opts.CPUProfile != "" {
		f, err := os.Create(opts.CPUProfile)
		if err != nil {
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		s.cpuFile = f
	}
	if opts.RuntimeTrace != "" {
		f, err := os.Create(opts.RuntimeTrace)
		if err != nil {
			_ = s.stopCPU()
			return nil, fmt.Errorf("runtime trace: %w", err)
		}
		if err := rtrace.Start(f); err != nil {
			_ = f.Close()
			_ = s.stopCPU()
			return nil, fmt.Errorf("runtime trace: %w", err)
		}
		s.traceFile = f
	}
	return s, nil
}

// Stop ends the session and writes the heap profile. It is safe to call on
// a nil session and more than once.
func (s *Session) Stop() error {
	if s == nil {
		return nil
	}
	var errs []error
	if err := s.stopCPU(); err != nil {
		errs = append(errs, fmt.Errorf("cpu profile: %w", err))
	}
	if s.traceFile != nil {
		rtrace.Stop()
		if err := s.traceFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("runtime trace: %w", err))
		}
		s.traceFile = nil
	}
	if s.opts.MemProfile != "" {
		if err := writeHeap(s.opts.MemProfile); err != nil {
			errs = append(errs, fmt.Errorf("heap profile: %w", err))
		}
		s.opts.MemProfile = ""
	}
	return errors.Join(errs...)
}

func (s *Session) stopCPU() error {
	if s.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := s.cpuFile.Close()
	s.cpuFile = nil
	return err
}

func writeHeap(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}
