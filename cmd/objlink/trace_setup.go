package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"objlink/internal/config"
	"objlink/internal/trace"
)

// setupTracing merges the persistent trace flags over the [trace] table,
// creates the tracer and attaches it to the command context. The returned
// cleanup stops the heartbeat and flushes the tracer.
func setupTracing(cmd *cobra.Command, tc config.TraceConfig) (trace.Tracer, func(), error) {
	flags := cmd.Flags()
	overrides := []struct {
		flag string
		dst  *string
	}{
		{"trace", &tc.Output},
		{"trace-level", &tc.Level},
		{"trace-mode", &tc.Mode},
		{"trace-format", &tc.Format},
	}
	for _, o := range overrides {
		if !flags.Changed(o.flag) {
			continue
		}
		v, err := flags.GetString(o.flag)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get %s flag: %w", o.flag, err)
		}
		*o.dst = v
	}
	if flags.Changed("trace-ring-size") {
		n, err := flags.GetInt("trace-ring-size")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
		}
		tc.RingSize = n
	}
	if flags.Changed("trace-heartbeat") {
		d, err := flags.GetDuration("trace-heartbeat")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
		}
		tc.Heartbeat = d.String()
	}
	// An explicit output without a level traces units.
	if flags.Changed("trace") && !flags.Changed("trace-level") && (tc.Level == "" || tc.Level == "off") {
		tc.Level = trace.LevelUnit.String()
	}

	cfg, err := tc.TracerConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid trace settings: %w", err)
	}
	if cfg.Level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return trace.Nop, func() {}, nil
	}

	tracer, err := trace.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	cmd.SetContext(trace.WithTracer(cmd.Context(), tracer))

	var heartbeat *trace.Heartbeat
	if cfg.Heartbeat > 0 {
		heartbeat = trace.StartHeartbeat(tracer, cfg.Heartbeat)
	}

	cleanup := func() {
		if heartbeat != nil {
			heartbeat.Stop()
		}
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return tracer, cleanup, nil
}

// ringOf returns the in-memory ring behind tracer, if it keeps one.
func ringOf(tracer trace.Tracer) *trace.RingTracer {
	switch t := tracer.(type) {
	case *trace.RingTracer:
		return t
	case *trace.MultiTracer:
		return t.Ring()
	default:
		return nil
	}
}
