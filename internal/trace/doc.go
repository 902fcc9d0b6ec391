// Package trace records lifecycle events of the object linking layer.
//
// Tracing answers "where did this unit spend its time" and "which plugin
// hook was running when it hung". It is separate from the diagnostic stream:
// trace events are structured and may be written as NDJSON, while the
// diagnostic stream carries human-readable graph dumps.
//
// # Usage
//
//	objlink link --trace=- --trace-level=unit obj.toml
//
// # Tracers
//
//   - Nop: zero-overhead tracer when disabled
//   - StreamTracer: writes every event immediately
//   - RingTracer: keeps the last N events for a post-mortem dump
//   - MultiTracer: fans out to several tracers
//
// # Levels and scopes
//
// Levels select which scopes are emitted:
//
//   - LevelSession: session boundaries only
//   - LevelUnit: plus per-unit lifecycle spans
//   - LevelPass: plus link passes and fixup phases
//   - LevelDebug: plus individual plugin hook dispatches
//
// Tracers travel through the pipeline on the context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeUnit, "unit:entry", 0)
//	defer span.End("")
package trace
