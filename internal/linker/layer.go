// Package linker hosts plugins around an in-process object linking layer.
//
// A Layer takes laid-out link graphs, runs the passes plugins contribute,
// applies fixups between the two pass points and reports each unit's
// lifecycle back to the plugins. It does not allocate executable memory;
// "loaded" means the graph's content is final.
package linker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"objlink/internal/linkgraph"
	"objlink/internal/observ"
	"objlink/internal/plugin"
	"objlink/internal/trace"
)

// Option configures a Layer.
type Option func(*Layer)

// WithPlugins registers plugins in the given order.
func WithPlugins(plugins ...plugin.Plugin) Option {
	return func(l *Layer) {
		for _, p := range plugins {
			l.registry.Add(p)
		}
	}
}

// WithProgress sets the sink that receives per-phase progress events.
func WithProgress(sink ProgressSink) Option {
	return func(l *Layer) { l.progress = sink }
}

// WithJobs limits how many units LinkAll links at once. Zero or less means
// GOMAXPROCS.
func WithJobs(n int) Option {
	return func(l *Layer) { l.jobs = n }
}

// WithTracer sets the tracer used when the context passed to Link carries
// none. Plugin dispatch is traced with it as well.
func WithTracer(t trace.Tracer) Option {
	return func(l *Layer) {
		if t == nil {
			t = trace.Nop
		}
		l.tracer = t
		l.registry.SetTracer(t)
	}
}

// Layer is an object linking layer with a plugin registry.
// It is safe for concurrent use.
type Layer struct {
	registry *plugin.Registry
	progress ProgressSink
	tracer   trace.Tracer
	jobs     int

	mu       sync.Mutex
	poisoned error
	symbols  map[string]linkgraph.Addr
	absolute map[string]struct{}
	scopes   map[plugin.ResourceKey]*scope
}

// NewLayer creates a layer with no plugins and no session symbols.
func NewLayer(opts ...Option) *Layer {
	l := &Layer{
		registry: plugin.NewRegistry(),
		tracer:   trace.Nop,
		symbols:  make(map[string]linkgraph.Addr),
		absolute: make(map[string]struct{}),
		scopes:   make(map[plugin.ResourceKey]*scope),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddPlugin registers p after all previously registered plugins.
func (l *Layer) AddPlugin(p plugin.Plugin) { l.registry.Add(p) }

// Registry returns the layer's plugin registry.
func (l *Layer) Registry() *plugin.Registry { return l.registry }

// DefineAbsolute makes name resolvable at addr for every unit linked later.
func (l *Layer) DefineAbsolute(name string, addr linkgraph.Addr) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.poisoned != nil {
		return l.poisoned
	}
	if _, ok := l.symbols[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateDefinition, name)
	}
	l.symbols[name] = addr
	l.absolute[name] = struct{}{}
	return nil
}

// Lookup returns the session address of name: an absolute definition or a
// symbol exported by an emitted unit.
func (l *Layer) Lookup(name string) (linkgraph.Addr, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, ok := l.symbols[name]
	return addr, ok
}

// Err returns the error that poisoned the layer, or nil.
func (l *Layer) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poisoned
}

// poison marks the session unusable. The first cause wins.
func (l *Layer) poison(cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.poisoned == nil {
		l.poisoned = fmt.Errorf("%w: %w", ErrSessionCorrupted, cause)
	}
	return l.poisoned
}

func (l *Layer) tracerFor(ctx context.Context) trace.Tracer {
	if t := trace.FromContext(ctx); t.Enabled() {
		return t
	}
	return l.tracer
}

func (l *Layer) emit(unit string, phase Phase, status Status, err error, elapsed time.Duration) {
	if l.progress == nil {
		return
	}
	l.progress.OnEvent(Event{Unit: unit, Phase: phase, Status: status, Err: err, Elapsed: elapsed})
}

// Result describes a linked unit.
type Result struct {
	Unit  *plugin.Unit
	State plugin.State
	// Symbols holds the final address of every non-local symbol the unit
	// defines. It is empty for failed units.
	Symbols map[string]linkgraph.Addr
	Timings observ.Report
	Err     error
}

// unitRun carries one unit through its lifecycle.
type unitRun struct {
	layer  *Layer
	unit   *plugin.Unit
	graph  *linkgraph.Graph
	lc     *plugin.Lifecycle
	timer  *observ.Timer
	tracer trace.Tracer
	parent uint64
}

// Link runs unit u over graph g: passes, fixups, then load and emit
// notifications. On any failure the plugins are told via NotifyFailed and the
// original error is returned, joined with whatever NotifyFailed reported.
//
// Units that reference each other's symbols must be linked in dependency
// order; a unit's exported symbols become visible once it is emitted.
func (l *Layer) Link(ctx context.Context, u *plugin.Unit, g *linkgraph.Graph) (Result, error) {
	if u == nil || g == nil {
		return Result{}, errors.New("linker: nil unit or graph")
	}
	if err := l.Err(); err != nil {
		return Result{Unit: u}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{Unit: u}, err
	}

	run := &unitRun{
		layer:  l,
		unit:   u,
		graph:  g,
		lc:     plugin.NewLifecycle(u.Name),
		timer:  observ.NewTimer(),
		tracer: l.tracerFor(ctx),
	}
	if err := l.track(u.Key, run.lc); err != nil {
		l.emit(u.Name, PhaseConfigure, StatusError, err, 0)
		return Result{Unit: u}, err
	}

	span := trace.Begin(run.tracer, trace.ScopeUnit, "unit:"+u.Name, trace.CurrentSpan(ctx))
	run.parent = span.ID()
	err := run.execute()
	state := run.lc.State()
	span.WithExtra("state", state.String()).End(errDetail(err))

	res := Result{Unit: u, State: state, Timings: run.timer.Report(), Err: err}
	if err == nil {
		res.Symbols = definedSymbols(g)
	}
	return res, err
}

func (r *unitRun) execute() error {
	if err := r.graph.Validate(); err != nil {
		return r.fail(PhaseConfigure, err)
	}

	var cfg plugin.PassConfig
	triple := r.graph.Triple
	if triple == "" {
		triple = r.unit.Triple
	}
	if err := r.phase(PhaseConfigure, 0, func() error {
		cfg = r.layer.registry.ConfigurePasses(r.unit, triple)
		return nil
	}); err != nil {
		return err
	}

	if err := r.phase(PhasePreFixup, plugin.StatePreFixup, func() error {
		return runPasses(PhasePreFixup, cfg.PreFixup, r.graph)
	}); err != nil {
		return err
	}

	if err := r.phase(PhaseFixup, plugin.StateFixup, func() error {
		addrs, err := r.layer.resolveTargets(r.unit.Name, r.graph)
		if err != nil {
			return err
		}
		return applyFixups(r.graph, addrs)
	}); err != nil {
		return err
	}

	if err := r.phase(PhasePostFixup, plugin.StatePostFixup, func() error {
		return runPasses(PhasePostFixup, cfg.PostFixup, r.graph)
	}); err != nil {
		return err
	}

	if err := r.phase(PhaseLoad, plugin.StateLoaded, func() error {
		r.layer.registry.NotifyLoaded(r.unit)
		return nil
	}); err != nil {
		return err
	}

	return r.phase(PhaseEmit, 0, func() error {
		published, err := r.layer.publish(r.unit.Key, r.graph)
		if err != nil {
			return err
		}
		if err := r.layer.registry.NotifyEmitted(r.unit); err != nil {
			r.layer.unpublish(r.unit.Key, published)
			return err
		}
		return r.advance(plugin.StateEmitted)
	})
}

// phase advances the lifecycle to state (when non-zero), runs fn and routes
// a failure to NotifyFailed.
func (r *unitRun) phase(p Phase, state plugin.State, fn func() error) error {
	if state != 0 {
		if err := r.advance(state); err != nil {
			return err
		}
	}
	r.layer.emit(r.unit.Name, p, StatusWorking, nil, 0)
	idx := r.timer.Begin(string(p))
	span := trace.Begin(r.tracer, trace.ScopePass, "phase:"+string(p), r.parent)
	err := fn()
	elapsed := span.End(errDetail(err))
	r.timer.End(idx, errDetail(err))
	if err != nil {
		r.layer.emit(r.unit.Name, p, StatusError, err, elapsed)
		if errors.Is(err, ErrSessionCorrupted) {
			return err
		}
		return r.fail(p, err)
	}
	r.layer.emit(r.unit.Name, p, StatusDone, nil, elapsed)
	return nil
}

// advance moves the lifecycle forward. It stops at the first phase boundary
// after the layer is poisoned; an illegal transition poisons it.
func (r *unitRun) advance(next plugin.State) error {
	if err := r.layer.Err(); err != nil {
		return err
	}
	if err := r.lc.Advance(next); err != nil {
		return r.layer.poison(err)
	}
	return nil
}

func (r *unitRun) fail(p Phase, cause error) error {
	if err := r.advance(plugin.StateFailed); err != nil {
		return errors.Join(cause, err)
	}
	trace.Point(r.tracer, trace.ScopeUnit, "unit:failed", fmt.Sprintf("%s: %v", p, cause), r.parent)
	if err := r.layer.registry.NotifyFailed(r.unit); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func runPasses(p Phase, passes []plugin.Pass, g *linkgraph.Graph) error {
	for i, pass := range passes {
		if err := pass(g); err != nil {
			return &PassError{Phase: p, Index: i, Err: err}
		}
	}
	return nil
}

func definedSymbols(g *linkgraph.Graph) map[string]linkgraph.Addr {
	out := make(map[string]linkgraph.Addr)
	for _, sym := range g.Symbols() {
		if sym.IsDefined() && sym.Scope != linkgraph.ScopeLocal {
			out[sym.Name] = sym.Address()
		}
	}
	return out
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func defaultJobs(n int) int {
	if n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}
