package linker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"objlink/internal/linkgraph"
	"objlink/internal/plugin"
	"objlink/internal/trace"
)

// scope is the bookkeeping for one resource key: the units linked under it
// and the session symbols they published.
type scope struct {
	units    []*plugin.Lifecycle
	symbols  []string
	removing bool
}

func (s *scope) inFlight() int {
	n := 0
	for _, lc := range s.units {
		if !lc.Terminal() {
			n++
		}
	}
	return n
}

// track adds lc to the scope for key. A scope being removed accepts no new
// units.
func (l *Layer) track(key plugin.ResourceKey, lc *plugin.Lifecycle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	sc, ok := l.scopes[key]
	if !ok {
		sc = &scope{}
		l.scopes[key] = sc
	}
	if sc.removing {
		return fmt.Errorf("%w: %d", ErrResourceRemoving, key)
	}
	sc.units = append(sc.units, lc)
	return nil
}

// publish makes g's default and hidden symbols visible to later units in
// the session. Either every symbol is published or none is.
func (l *Layer) publish(key plugin.ResourceKey, g *linkgraph.Graph) ([]string, error) {
	var names []string
	for _, sym := range g.Symbols() {
		if sym.IsDefined() && sym.Scope != linkgraph.ScopeLocal {
			names = append(names, sym.Name)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.poisoned != nil {
		return nil, l.poisoned
	}
	for _, name := range names {
		if _, ok := l.symbols[name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateDefinition, name)
		}
	}
	for _, name := range names {
		l.symbols[name] = g.Symbol(name).Address()
	}
	sc, ok := l.scopes[key]
	if !ok {
		sc = &scope{}
		l.scopes[key] = sc
	}
	sc.symbols = append(sc.symbols, names...)
	return names, nil
}

func (l *Layer) unpublish(key plugin.ResourceKey, names []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		delete(l.symbols, name)
		drop[name] = struct{}{}
	}
	if sc, ok := l.scopes[key]; ok {
		kept := sc.symbols[:0]
		for _, name := range sc.symbols {
			if _, ok := drop[name]; !ok {
				kept = append(kept, name)
			}
		}
		sc.symbols = kept
	}
}

// Keys returns the tracked resource keys in ascending order.
func (l *Layer) Keys() []plugin.ResourceKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]plugin.ResourceKey, 0, len(l.scopes))
	for key := range l.scopes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Remove releases every resource under key. It fails with ErrUnitsInFlight,
// leaving the scope untouched, while any of its units is still linking. If
// a plugin rejects the removal the scope is kept and the error returned.
func (l *Layer) Remove(key plugin.ResourceKey) error {
	start := time.Now()
	l.mu.Lock()
	if l.poisoned != nil {
		l.mu.Unlock()
		return l.poisoned
	}
	sc, ok := l.scopes[key]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownResource, key)
	}
	if sc.removing {
		l.mu.Unlock()
		return fmt.Errorf("resource key %d: removal already in progress", key)
	}
	if n := sc.inFlight(); n > 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: key %d has %d", ErrUnitsInFlight, key, n)
	}
	sc.removing = true
	l.mu.Unlock()

	unit := fmt.Sprintf("key:%d", key)
	l.emit(unit, PhaseRemove, StatusWorking, nil, 0)
	if err := l.registry.NotifyRemovingResources(key); err != nil {
		l.mu.Lock()
		sc.removing = false
		l.mu.Unlock()
		l.emit(unit, PhaseRemove, StatusError, err, time.Since(start))
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lc := range sc.units {
		if err := lc.Advance(plugin.StateResourcesRemoved); err != nil {
			if l.poisoned == nil {
				l.poisoned = fmt.Errorf("%w: %w", ErrSessionCorrupted, err)
			}
			return l.poisoned
		}
	}
	for _, name := range sc.symbols {
		delete(l.symbols, name)
	}
	delete(l.scopes, key)
	trace.Point(l.tracer, trace.ScopeSession, "resources:remove", fmt.Sprintf("key=%d units=%d", key, len(sc.units)), 0)
	l.emit(unit, PhaseRemove, StatusDone, nil, time.Since(start))
	return nil
}

// Transfer moves everything tracked under src to dst. Transferring a scope
// with units still in flight is a fatal ordering error: the layer is
// poisoned and every later call fails with ErrSessionCorrupted. A dst that
// is being removed is refused with ErrResourceRemoving.
func (l *Layer) Transfer(dst, src plugin.ResourceKey) error {
	start := time.Now()
	l.mu.Lock()
	if l.poisoned != nil {
		l.mu.Unlock()
		return l.poisoned
	}
	from, ok := l.scopes[src]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownResource, src)
	}
	if dst == src {
		l.mu.Unlock()
		return nil
	}
	if to, ok := l.scopes[dst]; ok && to.removing {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrResourceRemoving, dst)
	}
	if n := from.inFlight(); n > 0 || from.removing {
		l.poisoned = fmt.Errorf("%w: transfer %d -> %d with %d units in flight", ErrSessionCorrupted, src, dst, n)
		l.mu.Unlock()
		return l.poisoned
	}
	for _, lc := range from.units {
		if err := lc.Advance(plugin.StateResourcesTransferred); err != nil {
			l.poisoned = fmt.Errorf("%w: %w", ErrSessionCorrupted, err)
			l.mu.Unlock()
			return l.poisoned
		}
	}
	to, ok := l.scopes[dst]
	if !ok {
		to = &scope{}
		l.scopes[dst] = to
	}
	to.units = append(to.units, from.units...)
	to.symbols = append(to.symbols, from.symbols...)
	delete(l.scopes, src)
	l.mu.Unlock()

	unit := fmt.Sprintf("key:%d", src)
	l.registry.NotifyTransferringResources(dst, src)
	trace.Point(l.tracer, trace.ScopeSession, "resources:transfer", fmt.Sprintf("%d -> %d", src, dst), 0)
	l.emit(unit, PhaseTransfer, StatusDone, nil, time.Since(start))
	return nil
}

// Job is one unit to link with LinkAll.
type Job struct {
	Unit  *plugin.Unit
	Graph *linkgraph.Graph
}

// LinkAll links jobs concurrently, at most WithJobs at a time. Each unit's
// lifecycle stays sequential. Ordinary unit failures do not stop the other
// units; they are reported in the matching Result and joined into the
// returned error. A session corruption cancels the units not yet started.
func (l *Layer) LinkAll(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	for i, job := range jobs {
		results[i].Unit = job.Unit
		if job.Unit != nil {
			l.emit(job.Unit.Name, PhaseConfigure, StatusQueued, nil, 0)
		}
	}

	tracer := l.tracerFor(ctx)
	span := trace.Begin(tracer, trace.ScopeSession, "session:link-all", trace.CurrentSpan(ctx))
	ctx = trace.WithSpan(ctx, span)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultJobs(l.jobs))
	for i, job := range jobs {
		g.Go(func() error {
			res, err := l.Link(gctx, job.Unit, job.Graph)
			if res.Unit == nil {
				res.Unit = job.Unit
			}
			res.Err = err
			results[i] = res
			if errors.Is(err, ErrSessionCorrupted) {
				return err
			}
			return nil
		})
	}
	fatal := g.Wait()

	var errs []error
	if fatal != nil {
		errs = append(errs, fatal)
	}
	failed := 0
	for _, res := range results {
		if res.Err != nil && !errors.Is(res.Err, ErrSessionCorrupted) {
			errs = append(errs, res.Err)
			failed++
		}
	}
	span.WithExtra("units", fmt.Sprint(len(jobs))).WithExtra("failed", fmt.Sprint(failed)).End("")
	return results, errors.Join(errs...)
}
