package plugin

import (
	"errors"
	"fmt"
	"sync"

	"objlink/internal/trace"
)

// HookError wraps a plugin hook failure with the hook name and the plugin's
// registration index.
type HookError struct {
	Hook   string
	Plugin int
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin #%d: %s: %v", e.Plugin, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Registry holds plugins in registration order and fans lifecycle events out
// to them. Plugins are normally registered during setup; dispatch works on a
// snapshot of the list, so it is safe to link units concurrently.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	tracer  trace.Tracer
}

// NewRegistry creates a registry holding plugins in the given order.
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{tracer: trace.Nop}
	for _, p := range plugins {
		r.Add(p)
	}
	return r
}

// Add registers p after all previously registered plugins. Nil is ignored.
func (r *Registry) Add(p Plugin) {
	if p == nil {
		return
	}
	r.mu.Lock()
	r.plugins = append(r.plugins, p)
	r.mu.Unlock()
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Plugins returns a copy of the registered plugins in order.
func (r *Registry) Plugins() []Plugin {
	plugins, _ := r.snapshot()
	return plugins
}

// SetTracer sets the tracer used for per-hook plugin events.
func (r *Registry) SetTracer(t trace.Tracer) {
	if t == nil {
		t = trace.Nop
	}
	r.mu.Lock()
	r.tracer = t
	r.mu.Unlock()
}

func (r *Registry) snapshot() ([]Plugin, trace.Tracer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	tr := r.tracer
	if tr == nil {
		tr = trace.Nop
	}
	return out, tr
}

// ConfigurePasses asks every plugin, in registration order, for passes to run
// on u's graph. Each plugin appends to an empty configuration and its
// contributions are concatenated after those of earlier plugins, so no plugin
// can drop or reorder another plugin's passes.
func (r *Registry) ConfigurePasses(u *Unit, triple string) PassConfig {
	plugins, tr := r.snapshot()
	var cfg PassConfig
	for i, p := range plugins {
		var own PassConfig
		p.ModifyPassConfig(u, triple, &own)
		cfg.PreFixup = append(cfg.PreFixup, own.PreFixup...)
		cfg.PostFixup = append(cfg.PostFixup, own.PostFixup...)
		trace.Point(tr, trace.ScopePlugin, "plugin:modify-pass-config",
			fmt.Sprintf("#%d pre=%d post=%d", i, len(own.PreFixup), len(own.PostFixup)), 0)
	}
	return cfg
}

// NotifyLoaded tells every plugin that u is in memory.
func (r *Registry) NotifyLoaded(u *Unit) {
	plugins, tr := r.snapshot()
	for i, p := range plugins {
		p.NotifyLoaded(u)
		trace.Point(tr, trace.ScopePlugin, "plugin:notify-loaded", fmt.Sprintf("#%d %s", i, u.Name), 0)
	}
}

// NotifyEmitted tells plugins that u's symbols are visible. The first failure
// stops dispatch and is returned as a *HookError.
func (r *Registry) NotifyEmitted(u *Unit) error {
	plugins, tr := r.snapshot()
	for i, p := range plugins {
		if err := p.NotifyEmitted(u); err != nil {
			trace.Point(tr, trace.ScopePlugin, "plugin:notify-emitted", fmt.Sprintf("#%d %s: %v", i, u.Name, err), 0)
			return &HookError{Hook: "NotifyEmitted", Plugin: i, Err: err}
		}
		trace.Point(tr, trace.ScopePlugin, "plugin:notify-emitted", fmt.Sprintf("#%d %s", i, u.Name), 0)
	}
	return nil
}

// NotifyFailed tells every plugin that u failed. Dispatch is best-effort:
// all plugins are notified and their failures are joined.
func (r *Registry) NotifyFailed(u *Unit) error {
	plugins, tr := r.snapshot()
	var errs []error
	for i, p := range plugins {
		if err := p.NotifyFailed(u); err != nil {
			errs = append(errs, &HookError{Hook: "NotifyFailed", Plugin: i, Err: err})
		}
		trace.Point(tr, trace.ScopePlugin, "plugin:notify-failed", fmt.Sprintf("#%d %s", i, u.Name), 0)
	}
	return errors.Join(errs...)
}

// NotifyRemovingResources tells plugins that key is being released. The
// first failure stops dispatch and is returned as a *HookError.
func (r *Registry) NotifyRemovingResources(key ResourceKey) error {
	plugins, tr := r.snapshot()
	for i, p := range plugins {
		if err := p.NotifyRemovingResources(key); err != nil {
			return &HookError{Hook: "NotifyRemovingResources", Plugin: i, Err: err}
		}
		trace.Point(tr, trace.ScopePlugin, "plugin:notify-removing-resources", fmt.Sprintf("#%d key=%d", i, key), 0)
	}
	return nil
}

// NotifyTransferringResources tells every plugin that src's resources now
// belong to dst.
func (r *Registry) NotifyTransferringResources(dst, src ResourceKey) {
	plugins, tr := r.snapshot()
	for i, p := range plugins {
		p.NotifyTransferringResources(dst, src)
		trace.Point(tr, trace.ScopePlugin, "plugin:notify-transferring-resources", fmt.Sprintf("#%d %d -> %d", i, src, dst), 0)
	}
}
