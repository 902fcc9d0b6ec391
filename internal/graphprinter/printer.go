// Package graphprinter provides the reference plugin: it dumps every linked
// graph before and after fixups and logs load and emit events to the
// diagnostic stream.
package graphprinter

import (
	"bytes"
	"io"

	"objlink/internal/diagstream"
	"objlink/internal/graphdump"
	"objlink/internal/linkgraph"
	"objlink/internal/plugin"
)

const (
	// BeforeFixupTitle heads the dump taken by the pre-fixup pass.
	BeforeFixupTitle = "Before fixup:"
	// AfterFixupTitle heads the dump taken by the post-fixup pass.
	AfterFixupTitle = "After fixup:"
)

// Options configures a Printer.
type Options struct {
	Dump graphdump.Options
	// Output overrides the diagnostic stream. It must be safe for
	// concurrent use when units are linked in parallel.
	Output io.Writer
	// Quiet suppresses the load and emit messages.
	Quiet bool
}

// Printer is a stateless plugin; it is safe to share across units.
type Printer struct {
	plugin.Base
	opts Options
}

// New creates a Printer.
func New(opts Options) *Printer {
	return &Printer{opts: opts}
}

// ModifyPassConfig adds one dump pass before fixups and one after.
func (p *Printer) ModifyPassConfig(_ *plugin.Unit, _ string, cfg *plugin.PassConfig) {
	cfg.PreFixup = append(cfg.PreFixup, func(g *linkgraph.Graph) error {
		p.print(g, BeforeFixupTitle)
		return nil
	})
	cfg.PostFixup = append(cfg.PostFixup, func(g *linkgraph.Graph) error {
		p.print(g, AfterFixupTitle)
		return nil
	})
}

// NotifyLoaded logs the symbols of the unit being loaded.
func (p *Printer) NotifyLoaded(u *plugin.Unit) {
	if p.opts.Quiet {
		return
	}
	p.write([]byte("Loading object defining " + u.Symbols.String() + "\n"))
}

// NotifyEmitted logs the symbols of the emitted unit.
func (p *Printer) NotifyEmitted(u *plugin.Unit) error {
	if p.opts.Quiet {
		return nil
	}
	p.write([]byte("Emitted object defining " + u.Symbols.String() + "\n"))
	return nil
}

// print renders into a buffer first so that the dump reaches the output in
// one write. A block whose content disagrees with its size stops the dump
// early; what was rendered up to it is still written. Diagnostics never fail
// the link, so the error is dropped.
func (p *Printer) print(g *linkgraph.Graph, title string) {
	var buf bytes.Buffer
	_ = graphdump.Write(&buf, g, title, p.opts.Dump)
	p.write(buf.Bytes())
}

func (p *Printer) write(b []byte) {
	if p.opts.Output != nil {
		_, _ = p.opts.Output.Write(b)
		return
	}
	diagstream.Write(b)
}
