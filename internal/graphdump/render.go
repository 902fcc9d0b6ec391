// Package graphdump renders link graph snapshots as address-sorted hex dumps.
//
// The output format is stable and parsed by downstream tooling:
//
//	--- Before fixup:---
//	  section: __text
//	    block@0x0000000000001003:
//	    0x0000000000001000:          b8 07 00 00 00
//
// Each non zero-fill block is followed by a blank line. Zero-fill blocks print
// only their block@ line.
package graphdump

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"fortio.org/safecast"

	"objlink/internal/linkgraph"
)

// DefaultLineWidth is the number of bytes rendered per line.
const DefaultLineWidth = 16

const blankCell = "   "

// Options configures rendering.
type Options struct {
	// LineWidth is the number of bytes per line; zero means DefaultLineWidth.
	LineWidth uint64
	// Sections restricts output to the named sections when non-empty.
	Sections []string
}

func (o Options) width() uint64 {
	if o.LineWidth == 0 {
		return DefaultLineWidth
	}
	return o.LineWidth
}

func (o Options) include(name string) bool {
	if len(o.Sections) == 0 {
		return true
	}
	for _, s := range o.Sections {
		if s == name {
			return true
		}
	}
	return false
}

// Render returns the dump of g with the default options.
func Render(g *linkgraph.Graph, title string) string {
	return RenderWith(g, title, Options{})
}

// RenderWith returns the dump of g using opts.
func RenderWith(g *linkgraph.Graph, title string, opts Options) string {
	var sb strings.Builder
	// strings.Builder never fails.
	_ = Write(&sb, g, title, opts)
	return sb.String()
}

// Write renders g to w. The graph is only read. Output rendered before an
// error still reaches w.
func Write(w io.Writer, g *linkgraph.Graph, title string, opts Options) error {
	return flushed(w, func(bw *bufio.Writer) error {
		fmt.Fprintf(bw, "--- %s---\n", title)
		for _, s := range g.Sections() {
			if !opts.include(s.Name()) {
				continue
			}
			fmt.Fprintf(bw, "  section: %s\n", s.Name())
			for _, b := range s.Blocks() {
				if err := writeBlock(bw, viewOf(b), opts.width()); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// flushed runs fn against a buffered w and flushes what fn wrote whether or
// not it failed. fn's error wins over the flush error.
func flushed(w io.Writer, fn func(*bufio.Writer) error) error {
	bw := bufio.NewWriter(w)
	err := fn(bw)
	if ferr := bw.Flush(); err == nil {
		err = ferr
	}
	return err
}

// blockView is the part of a block the renderer reads.
type blockView struct {
	addr     linkgraph.Addr
	size     uint64
	content  []byte
	zeroFill bool
}

func viewOf(b *linkgraph.Block) blockView {
	return blockView{addr: b.Addr(), size: b.Size(), content: b.Content(), zeroFill: b.IsZeroFill()}
}

func writeBlock(w *bufio.Writer, b blockView, width uint64) error {
	fmt.Fprintf(w, "    block@%s:\n", b.addr)
	if b.zeroFill {
		return nil
	}

	start := b.addr
	end := b.addr + linkgraph.Addr(b.size)
	content := b.content

	for cur := start.AlignDown(width); cur != end; cur++ {
		if uint64(cur)%width == 0 {
			fmt.Fprintf(w, "    %s: ", cur)
		}
		if cur < start {
			w.WriteString(blankCell)
		} else {
			idx, err := safecast.Conv[int](uint64(cur - start))
			if err != nil {
				return fmt.Errorf("block@%s: offset %d: %w", start, uint64(cur-start), err)
			}
			if idx >= len(content) {
				return fmt.Errorf("block@%s: content is %d bytes, size is %d", start, len(content), b.size)
			}
			fmt.Fprintf(w, "%02x ", content[idx])
		}
		if uint64(cur)%width == width-1 {
			w.WriteByte('\n')
		}
	}
	if uint64(end)%width != 0 {
		w.WriteByte('\n')
	}
	w.WriteByte('\n')
	return nil
}
