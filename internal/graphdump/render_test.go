package graphdump

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objlink/internal/linkgraph"
)

func newGraph(t *testing.T) *linkgraph.Graph {
	t.Helper()
	return linkgraph.New("test", "x86_64-unknown-linux-gnu", 8, linkgraph.LittleEndian)
}

func seq(n int, from byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = from + byte(i)
	}
	return out
}

func TestRenderUnalignedBlock(t *testing.T) {
	g := newGraph(t)
	_, err := g.CreateSection("__text").CreateContentBlock(0x1003, []byte{0xb8, 0x07, 0x00, 0x00, 0x00})
	require.NoError(t, err)

	want := "--- Before fixup:---\n" +
		"  section: __text\n" +
		"    block@0x0000000000001003:\n" +
		"    0x0000000000001000:          b8 07 00 00 00 \n" +
		"\n"
	assert.Equal(t, want, Render(g, "Before fixup:"))
}

func TestRenderAlignedFullLine(t *testing.T) {
	g := newGraph(t)
	_, err := g.CreateSection("__data").CreateContentBlock(0x2000, seq(16, 0))
	require.NoError(t, err)

	want := "--- T---\n" +
		"  section: __data\n" +
		"    block@0x0000000000002000:\n" +
		"    0x0000000000002000: 00 01 02 03 04 05 06 07 08 09 0a 0b 0c 0d 0e 0f \n" +
		"\n"
	assert.Equal(t, want, Render(g, "T"))
}

func TestRenderSpansLines(t *testing.T) {
	g := newGraph(t)
	_, err := g.CreateSection("s").CreateContentBlock(0x10, seq(20, 0xe0))
	require.NoError(t, err)

	want := "--- T---\n" +
		"  section: s\n" +
		"    block@0x0000000000000010:\n" +
		"    0x0000000000000010: e0 e1 e2 e3 e4 e5 e6 e7 e8 e9 ea eb ec ed ee ef \n" +
		"    0x0000000000000020: f0 f1 f2 f3 \n" +
		"\n"
	assert.Equal(t, want, Render(g, "T"))
}

func TestRenderZeroFillPrintsHeaderOnly(t *testing.T) {
	for _, size := range []uint64{0, 1, 15, 16, 4096} {
		g := newGraph(t)
		_, err := g.CreateSection("__bss").CreateZeroFillBlock(0x3008, size)
		require.NoError(t, err)

		want := "--- T---\n" +
			"  section: __bss\n" +
			"    block@0x0000000000003008:\n"
		assert.Equal(t, want, Render(g, "T"), "size %d", size)
	}
}

func TestRenderEmptyContentBlock(t *testing.T) {
	g := newGraph(t)
	s := g.CreateSection("s")
	_, err := s.CreateContentBlock(0x40, nil)
	require.NoError(t, err)
	_, err = s.CreateContentBlock(0x52, []byte{})
	require.NoError(t, err)

	want := "--- T---\n" +
		"  section: s\n" +
		"    block@0x0000000000000040:\n" +
		"\n" +
		"    block@0x0000000000000052:\n" +
		"    0x0000000000000050:       \n" +
		"\n"
	assert.Equal(t, want, Render(g, "T"))
}

func TestRenderKeepsNativeOrder(t *testing.T) {
	g := newGraph(t)
	data := g.CreateSection("__data")
	text := g.CreateSection("__text")
	_, err := data.CreateContentBlock(0x9000, []byte{1})
	require.NoError(t, err)
	_, err = text.CreateContentBlock(0x2000, []byte{2})
	require.NoError(t, err)
	_, err = text.CreateContentBlock(0x1000, []byte{3})
	require.NoError(t, err)

	out := Render(g, "T")
	iData := strings.Index(out, "section: __data")
	iText := strings.Index(out, "section: __text")
	i2000 := strings.Index(out, "block@0x0000000000002000")
	i1000 := strings.Index(out, "block@0x0000000000001000")
	assert.True(t, iData < iText, "sections must not be re-sorted")
	assert.True(t, i2000 < i1000, "blocks must not be re-sorted")
}

func TestRenderIsIdempotent(t *testing.T) {
	g := newGraph(t)
	s := g.CreateSection("__text")
	_, err := s.CreateContentBlock(0x1007, seq(37, 0x41))
	require.NoError(t, err)
	_, err = g.CreateSection("__bss").CreateZeroFillBlock(0x4000, 128)
	require.NoError(t, err)

	first := Render(g, "Before fixup:")
	second := Render(g, "Before fixup:")
	assert.Equal(t, first, second)
}

func TestRenderPaddingAndCellCount(t *testing.T) {
	for _, tc := range []struct {
		base  linkgraph.Addr
		size  int
		width uint64
	}{
		{0x1003, 5, 16},
		{0x100f, 1, 16},
		{0x1001, 40, 16},
		{0x0005, 12, 8},
		{0x0011, 33, 32},
		{0x0007, 10, 10},
	} {
		g := newGraph(t)
		_, err := g.CreateSection("s").CreateContentBlock(tc.base, seq(tc.size, 0x10))
		require.NoError(t, err)

		out := RenderWith(g, "T", Options{LineWidth: tc.width})
		blank, filled := countCells(t, out)
		assert.Equal(t, tc.size, filled, "base %s", tc.base)
		assert.Equal(t, int(uint64(tc.base)%tc.width), blank, "base %s", tc.base)
	}
}

func TestRenderLiteralCaseHeaderCount(t *testing.T) {
	g := newGraph(t)
	_, err := g.CreateSection("s").CreateContentBlock(0x1003, seq(5, 1))
	require.NoError(t, err)

	out := Render(g, "T")
	assert.Equal(t, 1, strings.Count(out, "    0x"), "exactly one line header")
	assert.Contains(t, out, "    0x0000000000001000:          01 02 03 04 05 \n")
}

func TestRenderSectionFilter(t *testing.T) {
	g := newGraph(t)
	_, err := g.CreateSection("__text").CreateContentBlock(0x1000, []byte{1})
	require.NoError(t, err)
	_, err = g.CreateSection("__data").CreateContentBlock(0x2000, []byte{2})
	require.NoError(t, err)

	out := RenderWith(g, "T", Options{Sections: []string{"__data"}})
	assert.NotContains(t, out, "__text")
	assert.Contains(t, out, "section: __data")
}

func TestRenderDoesNotMutate(t *testing.T) {
	g := newGraph(t)
	content := seq(9, 0)
	b, err := g.CreateSection("s").CreateContentBlock(0x1, content)
	require.NoError(t, err)

	_ = Render(g, "T")
	assert.Equal(t, seq(9, 0), b.Content())
	assert.Equal(t, linkgraph.Addr(0x1), b.Addr())
	assert.Equal(t, uint64(9), b.Size())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestWriteReportsWriterError(t *testing.T) {
	g := newGraph(t)
	_, err := g.CreateSection("s").CreateContentBlock(0x1, []byte{1})
	require.NoError(t, err)

	require.Error(t, Write(failingWriter{}, g, "T", Options{}))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, g, "T", Options{}))
	assert.Equal(t, Render(g, "T"), buf.String())
}

func TestWriteFlushesRenderedOutputOnBlockError(t *testing.T) {
	var buf bytes.Buffer
	err := flushed(&buf, func(bw *bufio.Writer) error {
		bw.WriteString("--- T---\n  section: s\n")
		require.NoError(t, writeBlock(bw, blockView{addr: 0x10, size: 2, content: []byte{0xaa, 0xbb}}, DefaultLineWidth))
		return writeBlock(bw, blockView{addr: 0x20, size: 4, content: []byte{0x01, 0x02}}, DefaultLineWidth)
	})
	require.EqualError(t, err, "block@0x0000000000000020: content is 2 bytes, size is 4")

	out := buf.String()
	assert.Contains(t, out, "    block@0x0000000000000010:\n    0x0000000000000010: aa bb \n\n")
	assert.True(t, strings.HasSuffix(out, "    block@0x0000000000000020:\n    0x0000000000000020: 01 02 "), "partial block must be flushed: %q", out)
}

func TestFlushedReportsWriterError(t *testing.T) {
	err := flushed(failingWriter{}, func(bw *bufio.Writer) error {
		_, werr := bw.WriteString("x")
		return werr
	})
	require.EqualError(t, err, "closed")

	err = flushed(failingWriter{}, func(*bufio.Writer) error { return errors.New("render") })
	require.EqualError(t, err, "render")
}

// countCells walks the hex lines of a single-block dump and counts blank and
// filled cells.
func countCells(t *testing.T, out string) (blank, filled int) {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "    0x") {
			continue
		}
		idx := strings.Index(line, ": ")
		require.Positive(t, idx)
		cells := line[idx+2:]
		require.Zero(t, len(cells)%3, "cells must be 3 columns wide: %q", cells)
		for i := 0; i < len(cells); i += 3 {
			if cells[i:i+3] == blankCell {
				blank++
			} else {
				filled++
			}
		}
	}
	return blank, filled
}
