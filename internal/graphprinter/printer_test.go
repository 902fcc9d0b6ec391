package graphprinter

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objlink/internal/diagstream"
	"objlink/internal/graphdump"
	"objlink/internal/linkgraph"
	"objlink/internal/plugin"
)

func sampleGraph(t *testing.T) *linkgraph.Graph {
	t.Helper()
	g := linkgraph.New("m", "x86_64-unknown-linux-gnu", 8, linkgraph.LittleEndian)
	b, err := g.CreateSection("__text").CreateContentBlock(0x1000, []byte{0xb8, 0x07, 0x00, 0x00, 0x00, 0xc3})
	require.NoError(t, err)
	_, err = g.AddDefinedSymbol(b, "callee", 0, linkgraph.ScopeDefault, true)
	require.NoError(t, err)
	return g
}

func TestPrinterAddsOnePassPerPoint(t *testing.T) {
	var buf bytes.Buffer
	p := New(Options{Output: &buf})
	g := sampleGraph(t)

	var cfg plugin.PassConfig
	p.ModifyPassConfig(plugin.UnitFromGraph(g, 1), g.Triple, &cfg)
	require.Len(t, cfg.PreFixup, 1)
	require.Len(t, cfg.PostFixup, 1)

	require.NoError(t, cfg.PreFixup[0](g))
	require.NoError(t, cfg.PostFixup[0](g))

	want := graphdump.Render(g, BeforeFixupTitle) + graphdump.Render(g, AfterFixupTitle)
	assert.Equal(t, want, buf.String())
}

func TestPrinterLogsLifecycle(t *testing.T) {
	var buf bytes.Buffer
	p := New(Options{Output: &buf})
	u := plugin.UnitFromGraph(sampleGraph(t), 1)

	p.NotifyLoaded(u)
	require.NoError(t, p.NotifyEmitted(u))
	require.NoError(t, p.NotifyFailed(u))
	require.NoError(t, p.NotifyRemovingResources(1))
	p.NotifyTransferringResources(2, 1)

	assert.Equal(t,
		"Loading object defining { (callee, [Exported|Callable]) }\n"+
			"Emitted object defining { (callee, [Exported|Callable]) }\n",
		buf.String())
}

func TestPrinterQuiet(t *testing.T) {
	var buf bytes.Buffer
	p := New(Options{Output: &buf, Quiet: true})
	u := plugin.UnitFromGraph(sampleGraph(t), 1)
	p.NotifyLoaded(u)
	require.NoError(t, p.NotifyEmitted(u))
	assert.Empty(t, buf.String())
}

func TestPrinterDefaultsToDiagStream(t *testing.T) {
	var buf bytes.Buffer
	diagstream.Init(&buf)
	t.Cleanup(func() { diagstream.Init(os.Stderr) })

	p := New(Options{Dump: graphdump.Options{Sections: []string{"__data"}}})
	var cfg plugin.PassConfig
	p.ModifyPassConfig(&plugin.Unit{}, "", &cfg)
	require.NoError(t, cfg.PreFixup[0](sampleGraph(t)))

	assert.Equal(t, "--- Before fixup:---\n", buf.String())
	assert.False(t, strings.Contains(buf.String(), "__text"))
}
