package linker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objlink/internal/linkgraph"
	"objlink/internal/plugin"
)

// single builds a one-block graph defining sym.
func single(t *testing.T, name, sym string, addr linkgraph.Addr) *linkgraph.Graph {
	t.Helper()
	g := linkgraph.New(name, "x86_64-unknown-linux-gnu", 8, linkgraph.LittleEndian)
	b, err := g.CreateSection("__text").CreateContentBlock(addr, []byte{0xc3})
	require.NoError(t, err)
	_, err = g.AddDefinedSymbol(b, sym, 0, linkgraph.ScopeDefault, true)
	require.NoError(t, err)
	return g
}

// blockingPlugin parks every unit in its pre-fixup pass until released.
func blockingPlugin(entered chan<- struct{}, release <-chan struct{}) plugin.Plugin {
	return plugin.Funcs{
		ModifyPassConfigFunc: func(_ *plugin.Unit, _ string, cfg *plugin.PassConfig) {
			cfg.PreFixup = append(cfg.PreFixup, func(*linkgraph.Graph) error {
				entered <- struct{}{}
				<-release
				return nil
			})
		},
	}
}

func TestRemoveReleasesScope(t *testing.T) {
	rec := &recorder{}
	l := NewLayer(WithPlugins(rec))
	_, err := link(t, l, testModule(t, "m"), 7)
	require.NoError(t, err)
	assert.Equal(t, []plugin.ResourceKey{7}, l.Keys())

	require.NoError(t, l.Remove(7))
	assert.Empty(t, l.Keys())
	_, ok := l.Lookup("entry")
	assert.False(t, ok)
	assert.Equal(t, "remove 7", rec.Events()[len(rec.Events())-1])

	require.ErrorIs(t, l.Remove(7), ErrUnknownResource)
}

func TestRemoveWaitsForTerminalState(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder{}
	l := NewLayer(WithPlugins(blockingPlugin(entered, release), rec))
	g := testModule(t, "m")

	done := make(chan error, 1)
	go func() {
		_, err := l.Link(context.Background(), plugin.UnitFromGraph(g, 1), g)
		done <- err
	}()
	<-entered

	require.ErrorIs(t, l.Remove(1), ErrUnitsInFlight)
	assert.NotContains(t, rec.Events(), "remove 1")
	require.NoError(t, l.Err(), "a refused removal is not fatal")

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, l.Remove(1))
	assert.Contains(t, rec.Events(), "remove 1")
}

func TestRemoveRejectedByPlugin(t *testing.T) {
	rec := &recorder{failRemove: errors.New("busy")}
	l := NewLayer(WithPlugins(rec))
	_, err := link(t, l, testModule(t, "m"), 1)
	require.NoError(t, err)

	var hookErr *plugin.HookError
	require.ErrorAs(t, l.Remove(1), &hookErr)
	assert.Equal(t, []plugin.ResourceKey{1}, l.Keys())
	_, ok := l.Lookup("entry")
	assert.True(t, ok)

	rec.mu.Lock()
	rec.failRemove = nil
	rec.mu.Unlock()
	require.NoError(t, l.Remove(1))
	assert.Empty(t, l.Keys())
}

func TestRemoveRefusesNewUnitsUnderKey(t *testing.T) {
	rec := &recorder{}
	l := NewLayer()
	late := single(t, "b", "late", 0x3000)

	var linkErr error
	l.AddPlugin(plugin.Funcs{
		NotifyRemovingResourcesFunc: func(key plugin.ResourceKey) error {
			_, linkErr = l.Link(context.Background(), plugin.UnitFromGraph(late, key), late)
			return nil
		},
	})
	l.AddPlugin(rec)

	_, err := link(t, l, testModule(t, "a"), 5)
	require.NoError(t, err)
	require.NoError(t, l.Remove(5))

	require.ErrorIs(t, linkErr, ErrResourceRemoving)
	assert.NotErrorIs(t, linkErr, ErrSessionCorrupted)
	require.NoError(t, l.Err())
	assert.NotContains(t, rec.Events(), "configure b")
	assert.Empty(t, l.Keys())

	// Once the scope is gone the key is usable again.
	_, err = l.Link(context.Background(), plugin.UnitFromGraph(late, 5), late)
	require.NoError(t, err)
	assert.Equal(t, []plugin.ResourceKey{5}, l.Keys())
}

func TestTransferRefusesKeyBeingRemoved(t *testing.T) {
	l := NewLayer()
	var transferErr error
	l.AddPlugin(plugin.Funcs{
		NotifyRemovingResourcesFunc: func(key plugin.ResourceKey) error {
			transferErr = l.Transfer(key, 6)
			return nil
		},
	})

	_, err := link(t, l, single(t, "a", "a", 0x1000), 5)
	require.NoError(t, err)
	_, err = link(t, l, single(t, "b", "b", 0x2000), 6)
	require.NoError(t, err)

	require.NoError(t, l.Remove(5))
	require.ErrorIs(t, transferErr, ErrResourceRemoving)
	require.NoError(t, l.Err())
	assert.Equal(t, []plugin.ResourceKey{6}, l.Keys())
	_, ok := l.Lookup("b")
	assert.True(t, ok)
}

func TestTransferMergesScopes(t *testing.T) {
	rec := &recorder{}
	l := NewLayer(WithPlugins(rec))
	_, err := link(t, l, single(t, "a", "a_sym", 0x1000), 1)
	require.NoError(t, err)
	_, err = link(t, l, single(t, "b", "b_sym", 0x2000), 2)
	require.NoError(t, err)

	require.NoError(t, l.Transfer(2, 1))
	assert.Equal(t, []plugin.ResourceKey{2}, l.Keys())
	assert.Contains(t, rec.Events(), "transfer 1 -> 2")

	require.NoError(t, l.Transfer(2, 2))
	require.ErrorIs(t, l.Transfer(2, 9), ErrUnknownResource)
	require.NoError(t, l.Err())

	require.NoError(t, l.Remove(2))
	for _, sym := range []string{"a_sym", "b_sym"} {
		_, ok := l.Lookup(sym)
		assert.False(t, ok, sym)
	}
}

func TestTransferToNewKey(t *testing.T) {
	l := NewLayer()
	_, err := link(t, l, single(t, "a", "a_sym", 0x1000), 1)
	require.NoError(t, err)

	require.NoError(t, l.Transfer(5, 1))
	assert.Equal(t, []plugin.ResourceKey{5}, l.Keys())
	addr, ok := l.Lookup("a_sym")
	require.True(t, ok)
	assert.Equal(t, linkgraph.Addr(0x1000), addr)
}

func TestTransferInFlightPoisonsLayer(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	l := NewLayer(WithPlugins(blockingPlugin(entered, release)))
	g := testModule(t, "m")

	done := make(chan error, 1)
	go func() {
		_, err := l.Link(context.Background(), plugin.UnitFromGraph(g, 1), g)
		done <- err
	}()
	<-entered

	require.ErrorIs(t, l.Transfer(2, 1), ErrSessionCorrupted)
	close(release)
	require.ErrorIs(t, <-done, ErrSessionCorrupted)

	require.ErrorIs(t, l.Err(), ErrSessionCorrupted)
	require.ErrorIs(t, l.Remove(1), ErrSessionCorrupted)
	require.ErrorIs(t, l.DefineAbsolute("x", 1), ErrSessionCorrupted)
	_, err := link(t, l, single(t, "late", "late_sym", 0x9000), 3)
	require.ErrorIs(t, err, ErrSessionCorrupted)
}

func TestLinkAllLinksConcurrently(t *testing.T) {
	var active, peak atomic.Int32
	limiter := plugin.Funcs{
		ModifyPassConfigFunc: func(_ *plugin.Unit, _ string, cfg *plugin.PassConfig) {
			cfg.PreFixup = append(cfg.PreFixup, func(*linkgraph.Graph) error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				active.Add(-1)
				return nil
			})
		},
	}
	rec := &recorder{}
	l := NewLayer(WithPlugins(limiter, rec), WithJobs(2))

	var jobs []Job
	for i := range 8 {
		g := single(t, fmt.Sprintf("u%d", i), fmt.Sprintf("sym%d", i), linkgraph.Addr(0x1000*(i+1)))
		jobs = append(jobs, Job{Unit: plugin.UnitFromGraph(g, plugin.ResourceKey(i)), Graph: g})
	}

	results, err := l.LinkAll(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, 8)
	for i, res := range results {
		assert.Equal(t, fmt.Sprintf("u%d", i), res.Unit.Name)
		assert.Equal(t, plugin.StateEmitted, res.State)
		assert.NoError(t, res.Err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, l.Keys(), 8)
}

func TestLinkAllCollectsUnitFailures(t *testing.T) {
	boom := errors.New("boom")
	failing := plugin.Funcs{
		ModifyPassConfigFunc: func(u *plugin.Unit, _ string, cfg *plugin.PassConfig) {
			if u.Name != "u1" {
				return
			}
			cfg.PostFixup = append(cfg.PostFixup, func(*linkgraph.Graph) error { return boom })
		},
	}
	l := NewLayer(WithPlugins(failing))

	var jobs []Job
	for i := range 3 {
		g := single(t, fmt.Sprintf("u%d", i), fmt.Sprintf("sym%d", i), linkgraph.Addr(0x100*(i+1)))
		jobs = append(jobs, Job{Unit: plugin.UnitFromGraph(g, 1), Graph: g})
	}

	results, err := l.LinkAll(context.Background(), jobs)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, plugin.StateEmitted, results[0].State)
	assert.Equal(t, plugin.StateFailed, results[1].State)
	assert.Equal(t, plugin.StateEmitted, results[2].State)
	require.NoError(t, l.Err())
}

func TestLinkAllOnPoisonedLayer(t *testing.T) {
	l := NewLayer()
	l.poison(errors.New("test"))

	g := single(t, "u", "s", 0x10)
	results, err := l.LinkAll(context.Background(), []Job{{Unit: plugin.UnitFromGraph(g, 1), Graph: g}})
	require.ErrorIs(t, err, ErrSessionCorrupted)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrSessionCorrupted)
}

func TestChannelSinkForwardsEvents(t *testing.T) {
	ch := make(chan Event, 64)
	l := NewLayer(WithProgress(ChannelSink{Ch: ch}))
	g := single(t, "u", "s", 0x10)

	var wg sync.WaitGroup
	var got []Event
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range ch {
			got = append(got, e)
		}
	}()
	_, err := l.LinkAll(context.Background(), []Job{{Unit: plugin.UnitFromGraph(g, 1), Graph: g}})
	require.NoError(t, err)
	close(ch)
	wg.Wait()

	require.NotEmpty(t, got)
	assert.Equal(t, StatusQueued, got[0].Status)
	assert.Equal(t, StatusDone, got[len(got)-1].Status)
}
