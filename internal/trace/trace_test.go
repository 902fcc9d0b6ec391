package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"":        LevelOff,
		"off":     LevelOff,
		"SESSION": LevelSession,
		"unit":    LevelUnit,
		"pass":    LevelPass,
		"debug":   LevelDebug,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestLevelShouldEmit(t *testing.T) {
	assert.False(t, LevelOff.ShouldEmit(ScopeSession))
	assert.True(t, LevelSession.ShouldEmit(ScopeSession))
	assert.False(t, LevelSession.ShouldEmit(ScopeUnit))
	assert.True(t, LevelUnit.ShouldEmit(ScopeUnit))
	assert.False(t, LevelUnit.ShouldEmit(ScopePass))
	assert.True(t, LevelPass.ShouldEmit(ScopePass))
	assert.False(t, LevelPass.ShouldEmit(ScopePlugin))
	assert.True(t, LevelDebug.ShouldEmit(ScopePlugin))
}

func TestStreamTracerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelUnit, FormatText)

	span := Begin(tr, ScopeUnit, "unit:entry", 0)
	Begin(tr, ScopePass, "pass:pre-fixup", span.ID()).End("")
	span.WithExtra("symbols", "2").End("emitted")

	out := buf.String()
	assert.Contains(t, out, "→ unit:entry")
	assert.Contains(t, out, "← unit:entry (emitted) {symbols=2}")
	assert.NotContains(t, out, "pre-fixup")
}

func TestNDJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDebug, FormatNDJSON)
	Point(tr, ScopePlugin, "plugin:notify-emitted", "#0", 7)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "point", decoded["kind"])
	assert.Equal(t, "plugin", decoded["scope"])
	assert.Equal(t, "plugin:notify-emitted", decoded["name"])
	assert.EqualValues(t, 7, decoded["parent_id"])
}

func TestRingTracerWraps(t *testing.T) {
	tr := NewRingTracer(3, LevelDebug)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		Point(tr, ScopeUnit, name, "", 0)
	}
	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "c", snap[0].Name)
	assert.Equal(t, "e", snap[2].Name)

	var buf bytes.Buffer
	require.NoError(t, tr.Dump(&buf, FormatText))
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))
}

func TestNewTracerModes(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	require.NoError(t, err)
	assert.False(t, tr.Enabled())

	var buf bytes.Buffer
	tr, err = New(Config{Level: LevelUnit, Mode: ModeBoth, Output: &buf})
	require.NoError(t, err)
	multi, ok := tr.(*MultiTracer)
	require.True(t, ok)
	Point(tr, ScopeUnit, "x", "", 0)
	assert.Contains(t, buf.String(), "• x")
	require.NotNil(t, multi.Ring())
	assert.Len(t, multi.Ring().Snapshot(), 1)
	require.NoError(t, tr.Close())

	_, err = New(Config{Level: LevelUnit, Mode: StorageMode(9)})
	require.Error(t, err)
}

func TestContextPropagation(t *testing.T) {
	assert.Equal(t, Nop, FromContext(context.Background()))

	tr := NewRingTracer(8, LevelDebug)
	ctx := WithTracer(context.Background(), tr)
	assert.Same(t, tr, FromContext(ctx))

	span := Begin(tr, ScopeUnit, "u", 0)
	ctx = WithSpan(ctx, span)
	assert.Equal(t, span.ID(), CurrentSpan(ctx))
	assert.Zero(t, CurrentSpan(context.Background()))
}

func TestInertSpan(t *testing.T) {
	span := Begin(Nop, ScopeSession, "s", 0)
	assert.Zero(t, span.ID())
	assert.Zero(t, span.WithExtra("k", "v").End(""))
}

func TestHeartbeat(t *testing.T) {
	assert.Nil(t, StartHeartbeat(Nop, time.Millisecond))

	tr := NewRingTracer(64, LevelSession)
	h := StartHeartbeat(tr, time.Millisecond)
	require.NotNil(t, h)
	require.Eventually(t, func() bool { return len(tr.Snapshot()) > 0 }, time.Second, time.Millisecond)
	h.Stop()
	h.Stop()
	assert.Equal(t, KindHeartbeat, tr.Snapshot()[0].Kind)
}
