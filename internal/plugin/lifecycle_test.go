package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleHappyPath(t *testing.T) {
	l := NewLifecycle("u")
	assert.Equal(t, StateConfiguring, l.State())
	for _, s := range []State{StatePreFixup, StateFixup, StatePostFixup, StateLoaded, StateEmitted} {
		require.NoError(t, l.Advance(s), "advance to %s", s)
	}
	assert.True(t, l.Terminal())
	require.NoError(t, l.Advance(StateResourcesTransferred))
	require.NoError(t, l.Advance(StateResourcesRemoved))
}

func TestLifecycleFailurePaths(t *testing.T) {
	for _, upTo := range []State{StateConfiguring, StatePreFixup, StateFixup, StatePostFixup, StateLoaded} {
		l := NewLifecycle("u")
		for _, s := range []State{StatePreFixup, StateFixup, StatePostFixup, StateLoaded} {
			if l.State() == upTo {
				break
			}
			require.NoError(t, l.Advance(s))
		}
		require.NoError(t, l.Advance(StateFailed), "fail from %s", upTo)
		assert.True(t, l.Terminal())
	}
}

func TestLifecycleRejectsSkipsAndReversals(t *testing.T) {
	cases := []struct {
		path []State
		bad  State
	}{
		{nil, StateLoaded},
		{nil, StateEmitted},
		{[]State{StatePreFixup}, StatePostFixup},
		{[]State{StatePreFixup, StateFixup}, StatePreFixup},
		{[]State{StatePreFixup, StateFixup, StatePostFixup, StateLoaded, StateEmitted}, StateFailed},
		{[]State{StateFailed}, StateEmitted},
		{[]State{StateFailed, StateResourcesRemoved}, StateResourcesTransferred},
		{nil, StateResourcesRemoved},
	}
	for _, tc := range cases {
		l := NewLifecycle("u")
		for _, s := range tc.path {
			require.NoError(t, l.Advance(s))
		}
		before := l.State()
		err := l.Advance(tc.bad)
		require.ErrorIs(t, err, ErrLifecycleOrder)
		var stateErr *StateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, before, stateErr.From)
		assert.Equal(t, tc.bad, stateErr.To)
		assert.Equal(t, before, l.State(), "rejected transition must not change state")
	}
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "pre-fixup", StatePreFixup.String())
	assert.Equal(t, "resources-transferred", StateResourcesTransferred.String())
	assert.Equal(t, "unknown", State(0).String())
	assert.False(t, StateLoaded.Terminal())
	assert.True(t, StateFailed.Terminal())
}
