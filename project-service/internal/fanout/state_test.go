package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_HappyPath(t *testing.T) {
	m := newMachine()
	require.Equal(t, StateReceived, m.state)
	require.NoError(t, m.to(StateResolved))
	require.NoError(t, m.to(StateApplied))
	assert.True(t, m.state.Terminal())
}

func TestMachine_IllegalTransitions(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{StateReceived, StateApplied},
		{StateApplied, StateFailed},
		{StateFailed, StateResolved},
		{StateResolved, StateReceived},
	}
	for _, c := range cases {
		m := &machine{state: c.from}
		assert.Error(t, m.to(c.to), "%s -> %s", c.from, c.to)
		assert.Equal(t, c.from, m.state)
	}
}

func TestMachine_FailFromEitherLiveState(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.to(StateFailed))

	m = newMachine()
	require.NoError(t, m.to(StateResolved))
	require.NoError(t, m.to(StateFailed))
	assert.True(t, m.state.Terminal())
}
