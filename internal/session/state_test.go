package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func machineIn(t *testing.T, path ...Event) *Machine {
	t.Helper()
	m := NewMachine()
	for _, ev := range path {
		_, err := m.Advance(ev)
		require.NoError(t, err)
	}
	return m
}

func TestMachine_HappyPath(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, Idle, m.State())

	steps := []struct {
		event Event
		want  State
	}{
		{Subscribe, Syncing},
		{SyncBegin, Syncing},
		{SyncSegment, Syncing},
		{SyncSegment, Syncing},
		{SyncEnd, Live},
		{Detach, Closed},
	}
	for _, step := range steps {
		got, err := m.Advance(step.event)
		require.NoError(t, err, step.event)
		assert.Equal(t, step.want, got, step.event)
	}
}

func TestMachine_Exploring(t *testing.T) {
	m := machineIn(t, ExploreBegin)
	assert.Equal(t, Exploring, m.State())

	state, err := m.Advance(ExploreEnd)
	require.NoError(t, err)
	assert.Equal(t, Idle, state)

	m = machineIn(t, ExploreBegin, Subscribe)
	assert.Equal(t, Syncing, m.State())
}

func TestMachine_IllegalTransitions(t *testing.T) {
	cases := []struct {
		name  string
		setup []Event
		event Event
	}{
		{"segment while live", []Event{Subscribe, SyncEnd}, SyncSegment},
		{"sync-end while idle", nil, SyncEnd},
		{"subscribe twice", []Event{Subscribe}, Subscribe},
		{"explore-end while idle", nil, ExploreEnd},
		{"explore-begin while syncing", []Event{Subscribe}, ExploreBegin},
		{"subscribe while live", []Event{Subscribe, SyncEnd}, Subscribe},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := machineIn(t, tc.setup...)
			before := m.State()

			state, err := m.Advance(tc.event)
			assert.ErrorIs(t, err, ErrIllegalTransition)
			assert.Equal(t, before, state)
			assert.Equal(t, before, m.State())
		})
	}
}

func TestMachine_DetachAndErrorFromAnyState(t *testing.T) {
	paths := [][]Event{
		nil,
		{ExploreBegin},
		{Subscribe},
		{Subscribe, SyncEnd},
	}
	for _, terminal := range []Event{Detach, Error} {
		for _, path := range paths {
			m := machineIn(t, path...)
			state, err := m.Advance(terminal)
			require.NoError(t, err)
			assert.Equal(t, Closed, state)
		}
	}
}

func TestMachine_ClosedIgnoresEvents(t *testing.T) {
	m := machineIn(t, Subscribe)
	m.Close()
	since := m.Since()

	for _, ev := range []Event{ExploreBegin, ExploreEnd, Subscribe, SyncBegin, SyncSegment, SyncEnd, Detach, Error} {
		state, err := m.Advance(ev)
		assert.NoError(t, err, ev)
		assert.Equal(t, Closed, state, ev)
	}
	assert.Equal(t, since, m.Since())
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "live", Live.String())
	assert.Equal(t, "sync-segment", SyncSegment.String())
	assert.Equal(t, "state(42)", State(42).String())
}
