package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttemptHappyPath(t *testing.T) {
	a := NewAttempt("att-1", "create_position")
	require.Equal(t, AttemptBuilt, a.Status)
	require.False(t, a.Status.Terminal())

	for _, next := range []AttemptStatus{AttemptSimulated, AttemptSigned, AttemptSubmitted, AttemptSuccess} {
		require.NoError(t, a.Transition(next))
	}
	require.True(t, a.Status.Terminal())
	require.False(t, a.EndedAt.IsZero())
}

func TestAttemptPendingResolves(t *testing.T) {
	a := NewAttempt("att-2", "deposit")
	require.NoError(t, a.Transition(AttemptSimulated))
	require.NoError(t, a.Transition(AttemptSigned))
	require.NoError(t, a.Transition(AttemptSubmitted))
	require.NoError(t, a.Transition(AttemptPending))
	require.False(t, a.Status.Terminal(), "pending must stay resolvable")
	require.NoError(t, a.Transition(AttemptSuccess))
}

func TestAttemptSimulationGate(t *testing.T) {
	a := NewAttempt("att-3", "create_position")
	// Signing before simulation is never legal.
	require.Error(t, a.Transition(AttemptSigned))
	require.Error(t, a.Transition(AttemptSubmitted))
	require.Equal(t, AttemptBuilt, a.Status)
}

func TestAttemptNoResurrection(t *testing.T) {
	a := NewAttempt("att-4", "withdraw")
	a.Fail(errors.New("simulate: contract panicked"))
	require.Equal(t, AttemptFailed, a.Status)
	require.Equal(t, "simulate: contract panicked", a.Err)
	require.Error(t, a.Transition(AttemptSigned))
	require.Error(t, a.Transition(AttemptSuccess))
}

func TestAttemptIllegalSkips(t *testing.T) {
	cases := []struct {
		from, to AttemptStatus
	}{
		{AttemptBuilt, AttemptSuccess},
		{AttemptBuilt, AttemptPending},
		{AttemptSimulated, AttemptSubmitted},
		{AttemptSigned, AttemptSuccess},
		{AttemptPending, AttemptSigned},
		{AttemptSuccess, AttemptFailed},
		{AttemptFailed, AttemptBuilt},
	}
	for _, tc := range cases {
		require.False(t, tc.from.CanTransition(tc.to), "%s -> %s must be illegal", tc.from, tc.to)
	}
}
