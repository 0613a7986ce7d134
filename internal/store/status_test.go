package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusMarkerRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []Status{
		{State: StatePending},
		{State: StateProcessing},
		{State: StateComplete},
		{State: StateError},
		{State: StateError, Detail: "manifest write failed: disk full"},
	}

	for _, status := range cases {
		got := ParseStatus(status.Marker())
		require.Equal(t, status, got, "marker %q", status.Marker())
	}
}

func TestParseStatusToleratesWhitespace(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status{State: StateComplete}, ParseStatus("COMPLETE\n"))
	require.Equal(t, Status{State: StateProcessing}, ParseStatus("  PROCESSING  "))
}

func TestParseStatusUnknownMarker(t *testing.T) {
	t.Parallel()

	status := ParseStatus("HALF-WRI")
	require.Equal(t, StateError, status.State)
	require.Contains(t, status.Detail, "HALF-WRI")
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, Status{State: StatePending}.Terminal())
	require.False(t, Status{State: StateProcessing}.Terminal())
	require.True(t, Status{State: StateComplete}.Terminal())
	require.True(t, Status{State: StateError, Detail: "x"}.Terminal())
}
