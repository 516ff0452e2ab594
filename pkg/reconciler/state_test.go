package reconciler_test

import (
	"errors"
	"testing"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/reconciler"
)

func TestConn_HappyPath(t *testing.T) {
	c := reconciler.NewConn()
	if c.State() != reconciler.Disconnected {
		t.Fatalf("Initial state should be Disconnected, got %s", c.State())
	}

	var seen []reconciler.State
	c.OnTransition(func(from, to reconciler.State) { seen = append(seen, to) })

	path := []reconciler.State{
		reconciler.Connecting,
		reconciler.Connected,
		reconciler.Reconnecting,
		reconciler.Connected,
		reconciler.Disconnecting,
		reconciler.Disconnected,
	}
	for _, s := range path {
		if err := c.Transition(s); err != nil {
			t.Fatalf("Transition to %s failed: %v", s, err)
		}
	}
	if len(seen) != len(path) {
		t.Errorf("Expected %d notifications, got %d", len(path), len(seen))
	}
}

func TestConn_FailurePaths(t *testing.T) {
	c := reconciler.NewConn()
	mustTransition(t, c, reconciler.Connecting, reconciler.Disconnected)

	mustTransition(t, c, reconciler.Connecting, reconciler.Connected, reconciler.Reconnecting, reconciler.Disconnected)
}

func TestConn_InvalidTransitions(t *testing.T) {
	cases := []struct {
		setup []reconciler.State
		to    reconciler.State
	}{
		{nil, reconciler.Connected},
		{nil, reconciler.Reconnecting},
		{[]reconciler.State{reconciler.Connecting}, reconciler.Reconnecting},
		{[]reconciler.State{reconciler.Connecting, reconciler.Connected}, reconciler.Connecting},
		{[]reconciler.State{reconciler.Disconnecting}, reconciler.Connecting},
		{[]reconciler.State{reconciler.Disconnecting}, reconciler.Disconnecting},
	}

	for _, tc := range cases {
		c := reconciler.NewConn()
		mustTransition(t, c, tc.setup...)
		before := c.State()

		err := c.Transition(tc.to)
		if !errors.Is(err, reconciler.ErrInvalidTransition) {
			t.Errorf("%s -> %s: expected ErrInvalidTransition, got %v", before, tc.to, err)
		}
		if c.State() != before {
			t.Errorf("Rejected transition changed state to %s", c.State())
		}
	}
}

func TestConn_ShutdownFromAnyState(t *testing.T) {
	for _, setup := range [][]reconciler.State{
		nil,
		{reconciler.Connecting},
		{reconciler.Connecting, reconciler.Connected},
		{reconciler.Connecting, reconciler.Connected, reconciler.Reconnecting},
	} {
		c := reconciler.NewConn()
		mustTransition(t, c, setup...)
		mustTransition(t, c, reconciler.Disconnecting, reconciler.Disconnected)
	}
}

func mustTransition(t *testing.T, c *reconciler.Conn, states ...reconciler.State) {
	t.Helper()
	for _, s := range states {
		if err := c.Transition(s); err != nil {
			t.Fatalf("Transition to %s failed: %v", s, err)
		}
	}
}
