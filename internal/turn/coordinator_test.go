package turn_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/voxloop/voxloop/internal/turn"
)

func TestCoordinator_CleanTurnCycle(t *testing.T) {
	t.Parallel()
	c := turn.NewCoordinator(nil)

	if c.State() != turn.StateIdle {
		t.Fatalf("initial state = %v; want idle", c.State())
	}

	st, err := c.UserStarted()
	if err != nil || st != turn.StateUserSpeaking {
		t.Fatalf("UserStarted = %v, %v; want user_speaking", st, err)
	}
	if c.TurnID() == "" {
		t.Error("TurnID empty during user turn")
	}

	st, err = c.UserStopped()
	if err != nil || st != turn.StateAgentResponding {
		t.Fatalf("UserStopped = %v, %v; want agent_responding", st, err)
	}

	st, err = c.AgentDone()
	if err != nil || st != turn.StateIdle {
		t.Fatalf("AgentDone = %v, %v; want idle", st, err)
	}
	if c.TurnID() != "" {
		t.Error("TurnID should clear when idle")
	}
}

func TestCoordinator_BargeIn(t *testing.T) {
	t.Parallel()
	c := turn.NewCoordinator(nil)

	c.UserStarted()
	c.UserStopped()
	firstTurn := c.TurnID()

	// The user speaks over the agent.
	st, err := c.UserStarted()
	if err != nil || st != turn.StateInterrupted {
		t.Fatalf("barge-in UserStarted = %v, %v; want interrupted", st, err)
	}

	// Teardown done: the user's new turn begins with a fresh ID.
	st, err = c.InterruptionHandled()
	if err != nil || st != turn.StateUserSpeaking {
		t.Fatalf("InterruptionHandled = %v, %v; want user_speaking", st, err)
	}
	if c.TurnID() == firstTurn {
		t.Error("barge-in should open a new turn ID")
	}
}

func TestCoordinator_InvalidTransitions(t *testing.T) {
	t.Parallel()
	c := turn.NewCoordinator(nil)

	var invalid *turn.InvalidTransitionError

	if _, err := c.UserStopped(); !errors.As(err, &invalid) {
		t.Errorf("UserStopped from idle = %v; want InvalidTransitionError", err)
	}
	if _, err := c.AgentDone(); !errors.As(err, &invalid) {
		t.Errorf("AgentDone from idle = %v; want InvalidTransitionError", err)
	}
	if _, err := c.InterruptionHandled(); !errors.As(err, &invalid) {
		t.Errorf("InterruptionHandled from idle = %v; want InvalidTransitionError", err)
	}

	c.UserStarted()
	// A second UserStarted while the user already holds the floor is a
	// duplicate signal, not a barge-in.
	if _, err := c.UserStarted(); !errors.As(err, &invalid) {
		t.Errorf("UserStarted from user_speaking = %v; want InvalidTransitionError", err)
	}
}

func TestCoordinator_AgentStartedTextTurn(t *testing.T) {
	t.Parallel()
	c := turn.NewCoordinator(nil)

	st, err := c.AgentStarted()
	if err != nil || st != turn.StateAgentResponding {
		t.Fatalf("AgentStarted = %v, %v; want agent_responding", st, err)
	}

	var invalid *turn.InvalidTransitionError
	if _, err := c.AgentStarted(); !errors.As(err, &invalid) {
		t.Errorf("AgentStarted while responding = %v; want InvalidTransitionError", err)
	}
}

func TestCoordinator_ResetFromAnyState(t *testing.T) {
	t.Parallel()
	c := turn.NewCoordinator(nil)

	c.UserStarted()
	c.UserStopped()
	c.UserStarted() // interrupted

	c.Reset()
	if c.State() != turn.StateIdle {
		t.Errorf("state after Reset = %v; want idle", c.State())
	}
	if c.TurnID() != "" {
		t.Error("TurnID after Reset should be empty")
	}
}

func TestCoordinator_TransitionsObserved(t *testing.T) {
	t.Parallel()
	c := turn.NewCoordinator(nil)

	c.UserStarted()
	c.UserStopped()

	want := []struct{ from, to turn.State }{
		{turn.StateIdle, turn.StateUserSpeaking},
		{turn.StateUserSpeaking, turn.StateAgentResponding},
	}
	for i, w := range want {
		select {
		case tr := <-c.Transitions():
			if tr.From != w.from || tr.To != w.to {
				t.Errorf("transition %d = %v→%v; want %v→%v", i, tr.From, tr.To, w.from, w.to)
			}
		default:
			t.Fatalf("missing transition %d", i)
		}
	}
}

// TestCoordinator_StateExclusivity hammers the coordinator from many
// goroutines and checks that every observed state is a legal member of the
// state set, never a torn intermediate.
func TestCoordinator_StateExclusivity(t *testing.T) {
	t.Parallel()
	c := turn.NewCoordinator(nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				c.UserStarted()
				c.UserStopped()
				c.InterruptionHandled()
				c.AgentDone()
			}
		})
	}
	wg.Go(func() {
		for range 200 {
			switch s := c.State(); s {
			case turn.StateIdle, turn.StateUserSpeaking, turn.StateAgentResponding, turn.StateInterrupted:
			default:
				t.Errorf("observed invalid state %d", s)
			}
		}
	})
	wg.Wait()
}
