// Package turn serializes conversation turn-taking.
//
// Exactly one party holds the floor at any moment. Every component that
// wants to change whose turn it is goes through the [Coordinator], which
// validates the transition under a single mutex. Barge-in is modelled as an
// explicit transient state: the agent's response must be torn down (cancel
// sent, playback flushed) before the user's new turn begins.
package turn

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State represents whose turn it is.
type State int

const (
	// StateIdle: nobody is speaking; capture is listening for the user.
	StateIdle State = iota

	// StateUserSpeaking: the user holds the floor; audio streams upstream.
	StateUserSpeaking

	// StateAgentResponding: the agent holds the floor; audio streams down.
	StateAgentResponding

	// StateInterrupted is the transient barge-in state between the user
	// starting to speak over the agent and the response teardown finishing.
	StateInterrupted
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUserSpeaking:
		return "user_speaking"
	case StateAgentResponding:
		return "agent_responding"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// InvalidTransitionError reports a turn event that is not legal from the
// current state.
type InvalidTransitionError struct {
	From  State
	Event string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("turn: %s not allowed in state %s", e.Event, e.From)
}

// Transition is one accepted state change, surfaced to observers.
type Transition struct {
	From   State
	To     State
	TurnID string
	At     time.Time
}

const transitionChanDepth = 32

// Coordinator is the single serialization point for turn state. All methods
// are safe for concurrent use; each either performs its transition atomically
// or rejects it with [*InvalidTransitionError].
type Coordinator struct {
	log *slog.Logger

	mu     sync.Mutex
	state  State
	turnID string

	transitions chan Transition
}

// NewCoordinator creates a Coordinator in the idle state.
func NewCoordinator(log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		log:         log.With("component", "turn"),
		state:       StateIdle,
		transitions: make(chan Transition, transitionChanDepth),
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TurnID returns the identifier of the current user turn. Empty while idle.
func (c *Coordinator) TurnID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnID
}

// Transitions returns the observer channel. Slow observers miss transitions
// rather than blocking the state machine.
func (c *Coordinator) Transitions() <-chan Transition { return c.transitions }

// UserStarted records that the user began speaking. From idle this opens a
// new user turn. From agent_responding this is a barge-in: the coordinator
// moves to interrupted and the caller must tear the response down, then call
// InterruptionHandled. Returns the resulting state.
func (c *Coordinator) UserStarted() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle:
		c.turnID = uuid.NewString()
		c.moveTo(StateUserSpeaking)
		return c.state, nil

	case StateAgentResponding:
		c.moveTo(StateInterrupted)
		return c.state, nil

	default:
		return c.state, &InvalidTransitionError{From: c.state, Event: "user_started"}
	}
}

// InterruptionHandled records that the barge-in teardown finished and the
// user's new turn may begin.
func (c *Coordinator) InterruptionHandled() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInterrupted {
		return c.state, &InvalidTransitionError{From: c.state, Event: "interruption_handled"}
	}
	c.turnID = uuid.NewString()
	c.moveTo(StateUserSpeaking)
	return c.state, nil
}

// UserStopped records the end of the user's utterance. The floor passes to
// the agent.
func (c *Coordinator) UserStopped() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUserSpeaking {
		return c.state, &InvalidTransitionError{From: c.state, Event: "user_stopped"}
	}
	c.moveTo(StateAgentResponding)
	return c.state, nil
}

// AgentDone records that the agent's response finished playing out. The
// floor returns to idle.
func (c *Coordinator) AgentDone() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAgentResponding {
		return c.state, &InvalidTransitionError{From: c.state, Event: "agent_done"}
	}
	c.turnID = ""
	c.moveTo(StateIdle)
	return c.state, nil
}

// AgentStarted records an agent response that was not preceded by a local
// user utterance, e.g. a text-injected turn. Only legal from idle.
func (c *Coordinator) AgentStarted() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return c.state, &InvalidTransitionError{From: c.state, Event: "agent_started"}
	}
	c.turnID = uuid.NewString()
	c.moveTo(StateAgentResponding)
	return c.state, nil
}

// Reset forces the coordinator back to idle from any state. Used when the
// connection drops: whatever turn was in flight is gone.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return
	}
	c.turnID = ""
	c.moveTo(StateIdle)
}

// moveTo performs the transition and notifies observers. Must be called
// with c.mu held.
func (c *Coordinator) moveTo(to State) {
	from := c.state
	c.state = to
	c.log.Debug("turn transition", "from", from.String(), "to", to.String(), "turn_id", c.turnID)

	t := Transition{From: from, To: to, TurnID: c.turnID, At: time.Now()}
	select {
	case c.transitions <- t:
	default:
	}
}
