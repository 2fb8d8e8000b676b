package turn

import (
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateListening
	StateAwaitingReply
	StateSynthesizing
	StateSpeaking
	StateEnded
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateAwaitingReply:
		return "AWAITING_REPLY"
	case StateSynthesizing:
		return "SYNTHESIZING"
	case StateSpeaking:
		return "SPEAKING"
	case StateEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// stateMachine implements the finite state machine for conversation
// turn-taking. Mute flags are not states; they gate actions elsewhere
// without erasing the position in the machine.
type stateMachine struct {
	mu           sync.RWMutex
	currentState State

	stateChangeListeners []StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{currentState: StateIdle}
}

// State returns the current state.
func (tm *stateMachine) State() State {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.currentState
}

// transitionValid checks if a state transition is valid (must be called with
// lock held).
func (tm *stateMachine) transitionValid(from, to State) bool {
	if to == StateEnded || to == StateIdle {
		// Teardown paths are reachable from everywhere.
		return from != StateEnded
	}
	validTransitions := map[State][]State{
		StateIdle:          {StateListening, StateAwaitingReply, StateSynthesizing},
		StateListening:     {StateAwaitingReply, StateSynthesizing},
		StateAwaitingReply: {StateSynthesizing, StateListening},
		StateSynthesizing:  {StateSpeaking, StateListening},
		StateSpeaking:      {StateListening},
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, allowed := range allowedStates {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (tm *stateMachine) Transition(state State, reason string) error {
	tm.mu.Lock()
	if tm.currentState == state {
		tm.mu.Unlock()
		return nil
	}
	if !tm.transitionValid(tm.currentState, state) {
		err := &InvalidTransitionError{From: tm.currentState, To: state}
		tm.mu.Unlock()
		return err
	}

	oldState := tm.currentState
	tm.currentState = state

	event := StateChange{
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}

	// Notify outside the lock to avoid listener deadlocks.
	listeners := make([]StateListener, len(tm.stateChangeListeners))
	copy(listeners, tm.stateChangeListeners)
	tm.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (tm *stateMachine) AddListener(listener StateListener) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stateChangeListeners = append(tm.stateChangeListeners, listener)
}
