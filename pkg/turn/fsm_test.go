package turn

import (
	"errors"
	"sync"
	"testing"
)

type captureListener struct {
	mu      sync.Mutex
	changes []StateChange
}

func (c *captureListener) OnStateChange(ev StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ev)
}

func (c *captureListener) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}

func (c *captureListener) Last() StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes[len(c.changes)-1]
}

func TestStateMachineHappyPath(t *testing.T) {
	sm := newStateMachine()
	steps := []State{StateListening, StateAwaitingReply, StateSynthesizing, StateSpeaking, StateListening}
	for _, next := range steps {
		if err := sm.Transition(next, "test"); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if sm.State() != StateListening {
		t.Fatalf("expected LISTENING, got %s", sm.State())
	}
}

func TestStateMachineRejectsInvalidTransitions(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{StateIdle, StateSpeaking},
		{StateListening, StateSpeaking},
		{StateAwaitingReply, StateSpeaking},
		{StateSpeaking, StateAwaitingReply},
		{StateSpeaking, StateSynthesizing},
	}
	for _, tc := range cases {
		sm := newStateMachine()
		sm.currentState = tc.from
		err := sm.Transition(tc.to, "test")
		if err == nil {
			t.Fatalf("expected error for %s -> %s", tc.from, tc.to)
		}
		var ite *InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("expected InvalidTransitionError, got %T", err)
		}
		if sm.State() != tc.from {
			t.Fatalf("state moved on rejected transition: %s", sm.State())
		}
	}
}

func TestStateMachineTeardownReachableFromEverywhere(t *testing.T) {
	for _, from := range []State{StateIdle, StateListening, StateAwaitingReply, StateSynthesizing, StateSpeaking} {
		for _, to := range []State{StateIdle, StateEnded} {
			sm := newStateMachine()
			sm.currentState = from
			if err := sm.Transition(to, "teardown"); err != nil {
				t.Fatalf("expected %s -> %s allowed: %v", from, to, err)
			}
		}
	}
}

func TestStateMachineEndedIsTerminal(t *testing.T) {
	sm := newStateMachine()
	sm.currentState = StateEnded
	for _, to := range []State{StateIdle, StateListening, StateAwaitingReply, StateSynthesizing, StateSpeaking} {
		if err := sm.Transition(to, "test"); err == nil {
			t.Fatalf("expected ENDED -> %s rejected", to)
		}
	}
}

func TestStateMachineSameStateIsNoOp(t *testing.T) {
	sm := newStateMachine()
	listener := &captureListener{}
	sm.AddListener(listener)
	if err := sm.Transition(StateIdle, "noop"); err != nil {
		t.Fatalf("same-state transition: %v", err)
	}
	if listener.Count() != 0 {
		t.Fatalf("same-state transition notified listeners")
	}
}

func TestStateMachineNotifiesListeners(t *testing.T) {
	sm := newStateMachine()
	listener := &captureListener{}
	sm.AddListener(listener)
	if err := sm.Transition(StateListening, "arming"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if listener.Count() != 1 {
		t.Fatalf("expected 1 notification, got %d", listener.Count())
	}
	last := listener.Last()
	if last.FromState != StateIdle || last.ToState != StateListening || last.Reason != "arming" {
		t.Fatalf("unexpected event: %+v", last)
	}
}
