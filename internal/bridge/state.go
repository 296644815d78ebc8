package bridge

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle state of one relay invocation.
type State int32

const (
	// StateNotStarted indicates the child has not been spawned yet.
	StateNotStarted State = iota
	// StateSpawned indicates the child is running but relaying has not begun.
	StateSpawned
	// StateRelaying indicates both copy directions are running.
	StateRelaying
	// StateChildExited indicates the child has been reaped.
	StateChildExited
	// StateDone indicates the exit status has been determined (terminal).
	StateDone
	// StateFailed indicates a spawn error (terminal) or a relay error
	// (followed by StateChildExited once the child is reaped).
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateSpawned:
		return "spawned"
	case StateRelaying:
		return "relaying"
	case StateChildExited:
		return "child-exited"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// validTransitions lists the allowed successors of each state.
var validTransitions = map[State][]State{
	StateNotStarted:  {StateSpawned, StateFailed},
	StateSpawned:     {StateRelaying},
	StateRelaying:    {StateChildExited, StateFailed},
	StateFailed:      {StateChildExited},
	StateChildExited: {StateDone},
}

// lifecycle tracks the state of a single invocation.
type lifecycle struct {
	state   atomic.Int32
	observe func(from, to State)
}

func newLifecycle(observe func(from, to State)) *lifecycle {
	return &lifecycle{observe: observe}
}

// State returns the current state.
func (l *lifecycle) State() State {
	return State(l.state.Load())
}

// transition moves from the current state to next, failing if next is not a
// valid successor.
func (l *lifecycle) transition(next State) error {
	for {
		cur := State(l.state.Load())
		if !allowed(cur, next) {
			return fmt.Errorf("invalid state transition %s -> %s", cur, next)
		}
		if l.state.CompareAndSwap(int32(cur), int32(next)) {
			if l.observe != nil {
				l.observe(cur, next)
			}
			return nil
		}
	}
}

// mustTransition is transition for sequences fixed by the bridge code itself.
func (l *lifecycle) mustTransition(next State) {
	if err := l.transition(next); err != nil {
		panic(err)
	}
}

func allowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
