package gateway

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// State is the lifecycle position of one connection
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

var ErrInvalidTransition = errors.New("invalid connection state transition")

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// next lists the only forward step from each state; Closed is reachable from anywhere
var next = map[State]State{
	StateConnecting:    StateAuthenticated,
	StateAuthenticated: StateJoined,
}

type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State {
	return State(m.v.Load())
}

// advance moves one step forward from the current state
func (m *stateMachine) advance(to State) error {
	for {
		cur := m.load()
		if want, ok := next[cur]; !ok || want != to {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, to)
		}
		if m.v.CompareAndSwap(int32(cur), int32(to)) {
			return nil
		}
	}
}

// close reports whether this call performed the transition to Closed
func (m *stateMachine) close() bool {
	return State(m.v.Swap(int32(StateClosed))) != StateClosed
}
