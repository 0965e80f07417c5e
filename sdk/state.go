package golive

import "sync/atomic"

// State is the session lifecycle phase. Active is the only state in which
// realtime input, content, and tool-response sends are accepted.
type State int32

const (
	StateConnecting State = iota
	StateConfiguring
	StateActive
	StateDraining
	StateResuming
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateResuming:
		return "resuming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateMachine holds the one piece of mutable state shared between the read
// loop and caller-facing query methods. Transitions are compare-and-swap so
// an "is active" check cannot race an in-flight close.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) current() State {
	return State(m.v.Load())
}

// transition moves from one explicit state to another. It reports false if
// the machine was not in the expected state, leaving it untouched.
func (m *stateMachine) transition(from, to State) bool {
	return m.v.CompareAndSwap(int32(from), int32(to))
}

// close forces the terminal state from wherever the machine currently is.
// It reports whether this call performed the transition.
func (m *stateMachine) close() bool {
	for {
		cur := m.v.Load()
		if State(cur) == StateClosed {
			return false
		}
		if m.v.CompareAndSwap(cur, int32(StateClosed)) {
			return true
		}
	}
}
