package transport

import "sync/atomic"

// StateTracker records a receiver's lifecycle state. The zero value is
// StateClosed.
type StateTracker struct {
	v atomic.Int32
}

// Load returns the current state.
func (t *StateTracker) Load() State { return State(t.v.Load()) }

// Set moves to s unless the receiver is already closed.
func (t *StateTracker) Set(s State) {
	for {
		cur := t.v.Load()
		if State(cur) == StateClosed && s != StateOpen {
			return
		}
		if t.v.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Close moves to StateClosed and reports whether this call did so.
func (t *StateTracker) Close() bool {
	return State(t.v.Swap(int32(StateClosed))) != StateClosed
}

// Closed reports whether the receiver is closed.
func (t *StateTracker) Closed() bool { return t.Load() == StateClosed }
