package realtime

import (
	"fmt"
	"sync"
)

// ConnState is the lifecycle state of one realtime connection.
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosing    ConnState = "closing"
	StateClosed     ConnState = "closed"
)

// fsm tracks the connection lifecycle. Transitions are strict: a connection
// moves Connecting -> Open -> Closing -> Closed, and any illegal transition
// is a programming error surfaced to the caller.
type fsm struct {
	mu    sync.Mutex
	state ConnState
}

func newFSM() *fsm {
	return &fsm{state: StateConnecting}
}

func (f *fsm) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Open transitions Connecting -> Open once the identify frame is accepted.
func (f *fsm) Open() error {
	return f.transition(StateConnecting, StateOpen)
}

// BeginClose transitions an established or half-established connection into
// Closing. Calling it on an already closing or closed connection is a no-op
// so teardown paths can race safely.
func (f *fsm) BeginClose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateClosing || f.state == StateClosed {
		return
	}
	f.state = StateClosing
}

// Close transitions Closing -> Closed.
func (f *fsm) Close() error {
	return f.transition(StateClosing, StateClosed)
}

func (f *fsm) transition(from, to ConnState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != from {
		return fmt.Errorf("connection expected state %s, got %s", from, f.state)
	}
	f.state = to
	return nil
}
