package realtime

import (
	"fmt"
	"sync"
	"time"
)

// State of the realtime connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingLoginAck
	StateOpen
	StateClosing
	StateClosed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingLoginAck:
		return "awaiting_login_ack"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// validTransitions is the full transition diagram. Closed is terminal: a new
// connection object is required after an explicit disconnect.
var validTransitions = map[State][]State{
	StateIdle:             {StateConnecting, StateClosing},
	StateConnecting:       {StateAwaitingLoginAck, StateFaulted, StateClosing},
	StateAwaitingLoginAck: {StateOpen, StateFaulted, StateClosing},
	StateOpen:             {StateFaulted, StateClosing},
	StateFaulted:          {StateConnecting, StateClosing},
	StateClosing:          {StateClosed},
	StateClosed:           {},
}

// status serializes connection state transitions behind its own mutex. It is
// never held while performing I/O or acquiring any other lock.
type status struct {
	mu        sync.Mutex
	state     State
	faultKind string
	faultAt   time.Time
}

func (s *status) get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves to next if allowed from the current state.
func (s *status) transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, allowed := range validTransitions[s.state] {
		if allowed == next {
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", s.state, next)
}

// fault moves to Faulted recording the triggering error kind. Returns false
// when the connection is already closing or closed, in which case the fault
// is not recorded and no reconnect should follow.
func (s *status) fault(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosing, StateClosed, StateFaulted:
		return false
	}
	s.state = StateFaulted
	s.faultKind = kind
	s.faultAt = time.Now()
	return true
}

func (s *status) lastFault() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faultKind, s.faultAt
}
