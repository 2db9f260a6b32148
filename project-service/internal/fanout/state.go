package fanout

import "fmt"

// State is where one task.created event is in its fan-out.
type State string

const (
	StateReceived State = "received"
	StateResolved State = "resolved"
	StateApplied  State = "applied"
	StateFailed   State = "failed"
)

var transitions = map[State][]State{
	StateReceived: {StateResolved, StateFailed},
	StateResolved: {StateApplied, StateFailed},
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateApplied || s == StateFailed
}

func (s State) canMoveTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// machine tracks the state of a single event.
type machine struct {
	state State
}

func newMachine() *machine {
	return &machine{state: StateReceived}
}

func (m *machine) to(next State) error {
	if !m.state.canMoveTo(next) {
		return fmt.Errorf("fanout: illegal transition %s -> %s", m.state, next)
	}
	m.state = next
	return nil
}
