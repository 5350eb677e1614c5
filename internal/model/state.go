package model

import "fmt"

// State represents the lifecycle phase of an entity
type State int

const (
	// StateUnknown is the zero state, before anything was recorded
	StateUnknown State = iota
	// StateCreating indicates base records are being written
	StateCreating
	// StateActive indicates the entity serves reads and writes
	StateActive
	// StateScaling indicates an epoch transition is in progress
	StateScaling
	// StateSealing indicates the entity is being sealed
	StateSealing
	// StateSealed is terminal
	StateSealed
)

var stateNames = [...]string{"UNKNOWN", "CREATING", "ACTIVE", "SCALING", "SEALING", "SEALED"}

// allowedTransitions lists, for each target state, the states it may be entered from
var allowedTransitions = map[State][]State{
	StateCreating: {StateUnknown},
	StateActive:   {StateCreating, StateScaling},
	StateScaling:  {StateActive},
	StateSealing:  {StateActive},
	StateSealed:   {StateSealing},
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// ParseState converts a state name into a State
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return StateUnknown, fmt.Errorf("unknown state %q", name)
}

// IsTransitionAllowed reports whether from -> to is in the allow-list
func IsTransitionAllowed(from, to State) bool {
	for _, s := range allowedTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// ServesActiveSegments reports whether active-segment queries are legal in s
func (s State) ServesActiveSegments() bool {
	return s != StateUnknown && s != StateCreating
}
