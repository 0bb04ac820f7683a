package grab

import (
	"fmt"
	"time"
)

// State is a node of the run state machine.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateWatch
	StateRush
	StateSucceeded
	StateExhausted
	StateCancelled
	// StateSessionLost ends a run whose login the site stopped accepting.
	StateSessionLost
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateWaiting:     "waiting",
	StateWatch:       "watch",
	StateRush:        "rush",
	StateSucceeded:   "succeeded",
	StateExhausted:   "exhausted",
	StateCancelled:   "cancelled",
	StateSessionLost: "session_lost",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState is the inverse of String, used when reading history back.
func ParseState(s string) (State, error) {
	for st, n := range stateNames {
		if n == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown run state %q", s)
}

func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateExhausted, StateCancelled, StateSessionLost:
		return true
	}
	return false
}

// transitions lists every legal edge. Watch and Rush only ever swap with each
// other; Succeeded is reachable from Rush alone because claims only run there.
var transitions = map[State][]State{
	StateIdle:    {StateWaiting, StateWatch, StateRush, StateExhausted, StateCancelled, StateSessionLost},
	StateWaiting: {StateWatch, StateRush, StateExhausted, StateCancelled, StateSessionLost},
	StateWatch:   {StateRush, StateExhausted, StateCancelled, StateSessionLost},
	StateRush:    {StateWatch, StateSucceeded, StateExhausted, StateCancelled, StateSessionLost},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one recorded edge of a run.
type Transition struct {
	From    State
	To      State
	At      time.Time
	Attempt int
}

// RunState is the orchestrator's private view of a run in progress.
type RunState struct {
	Attempts      int
	State         State
	ModeEnteredAt time.Time
	Stopped       bool
}
