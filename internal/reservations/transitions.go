package reservations

import "fmt"

// transitions is the authoritative lifecycle table, enforced in application
// logic before any persistence; the database check constraint only mirrors
// it. ALLOCATED has no path back to RESERVED and cannot be cancelled — a
// pick in progress cannot be abandoned. Pending product confirmation that
// this restriction is intentional.
var transitions = map[Status]map[Status]bool{
	StatusReserved: {
		StatusReserved:  true, // no-op
		StatusAllocated: true,
		StatusCancelled: true,
		StatusExpired:   true,
	},
	StatusAllocated: {
		StatusFulfilled: true,
	},
	StatusFulfilled: {},
	StatusCancelled: {},
	StatusExpired:   {},
}

// Terminal reports whether a status has no outgoing transitions.
func Terminal(s Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Transition allows or denies a state change as a pure function of the
// current and requested status.
func Transition(from, to Status) error {
	next, ok := transitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if len(next) == 0 {
		return fmt.Errorf("%w: %s", ErrTerminalState, from)
	}
	if !next[to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
