package scheduling

import "fmt"

var nonTerminal = []Status{
	StatusPending, StatusRequested, StatusConfirmed, StatusScheduled, StatusArrived, StatusInProgress,
}

// transitions lists the forward path of a visit. Cancellation, no-show and
// rescheduling are added for every non-terminal state in init.
var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed},
	StatusRequested:  {StatusConfirmed},
	StatusConfirmed:  {StatusScheduled},
	StatusScheduled:  {StatusArrived},
	StatusArrived:    {StatusInProgress},
	StatusInProgress: {StatusCompleted},
}

func init() {
	for _, s := range nonTerminal {
		transitions[s] = append(transitions[s], StatusCancelled, StatusNoShow, StatusRescheduled)
	}
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	if _, ok := transitions[s]; ok {
		return true
	}
	return IsTerminal(s)
}

func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

// IsActive reports whether an appointment in status s still occupies its slot.
func IsActive(s Status) bool {
	switch s {
	case StatusCancelled, StatusNoShow, StatusRescheduled:
		return false
	}
	return true
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition wraps ErrInvalidTransition with the offending pair.
func CheckTransition(from, to Status) error {
	if !ValidStatus(to) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
