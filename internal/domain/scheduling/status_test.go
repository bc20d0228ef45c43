package scheduling

import (
	"errors"
	"testing"
)

func TestCanTransition_ForwardPath(t *testing.T) {
	path := []Status{StatusRequested, StatusConfirmed, StatusScheduled, StatusArrived, StatusInProgress, StatusCompleted}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Errorf("expected %s -> %s to be allowed", path[i], path[i+1])
		}
	}
	if !CanTransition(StatusPending, StatusConfirmed) {
		t.Error("expected pending -> confirmed to be allowed")
	}
}

func TestCanTransition_SideExits(t *testing.T) {
	for _, from := range nonTerminal {
		for _, to := range []Status{StatusCancelled, StatusNoShow, StatusRescheduled} {
			if !CanTransition(from, to) {
				t.Errorf("expected %s -> %s to be allowed", from, to)
			}
		}
	}
}

func TestCanTransition_Rejected(t *testing.T) {
	tests := []struct {
		from, to Status
	}{
		{StatusScheduled, StatusScheduled},
		{StatusScheduled, StatusCompleted},
		{StatusArrived, StatusScheduled},
		{StatusCompleted, StatusCancelled},
		{StatusCancelled, StatusScheduled},
		{StatusRescheduled, StatusConfirmed},
		{StatusNoShow, StatusArrived},
	}
	for _, tt := range tests {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("expected %s -> %s to be rejected", tt.from, tt.to)
		}
	}
}

func TestCheckTransition_Errors(t *testing.T) {
	err := CheckTransition(StatusScheduled, Status("teleported"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown status, got %v", err)
	}

	err = CheckTransition(StatusCompleted, StatusCancelled)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	if err := CheckTransition(StatusScheduled, StatusArrived); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled} {
		if !IsTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
		if !ValidStatus(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	for _, s := range nonTerminal {
		if IsTerminal(s) {
			t.Errorf("expected %s to be non-terminal", s)
		}
		if !IsActive(s) {
			t.Errorf("expected %s to occupy its slot", s)
		}
	}
	if IsActive(StatusCancelled) || IsActive(StatusNoShow) || IsActive(StatusRescheduled) {
		t.Error("cancelled, no-show and rescheduled appointments must free their slot")
	}
	if !IsActive(StatusCompleted) {
		t.Error("completed appointments keep their slot")
	}
	if ValidStatus("") || ValidStatus("booked") {
		t.Error("expected empty and unknown statuses to be invalid")
	}
}
