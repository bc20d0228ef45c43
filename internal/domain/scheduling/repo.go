package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// AppointmentFilter narrows List. Zero values do not filter; Limit 0 means
// no limit. Dates are inclusive YYYY-MM-DD bounds.
type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	DateFrom  string
	DateTo    string
	Statuses  []Status
	Limit     int
	Offset    int
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, reason *string) error
	Delete(ctx context.Context, id uuid.UUID) error
	// LockSlot blocks other writers of the same doctor, date and time until
	// the caller's transaction ends.
	LockSlot(ctx context.Context, doctorID uuid.UUID, date, time string) error
	// List orders by scheduled_date then created_at.
	List(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error)
}
