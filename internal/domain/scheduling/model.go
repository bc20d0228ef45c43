package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrForbidden         = errors.New("not permitted for this role")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSlotTaken         = errors.New("doctor already has an appointment at this time")
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusRequested   Status = "requested"
	StatusConfirmed   Status = "confirmed"
	StatusScheduled   Status = "scheduled"
	StatusArrived     Status = "arrived"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
)

// DateLayout is the wire and storage format of ScheduledDate.
const DateLayout = "2006-01-02"

const DefaultDurationMinutes = 30

// Appointment maps to the appointments table. ScheduledTime is kept exactly as
// entered; use NormalizeTime before comparing it. PatientName and DoctorName
// come from a join and are nil when the user row is missing.
type Appointment struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Department         *string    `db:"department" json:"department,omitempty"`
	Type               string     `db:"type" json:"type"`
	Status             Status     `db:"status" json:"status"`
	ScheduledDate      string     `db:"scheduled_date" json:"scheduled_date"`
	ScheduledTime      string     `db:"scheduled_time" json:"scheduled_time"`
	DurationMinutes    int        `db:"duration_minutes" json:"duration_minutes"`
	Priority           bool       `db:"priority" json:"priority"`
	Notes              *string    `db:"notes" json:"notes,omitempty"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	RescheduledFrom    *uuid.UUID `db:"rescheduled_from" json:"rescheduled_from,omitempty"`
	PatientName        *string    `db:"patient_name" json:"patient_name,omitempty"`
	DoctorName         *string    `db:"doctor_name" json:"doctor_name,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

type CreateAppointmentRequest struct {
	PatientID       string  `json:"patient_id"`
	DoctorID        string  `json:"doctor_id"`
	Department      *string `json:"department,omitempty"`
	Type            string  `json:"type"`
	ScheduledDate   string  `json:"scheduled_date"`
	ScheduledTime   string  `json:"scheduled_time"`
	DurationMinutes int     `json:"duration_minutes"`
	Priority        bool    `json:"priority"`
	Notes           *string `json:"notes,omitempty"`
}

// UpdateAppointmentRequest carries the editable fields; nil means unchanged.
// Status is not editable here, see TransitionStatus.
type UpdateAppointmentRequest struct {
	Department      *string `json:"department,omitempty"`
	Type            *string `json:"type,omitempty"`
	ScheduledDate   *string `json:"scheduled_date,omitempty"`
	ScheduledTime   *string `json:"scheduled_time,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Priority        *bool   `json:"priority,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

type StatusChangeRequest struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type RescheduleRequest struct {
	ScheduledDate string `json:"scheduled_date"`
	ScheduledTime string `json:"scheduled_time"`
	Reason        string `json:"reason,omitempty"`
}

// Actor is the caller on whose behalf an operation runs.
type Actor struct {
	UserID string
	Role   string
}
