package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

// TxRunner runs fn in one database transaction. *db.TxManager satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CollisionPolicy decides whether two active appointments may share one
// doctor's date and time.
type CollisionPolicy string

const (
	CollisionReject CollisionPolicy = "reject"
	CollisionAllow  CollisionPolicy = "allow"
)

type Service struct {
	repo    AppointmentRepository
	fetcher *Fetcher
	tx      TxRunner
	policy  CollisionPolicy
	logger  zerolog.Logger
}

// NewService wires the appointment operations. An empty policy rejects
// collisions.
func NewService(repo AppointmentRepository, fetcher *Fetcher, tx TxRunner, policy CollisionPolicy, logger zerolog.Logger) *Service {
	if policy == "" {
		policy = CollisionReject
	}
	return &Service{
		repo:    repo,
		fetcher: fetcher,
		tx:      tx,
		policy:  policy,
		logger:  logger.With().Str("component", "appointments").Logger(),
	}
}

func (s *Service) Fetcher() *Fetcher {
	return s.fetcher
}

// Create books an appointment on behalf of front-desk staff.
func (s *Service) Create(ctx context.Context, actor Actor, req CreateAppointmentRequest) (*Appointment, error) {
	if !PermissionsFor(actor.Role).CanBook {
		return nil, fmt.Errorf("%w: %s cannot book appointments", ErrForbidden, actor.Role)
	}
	return s.create(ctx, req, StatusScheduled)
}

// RequestAppointment lets a patient ask for a slot. The request is created for
// the caller regardless of the patient_id in the body and awaits approval.
func (s *Service) RequestAppointment(ctx context.Context, actor Actor, req CreateAppointmentRequest) (*Appointment, error) {
	if actor.Role != auth.RolePatient {
		return nil, fmt.Errorf("%w: only patients can request appointments", ErrForbidden)
	}
	req.PatientID = actor.UserID
	return s.create(ctx, req, StatusRequested)
}

func (s *Service) create(ctx context.Context, req CreateAppointmentRequest, status Status) (*Appointment, error) {
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrInvalidInput)
	}
	if err := validateDate(req.ScheduledDate); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ScheduledTime) == "" {
		return nil, fmt.Errorf("%w: scheduled_time is required", ErrInvalidInput)
	}
	if req.DurationMinutes < 0 {
		return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidInput)
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = DefaultDurationMinutes
	}
	if req.Type == "" {
		req.Type = "consultation"
	}

	a := &Appointment{
		PatientID:       patientID,
		DoctorID:        doctorID,
		Department:      req.Department,
		Type:            req.Type,
		Status:          status,
		ScheduledDate:   req.ScheduledDate,
		ScheduledTime:   NormalizeTime(strings.TrimSpace(req.ScheduledTime)),
		DurationMinutes: req.DurationMinutes,
		Priority:        req.Priority,
		Notes:           req.Notes,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.checkCollision(ctx, a, uuid.Nil); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, a); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Str("date", a.ScheduledDate).
		Str("time", a.ScheduledTime).
		Str("status", string(a.Status)).
		Msg("appointment created")
	return a, nil
}

func validateDate(d string) error {
	if _, err := time.Parse(DateLayout, d); err != nil {
		return fmt.Errorf("%w: scheduled_date must be YYYY-MM-DD", ErrInvalidInput)
	}
	return nil
}

// checkCollision enforces the collision policy. exclude is the appointment
// being moved, which never collides with itself. It must run inside the
// transaction that writes a: the slot lock is held until that commits.
func (s *Service) checkCollision(ctx context.Context, a *Appointment, exclude uuid.UUID) error {
	if s.policy == CollisionAllow || !IsActive(a.Status) {
		return nil
	}
	if err := s.repo.LockSlot(ctx, a.DoctorID, a.ScheduledDate, NormalizeTime(a.ScheduledTime)); err != nil {
		return fmt.Errorf("lock slot: %w", err)
	}
	doctorID := a.DoctorID
	existing, _, err := s.repo.List(ctx, AppointmentFilter{
		DoctorID: &doctorID,
		DateFrom: a.ScheduledDate,
		DateTo:   a.ScheduledDate,
	})
	if err != nil {
		return fmt.Errorf("check slot: %w", err)
	}
	want := NormalizeTime(a.ScheduledTime)
	for _, e := range existing {
		if e.ID == exclude || e.ID == a.ID || !IsActive(e.Status) {
			continue
		}
		if NormalizeTime(e.ScheduledTime) == want {
			return fmt.Errorf("%w: %s %s", ErrSlotTaken, a.ScheduledDate, want)
		}
	}
	return nil
}

// Get returns one appointment if the caller may see it. Appointments of other
// patients or doctors are reported as not found.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := visible(actor, a); err != nil {
		return nil, err
	}
	return a, nil
}

func visible(actor Actor, a *Appointment) error {
	switch {
	case auth.IsStaff(actor.Role):
		return nil
	case actor.Role == auth.RoleDoctor && a.DoctorID.String() == actor.UserID:
		return nil
	case actor.Role == auth.RolePatient && a.PatientID.String() == actor.UserID:
		return nil
	case actor.Role == auth.RoleDoctor, actor.Role == auth.RolePatient:
		return ErrNotFound
	}
	return ErrForbidden
}

// ListParams narrows List beyond the caller's role scope.
type ListParams struct {
	DateFrom string
	DateTo   string
	DoctorID string
	Status   Status
	Page     pagination.Params
}

// List returns one page of the caller's appointments in fetch order.
func (s *Service) List(ctx context.Context, actor Actor, p ListParams) ([]*Appointment, int, error) {
	for _, d := range []string{p.DateFrom, p.DateTo} {
		if d != "" {
			if err := validateDate(d); err != nil {
				return nil, 0, err
			}
		}
	}

	res := s.fetcher.Fetch(ctx, Query{Role: actor.Role, SubjectID: actor.UserID, DateFrom: p.DateFrom, DateTo: p.DateTo})
	if res.Status == FetchFailed {
		return nil, 0, res.Err
	}

	items := make([]*Appointment, 0, len(res.Appointments))
	for _, a := range res.Appointments {
		if p.DoctorID != "" && a.DoctorID.String() != p.DoctorID {
			continue
		}
		if p.Status != "" && a.Status != p.Status {
			continue
		}
		items = append(items, a)
	}
	return pagination.Window(items, p.Page), len(items), nil
}

func (s *Service) loadEditable(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	if !PermissionsFor(actor.Role).CanEdit {
		return nil, fmt.Errorf("%w: %s cannot edit appointments", ErrForbidden, actor.Role)
	}
	return s.Get(ctx, actor, id)
}

// Update edits the non-status fields of an appointment.
func (s *Service) Update(ctx context.Context, actor Actor, id uuid.UUID, req UpdateAppointmentRequest) (*Appointment, error) {
	var updated *Appointment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.update(ctx, actor, id, req)
		updated = a
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) update(ctx context.Context, actor Actor, id uuid.UUID, req UpdateAppointmentRequest) (*Appointment, error) {
	a, err := s.loadEditable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(a.Status) {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, a.Status)
	}

	moved := false
	if req.ScheduledDate != nil {
		if err := validateDate(*req.ScheduledDate); err != nil {
			return nil, err
		}
		moved = moved || *req.ScheduledDate != a.ScheduledDate
		a.ScheduledDate = *req.ScheduledDate
	}
	if req.ScheduledTime != nil {
		t := NormalizeTime(strings.TrimSpace(*req.ScheduledTime))
		if t == "" {
			return nil, fmt.Errorf("%w: scheduled_time must not be empty", ErrInvalidInput)
		}
		moved = moved || t != NormalizeTime(a.ScheduledTime)
		a.ScheduledTime = t
	}
	if req.DurationMinutes != nil {
		if *req.DurationMinutes <= 0 {
			return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidInput)
		}
		a.DurationMinutes = *req.DurationMinutes
	}
	if req.Department != nil {
		a.Department = req.Department
	}
	if req.Type != nil && *req.Type != "" {
		a.Type = *req.Type
	}
	if req.Priority != nil {
		a.Priority = *req.Priority
	}
	if req.Notes != nil {
		a.Notes = req.Notes
	}

	if moved {
		if err := s.checkCollision(ctx, a, a.ID); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	return a, nil
}

// TransitionStatus moves an appointment along the status machine. Confirming
// a pending or requested appointment is an approval and needs CanApprove.
func (s *Service) TransitionStatus(ctx context.Context, actor Actor, id uuid.UUID, to Status, reason string) (*Appointment, error) {
	a, err := s.loadEditable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(a.Status, to); err != nil {
		return nil, err
	}
	if to == StatusConfirmed && !PermissionsFor(actor.Role).CanApprove {
		return nil, fmt.Errorf("%w: %s cannot approve appointments", ErrForbidden, actor.Role)
	}

	var reasonPtr *string
	if to == StatusCancelled && strings.TrimSpace(reason) != "" {
		r := strings.TrimSpace(reason)
		reasonPtr = &r
	}
	if err := s.repo.UpdateStatus(ctx, a.ID, to, reasonPtr); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("from", string(a.Status)).
		Str("to", string(to)).
		Str("by", actor.UserID).
		Msg("appointment status changed")

	a.Status = to
	if reasonPtr != nil {
		a.CancellationReason = reasonPtr
	}
	return a, nil
}

func (s *Service) Approve(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.TransitionStatus(ctx, actor, id, StatusConfirmed, "")
}

// Reschedule closes the old appointment as rescheduled and books a new one at
// the requested date and time, atomically.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	if err := validateDate(req.ScheduledDate); err != nil {
		return nil, err
	}
	newTime := NormalizeTime(strings.TrimSpace(req.ScheduledTime))
	if newTime == "" {
		return nil, fmt.Errorf("%w: scheduled_time is required", ErrInvalidInput)
	}

	var created *Appointment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		old, err := s.loadEditable(ctx, actor, id)
		if err != nil {
			return err
		}
		if err := CheckTransition(old.Status, StatusRescheduled); err != nil {
			return err
		}

		oldID := old.ID
		next := &Appointment{
			PatientID:       old.PatientID,
			DoctorID:        old.DoctorID,
			Department:      old.Department,
			Type:            old.Type,
			Status:          StatusScheduled,
			ScheduledDate:   req.ScheduledDate,
			ScheduledTime:   newTime,
			DurationMinutes: old.DurationMinutes,
			Priority:        old.Priority,
			Notes:           old.Notes,
			RescheduledFrom: &oldID,
		}
		if err := s.checkCollision(ctx, next, old.ID); err != nil {
			return err
		}

		var reason *string
		if r := strings.TrimSpace(req.Reason); r != "" {
			reason = &r
		}
		if err := s.repo.UpdateStatus(ctx, old.ID, StatusRescheduled, reason); err != nil {
			return fmt.Errorf("close old appointment: %w", err)
		}
		if err := s.repo.Create(ctx, next); err != nil {
			return fmt.Errorf("create rescheduled appointment: %w", err)
		}
		next.PatientName, next.DoctorName = old.PatientName, old.DoctorName
		created = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("rescheduled_from", id.String()).
		Str("date", created.ScheduledDate).
		Str("time", created.ScheduledTime).
		Msg("appointment rescheduled")
	return created, nil
}

// Delete removes an appointment outright. Only admins may do this; everyone
// else cancels.
func (s *Service) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	if actor.Role != auth.RoleAdmin {
		return fmt.Errorf("%w: only admins can delete appointments", ErrForbidden)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete appointment: %w", err)
	}
	s.logger.Info().Str("appointment_id", id.String()).Str("by", actor.UserID).Msg("appointment deleted")
	return nil
}
