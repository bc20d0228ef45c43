package scheduling

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/telemetry"
)

type FetchStatus string

const (
	FetchOK     FetchStatus = "ok"
	FetchEmpty  FetchStatus = "empty"
	FetchFailed FetchStatus = "failed"
)

// Query selects the appointments visible to one caller.
type Query struct {
	Role      string
	SubjectID string
	DateFrom  string
	DateTo    string
}

// FetchResult keeps "nothing booked" apart from "could not load". Err is set
// only when Status is FetchFailed.
type FetchResult struct {
	Status       FetchStatus
	Appointments []*Appointment
	Err          error
}

// Fetcher loads role-scoped appointments in fetch order: date, then
// normalized time, then creation order. Nothing is cached.
type Fetcher struct {
	repo    AppointmentRepository
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

func NewFetcher(repo AppointmentRepository, logger zerolog.Logger, metrics *telemetry.Metrics) *Fetcher {
	return &Fetcher{
		repo:    repo,
		logger:  logger.With().Str("component", "fetcher").Logger(),
		metrics: metrics,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, q Query) FetchResult {
	ctx, span := telemetry.StartSpan(ctx, "appointments.fetch",
		attribute.String("role", q.Role),
		attribute.String("date_from", q.DateFrom),
		attribute.String("date_to", q.DateTo),
	)

	res := f.fetch(ctx, q)
	telemetry.EndSpan(span, res.Err)
	f.metrics.RecordFetch(q.Role, string(res.Status))

	if res.Status == FetchFailed {
		f.logger.Error().Err(res.Err).
			Str("role", q.Role).
			Str("subject_id", q.SubjectID).
			Str("date_from", q.DateFrom).
			Str("date_to", q.DateTo).
			Msg("appointment fetch failed")
	}
	return res
}

func (f *Fetcher) fetch(ctx context.Context, q Query) FetchResult {
	filter, err := scopeFilter(q)
	if err != nil {
		return FetchResult{Status: FetchFailed, Err: err}
	}

	items, _, err := f.repo.List(ctx, filter)
	if err != nil {
		return FetchResult{Status: FetchFailed, Err: fmt.Errorf("fetch appointments: %w", err)}
	}
	if len(items) == 0 {
		return FetchResult{Status: FetchEmpty, Appointments: []*Appointment{}}
	}
	SortAppointments(items)
	return FetchResult{Status: FetchOK, Appointments: items}
}

// scopeFilter turns a role into a repository filter.
func scopeFilter(q Query) (AppointmentFilter, error) {
	filter := AppointmentFilter{DateFrom: q.DateFrom, DateTo: q.DateTo}

	switch q.Role {
	case auth.RoleAdmin, auth.RoleReceptionist, auth.RoleNurse:
		return filter, nil
	case auth.RoleDoctor, auth.RolePatient:
		id, err := uuid.Parse(q.SubjectID)
		if err != nil {
			return filter, fmt.Errorf("%w: %s view needs a user id", ErrForbidden, q.Role)
		}
		if q.Role == auth.RoleDoctor {
			filter.DoctorID = &id
		} else {
			filter.PatientID = &id
		}
		return filter, nil
	}
	return filter, fmt.Errorf("%w: role %q cannot list appointments", ErrForbidden, q.Role)
}

// SortAppointments orders by date then normalized time. The sort is stable so
// equal keys keep the repository's creation order.
func SortAppointments(items []*Appointment) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ScheduledDate != items[j].ScheduledDate {
			return items[i].ScheduledDate < items[j].ScheduledDate
		}
		return NormalizeTime(items[i].ScheduledTime) < NormalizeTime(items[j].ScheduledTime)
	})
}
