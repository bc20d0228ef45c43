package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/telemetry"
)

type ViewRequest struct {
	Viewer       scheduling.Actor
	Reference    time.Time
	Mode         ViewMode
	DoctorFilter string
}

// View is a rendered calendar. Status is "failed" when appointments could not
// be loaded; Days is still fully shaped in that case.
type View struct {
	Mode         ViewMode               `json:"view"`
	Date         string                 `json:"date"`
	From         string                 `json:"from"`
	To           string                 `json:"to"`
	DoctorFilter string                 `json:"doctor"`
	Status       scheduling.FetchStatus `json:"status"`
	Error        string                 `json:"error,omitempty"`
	Permissions  scheduling.Permissions `json:"permissions"`
	Labels       []string               `json:"labels"`
	Days         []Day                  `json:"days"`
}

type Service struct {
	fetcher *scheduling.Fetcher
	loc     *time.Location
	now     func() time.Time
	logger  zerolog.Logger
}

// NewService builds calendar views in the clinic's time zone. A nil loc means UTC.
func NewService(fetcher *scheduling.Fetcher, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		fetcher: fetcher,
		loc:     loc,
		now:     time.Now,
		logger:  logger.With().Str("component", "calendar").Logger(),
	}
}

// Today is the current date in the clinic's time zone.
func (s *Service) Today() time.Time {
	return dateOnly(s.now().In(s.loc))
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// View fetches the viewer's appointments for the window around req.Reference
// and lays them out. Only a role that may not see the calendar at all is
// returned as an error; load failures are reported in the View.
func (s *Service) View(ctx context.Context, req ViewRequest) (*View, error) {
	if req.Mode == "" {
		req.Mode = ViewWeek
	}
	if req.Mode != ViewWeek && req.Mode != ViewDay {
		return nil, ErrInvalidView
	}
	ref := req.Reference
	if ref.IsZero() {
		ref = s.Today()
	}
	ref = dateOnly(ref)

	filter := req.DoctorFilter
	if filter == "" {
		filter = AllDoctors
	}
	if req.Viewer.Role == auth.RoleDoctor && (req.DoctorFilter == "" || req.DoctorFilter == AllDoctors) {
		filter = req.Viewer.UserID
	}

	window := Window(ref, req.Mode)
	from := window[0].Format(scheduling.DateLayout)
	to := window[len(window)-1].Format(scheduling.DateLayout)

	ctx, span := telemetry.StartSpan(ctx, "calendar.view",
		attribute.String("role", req.Viewer.Role),
		attribute.String("view", string(req.Mode)),
		attribute.String("from", from),
		attribute.String("to", to),
	)
	res := s.fetcher.Fetch(ctx, scheduling.Query{
		Role:      req.Viewer.Role,
		SubjectID: req.Viewer.UserID,
		DateFrom:  from,
		DateTo:    to,
	})
	if res.Status == scheduling.FetchFailed && errors.Is(res.Err, scheduling.ErrForbidden) {
		telemetry.EndSpan(span, res.Err)
		return nil, res.Err
	}

	v := &View{
		Mode:         req.Mode,
		Date:         ref.Format(scheduling.DateLayout),
		From:         from,
		To:           to,
		DoctorFilter: filter,
		Status:       res.Status,
		Permissions:  scheduling.PermissionsFor(req.Viewer.Role),
		Labels:       SlotLabels(),
		Days: BuildGrid(GridInput{
			Reference:    ref,
			Mode:         req.Mode,
			Appointments: res.Appointments,
			DoctorFilter: filter,
			Today:        s.Today(),
		}),
	}
	if res.Err != nil {
		v.Error = "appointments could not be loaded"
		s.logger.Warn().Err(res.Err).Str("from", from).Str("to", to).Msg("calendar rendered without appointments")
	}
	span.SetAttributes(attribute.String("fetch_status", string(res.Status)))
	telemetry.EndSpan(span, res.Err)
	return v, nil
}
