package calendar

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/domain/scheduling"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/calendar", h.GetCalendar)
	api.GET("/calendar/permissions", h.GetPermissions)
}

// GetCalendar handles GET /calendar?date=YYYY-MM-DD&view=day|week&doctor=<id>|all.
func (h *Handler) GetCalendar(c echo.Context) error {
	mode, err := ParseViewMode(c.QueryParam("view"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var ref time.Time
	if d := c.QueryParam("date"); d != "" {
		ref, err = time.ParseInLocation(scheduling.DateLayout, d, h.svc.Location())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
	}

	v, err := h.svc.View(c.Request().Context(), ViewRequest{
		Viewer:       scheduling.ActorFromContext(c),
		Reference:    ref,
		Mode:         mode,
		DoctorFilter: c.QueryParam("doctor"),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidView) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return scheduling.MapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

// GetPermissions returns the caller's capability flags.
func (h *Handler) GetPermissions(c echo.Context) error {
	actor := scheduling.ActorFromContext(c)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"role":        actor.Role,
		"permissions": scheduling.PermissionsFor(actor.Role),
	})
}
