package scheduling

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)

	book := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleNurse))
	book.POST("/appointments", h.CreateAppointment)

	patient := api.Group("", auth.RequireRole(auth.RolePatient))
	patient.POST("/appointments/requests", h.RequestAppointment)

	edit := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleNurse, auth.RoleDoctor))
	edit.PUT("/appointments/:id", h.UpdateAppointment)
	edit.PATCH("/appointments/:id/status", h.ChangeStatus)
	edit.POST("/appointments/:id/reschedule", h.Reschedule)

	approve := api.Group("", auth.RequireRole(auth.RoleDoctor))
	approve.POST("/appointments/:id/approve", h.Approve)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/appointments/:id", h.DeleteAppointment)
}

// ActorFromContext builds the acting user from the authenticated request.
func ActorFromContext(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{UserID: auth.UserIDFromContext(ctx), Role: auth.RoleFromContext(ctx)}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req CreateAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Create(c.Request().Context(), ActorFromContext(c), req)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) RequestAppointment(c echo.Context) error {
	var req CreateAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.RequestAppointment(c.Request().Context(), ActorFromContext(c), req)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), ActorFromContext(c), id)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := ListParams{
		DateFrom: c.QueryParam("from"),
		DateTo:   c.QueryParam("to"),
		DoctorID: c.QueryParam("doctor_id"),
		Status:   Status(c.QueryParam("status")),
		Page:     pg,
	}
	if params.Status != "" && !ValidStatus(params.Status) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	items, total, err := h.svc.List(c.Request().Context(), ActorFromContext(c), params)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdateAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Update(c.Request().Context(), ActorFromContext(c), id, req)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req StatusChangeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.TransitionStatus(c.Request().Context(), ActorFromContext(c), id, req.Status, req.Reason)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Approve(c.Request().Context(), ActorFromContext(c), id)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req RescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Reschedule(c.Request().Context(), ActorFromContext(c), id, req)
	if err != nil {
		return MapError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), ActorFromContext(c), id); err != nil {
		return MapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MapError translates service errors to HTTP errors.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSlotTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
