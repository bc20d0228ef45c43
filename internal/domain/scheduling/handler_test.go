package scheduling

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *mockAppointmentRepo, *echo.Echo) {
	t.Helper()
	svc, repo, _ := newTestService("")
	return NewHandler(svc), repo, echo.New()
}

func newRequest(method, target, body string, actor Actor) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := auth.WithIdentity(req.Context(), actor.UserID, []string{actor.Role})
	return req.WithContext(ctx)
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError %d, got %v", code, err)
	}
	if he.Code != code {
		t.Errorf("expected status %d, got %d", code, he.Code)
	}
}

func TestHandler_CreateAppointment(t *testing.T) {
	h, repo, e := newTestHandler(t)
	body := `{"patient_id":"` + patientA.String() + `","doctor_id":"` + doctorA.String() + `","scheduled_date":"2024-03-04","scheduled_time":"9:00 AM"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/api/v1/appointments", body, receptionist), rec)

	if err := h.CreateAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if got.ScheduledTime != "09:00" || got.Status != StatusScheduled {
		t.Errorf("unexpected appointment: %s %s", got.ScheduledTime, got.Status)
	}
	if len(repo.appts) != 1 {
		t.Errorf("expected 1 stored appointment, got %d", len(repo.appts))
	}
}

func TestHandler_CreateAppointment_Conflict(t *testing.T) {
	h, repo, e := newTestHandler(t)
	repo.add(appt(doctorA, patientB, "2024-03-04", "09:00"))
	body := `{"patient_id":"` + patientA.String() + `","doctor_id":"` + doctorA.String() + `","scheduled_date":"2024-03-04","scheduled_time":"09:00:00"}`
	c := e.NewContext(newRequest(http.MethodPost, "/api/v1/appointments", body, admin), httptest.NewRecorder())

	expectStatus(t, h.CreateAppointment(c), http.StatusConflict)
}

func TestHandler_CreateAppointment_BadInput(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(newRequest(http.MethodPost, "/api/v1/appointments", `{"doctor_id":"nope"}`, admin), httptest.NewRecorder())

	expectStatus(t, h.CreateAppointment(c), http.StatusBadRequest)
}

func TestHandler_GetAppointment(t *testing.T) {
	h, repo, e := newTestHandler(t)
	a := repo.add(appt(doctorA, patientA, "2024-03-04", "09:00"))

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/", "", patActor), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.GetAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(newRequest(http.MethodGet, "/", "", otherDoc), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	expectStatus(t, h.GetAppointment(c), http.StatusNotFound)

	c = e.NewContext(newRequest(http.MethodGet, "/", "", admin), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectStatus(t, h.GetAppointment(c), http.StatusBadRequest)
}

func TestHandler_ListAppointments(t *testing.T) {
	h, repo, e := newTestHandler(t)
	repo.add(appt(doctorA, patientA, "2024-03-04", "09:00"))
	repo.add(appt(doctorA, patientA, "2024-03-05", "09:00"))
	repo.add(appt(doctorB, patientB, "2024-03-05", "10:00"))

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/api/v1/appointments?from=2024-03-05&limit=10", "", admin), rec)
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data  []Appointment `json:"data"`
		Total int           `json:"total"`
		Limit int           `json:"limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if resp.Total != 2 || len(resp.Data) != 2 {
		t.Errorf("expected 2 appointments from 2024-03-05, got %d", resp.Total)
	}
	if resp.Limit != 10 {
		t.Errorf("expected limit 10, got %d", resp.Limit)
	}

	c = e.NewContext(newRequest(http.MethodGet, "/api/v1/appointments?status=lost", "", admin), httptest.NewRecorder())
	expectStatus(t, h.ListAppointments(c), http.StatusBadRequest)

	c = e.NewContext(newRequest(http.MethodGet, "/api/v1/appointments", "", pharmacist), httptest.NewRecorder())
	expectStatus(t, h.ListAppointments(c), http.StatusForbidden)
}

func TestHandler_ChangeStatus(t *testing.T) {
	h, repo, e := newTestHandler(t)
	a := repo.add(appt(doctorA, patientA, "2024-03-04", "09:00"))

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPatch, "/", `{"status":"arrived"}`, nurse), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.ChangeStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"arrived"`) {
		t.Errorf("expected arrived in body, got %s", rec.Body.String())
	}

	c = e.NewContext(newRequest(http.MethodPatch, "/", `{"status":"scheduled"}`, nurse), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	expectStatus(t, h.ChangeStatus(c), http.StatusConflict)
}

func TestHandler_Reschedule(t *testing.T) {
	h, repo, e := newTestHandler(t)
	a := repo.add(appt(doctorA, patientA, "2024-03-04", "09:00"))

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/", `{"scheduled_date":"2024-03-07","scheduled_time":"14:00"}`, docActor), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.Reschedule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), a.ID.String()) {
		t.Error("expected rescheduled_from in response")
	}
}

func TestHandler_DeleteAppointment(t *testing.T) {
	h, repo, e := newTestHandler(t)
	a := repo.add(appt(doctorA, patientA, "2024-03-04", "09:00"))

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodDelete, "/", "", admin), rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.DeleteAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_RouteRoleGates(t *testing.T) {
	h, repo, e := newTestHandler(t)
	a := repo.add(appt(doctorA, patientA, "2024-03-04", "09:00"))

	var actor Actor
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), actor.UserID, []string{actor.Role})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	tests := []struct {
		name   string
		actor  Actor
		method string
		path   string
		body   string
		want   int
	}{
		{"patient cannot book", patActor, http.MethodPost, "/api/v1/appointments", `{}`, http.StatusForbidden},
		{"receptionist cannot request", receptionist, http.MethodPost, "/api/v1/appointments/requests", `{}`, http.StatusForbidden},
		{"patient cannot delete", patActor, http.MethodDelete, "/api/v1/appointments/" + a.ID.String(), "", http.StatusForbidden},
		{"nurse cannot approve", nurse, http.MethodPost, "/api/v1/appointments/" + a.ID.String() + "/approve", "", http.StatusForbidden},
		{"patient can list", patActor, http.MethodGet, "/api/v1/appointments", "", http.StatusOK},
		{"admin can delete", admin, http.MethodDelete, "/api/v1/appointments/" + a.ID.String(), "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor = tt.actor
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrForbidden, http.StatusForbidden},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrInvalidTransition, http.StatusConflict},
		{ErrSlotTaken, http.StatusConflict},
		{errDatabaseDown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		expectStatus(t, MapError(tt.err), tt.want)
	}
}
