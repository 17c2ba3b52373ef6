package scheduling

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	appts := api.Group("/appointments")
	appts.POST("", h.CreateAppointment)
	appts.GET("", h.ListAppointments)
	appts.GET("/:id", h.GetAppointment)
	appts.PATCH("/:id/status", h.UpdateStatus)
	appts.PATCH("/:id/schedule", h.Reschedule)
	appts.PUT("/:id/review", h.SubmitReview)

	api.GET("/dentists/:id/reviews", h.DentistReviews)

	wl := api.Group("/waitlist")
	wl.POST("", h.JoinWaitlist)
	wl.GET("", h.ListWaitlist)
	wl.PATCH("/:id/status", h.UpdateWaitlistStatus)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func optionalUUID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

// -- Appointment Handlers --

func (h *Handler) CreateAppointment(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	var req CreateAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.CreateAppointment(c.Request().Context(), authz, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), authz, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	var f AppointmentFilter
	if f.PatientID, err = optionalUUID(c, "patient_id"); err != nil {
		return err
	}
	if f.DentistID, err = optionalUUID(c, "dentist_id"); err != nil {
		return err
	}
	if v := c.QueryParam("status"); v != "" {
		st, ok := ParseStatus(v)
		if !ok {
			return apperr.Invalid("status", "unknown status %q", v)
		}
		f.Status = &st
	}
	f.From = c.QueryParam("from")
	f.To = c.QueryParam("to")

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), authz, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	to, ok := ParseStatus(req.Status)
	if !ok {
		return apperr.Invalid("status", "unknown status %q", req.Status)
	}
	a, err := h.svc.TransitionStatus(c.Request().Context(), authz, id, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Reschedule(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req RescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Reschedule(c.Request().Context(), authz, id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

// -- Review Handlers --

func (h *Handler) SubmitReview(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rv, err := h.svc.SubmitReview(c.Request().Context(), authz, id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rv)
}

func (h *Handler) DentistReviews(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	out, err := h.svc.DentistReviews(c.Request().Context(), authz, id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// -- Waitlist Handlers --

func (h *Handler) JoinWaitlist(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	var req JoinWaitlistRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	w, err := h.svc.JoinWaitlist(c.Request().Context(), authz, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) ListWaitlist(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	var status *WaitlistStatus
	if v := c.QueryParam("status"); v != "" {
		st, ok := ParseWaitlistStatus(v)
		if !ok {
			return apperr.Invalid("status", "unknown waitlist status %q", v)
		}
		status = &st
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListWaitlist(c.Request().Context(), authz, status, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateWaitlistStatus(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	to, ok := ParseWaitlistStatus(req.Status)
	if !ok {
		return apperr.Invalid("status", "unknown waitlist status %q", req.Status)
	}
	w, err := h.svc.TransitionWaitlist(c.Request().Context(), authz, id, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}
