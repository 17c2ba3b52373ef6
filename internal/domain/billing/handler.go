package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	g := api.Group("/payments")
	g.POST("", h.RecordPayment)
	g.GET("", h.ListPayments)
	g.GET("/summary", h.Summary)
	g.GET("/:id", h.GetPayment)
}

func patientFilter(c echo.Context) (*uuid.UUID, error) {
	v := c.QueryParam("patient_id")
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	return &id, nil
}

func (h *Handler) RecordPayment(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	var req RecordPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.RecordPayment(c.Request().Context(), authz, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPayment(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPayment(c.Request().Context(), authz, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPayments(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	patientID, err := patientFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPayments(c.Request().Context(), authz, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Summary(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	patientID, err := patientFilter(c)
	if err != nil {
		return err
	}
	totals, err := h.svc.Totals(c.Request().Context(), authz, patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": totals})
}
