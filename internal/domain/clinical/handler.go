package clinical

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

// RegisterRoutes mounts the clinical endpoints. recommendMW wraps the AI
// endpoint only, typically with a tighter rate limit.
func (h *Handler) RegisterRoutes(api *echo.Group, recommendMW ...echo.MiddlewareFunc) {
	api.POST("/recommend", h.Recommend, recommendMW...)

	tr := api.Group("/treatments")
	tr.POST("", h.CreateTreatment)
	tr.GET("", h.ListTreatments)
	tr.GET("/:id", h.GetTreatment)
	tr.PATCH("/:id/review", h.ReviewTreatment)

	rx := api.Group("/prescriptions")
	rx.POST("", h.IssuePrescription)
	rx.GET("", h.ListPrescriptions)
	rx.GET("/:id", h.GetPrescription)
	rx.PATCH("/:id/status", h.UpdatePrescriptionStatus)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
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

func (h *Handler) Recommend(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	var req RecommendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.svc.Recommend(c.Request().Context(), authz, req.Symptoms)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// -- Treatment Handlers --

func (h *Handler) CreateTreatment(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	var req CreateTreatmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.CreateTreatment(c.Request().Context(), authz, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTreatment(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTreatment(c.Request().Context(), authz, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTreatments(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	patientID, err := patientFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTreatments(c.Request().Context(), authz, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ReviewTreatment(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ReviewTreatmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.ReviewTreatment(c.Request().Context(), authz, id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// -- Prescription Handlers --

func (h *Handler) IssuePrescription(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	var req IssuePrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.IssuePrescription(c.Request().Context(), authz, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPrescription(c.Request().Context(), authz, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	patientID, err := patientFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPrescriptions(c.Request().Context(), authz, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdatePrescriptionStatus(c echo.Context) error {
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
	to, ok := ParsePrescriptionStatus(req.Status)
	if !ok {
		return apperr.Invalid("status", "unknown prescription status %q", req.Status)
	}
	p, err := h.svc.TransitionPrescription(c.Request().Context(), authz, id, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
