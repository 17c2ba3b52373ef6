package records

import (
	"net/http"
	"strings"

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
	p := api.Group("/patients/:id")
	p.POST("/images", h.UploadImage)
	p.GET("/images", h.Gallery)
	p.GET("/history", h.GetHistory)
	p.PUT("/history", h.SaveHistory)

	api.DELETE("/images/:id", h.DeleteImage)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// UploadImage accepts multipart/form-data with a "file" part and optional
// "description" and "appointment_id" fields.
func (h *Handler) UploadImage(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.Invalid("file", "is required")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read uploaded file")
	}
	defer src.Close()

	req := &UploadImageRequest{
		PatientID: patientID,
		FileName:  fh.Filename,
		Content:   src,
	}
	if d := c.FormValue("description"); d != "" {
		req.Description = &d
	}
	if v := strings.TrimSpace(c.FormValue("appointment_id")); v != "" {
		apptID, err := uuid.Parse(v)
		if err != nil {
			return apperr.Invalid("appointment_id", "must be a UUID")
		}
		req.AppointmentID = &apptID
	}

	img, err := h.svc.UploadImage(c.Request().Context(), authz, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, img)
}

func (h *Handler) Gallery(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Gallery(c.Request().Context(), authz, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) DeleteImage(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteImage(c.Request().Context(), authz, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetHistory(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	hist, err := h.svc.GetHistory(c.Request().Context(), authz, patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hist)
}

func (h *Handler) SaveHistory(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	var req HistoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	hist, err := h.svc.SaveHistory(c.Request().Context(), authz, patientID, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hist)
}
