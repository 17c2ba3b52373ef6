package notification

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

// RegisterRoutes registers the caller's notification routes. Every route acts
// on the authenticated account only.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.List)
	api.GET("/notifications/unread-count", h.UnreadCount)
	api.POST("/notifications/read-all", h.MarkAllRead)
	api.POST("/notifications/:id/read", h.MarkRead)
}

func (h *Handler) List(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	unreadOnly := c.QueryParam("unread") == "true"

	items, total, err := h.svc.List(c.Request().Context(), authz, unreadOnly, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) MarkRead(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.MarkRead(c.Request().Context(), authz, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkAllRead(c.Request().Context(), authz)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) UnreadCount(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), authz)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}
