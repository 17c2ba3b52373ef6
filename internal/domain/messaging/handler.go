package messaging

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
	g := api.Group("/messages")
	g.POST("", h.Send)
	g.GET("/unread-count", h.UnreadCount)
	g.GET("/conversations/:account_id", h.Conversation)
	g.POST("/conversations/:account_id/read", h.MarkRead)
}

func otherParty(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("account_id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid account_id")
	}
	return id, nil
}

func (h *Handler) Send(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m, err := h.svc.Send(c.Request().Context(), authz, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) Conversation(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	other, err := otherParty(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Conversation(c.Request().Context(), authz, other, pg.Limit, pg.Offset)
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
	other, err := otherParty(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkConversationRead(c.Request().Context(), authz, other)
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
