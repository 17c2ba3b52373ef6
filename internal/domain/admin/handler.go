package admin

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
	roles := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	roles.GET("/accounts", h.ListAccounts)
	roles.POST("/accounts/:id/roles", h.GrantRole)
	roles.DELETE("/accounts/:id/roles/:role", h.RevokeRole)
	roles.POST("/promote", h.Promote)

	stats := api.Group("/admin", auth.RequireRole(auth.RoleAdmin, auth.RoleManager))
	stats.GET("/stats", h.Stats)
}

func (h *Handler) ListAccounts(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAccountsWithRoles(c.Request().Context(), authz, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GrantRole(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req RoleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	role, err := parseRole(req.Role)
	if err != nil {
		return err
	}
	view, err := h.svc.GrantRole(c.Request().Context(), authz, id, role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) RevokeRole(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	role, err := parseRole(c.Param("role"))
	if err != nil {
		return err
	}
	view, err := h.svc.RevokeRole(c.Request().Context(), authz, id, role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Promote(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	var req PromoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	view, err := h.svc.PromoteByEmail(c.Request().Context(), authz, req.Email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Stats(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.Stats(c.Request().Context(), authz)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}
