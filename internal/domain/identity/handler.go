package identity

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dentalcare/dentalcare/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts sign-up and sign-in (public, see auth.AuthSkipper)
// and the authenticated profile routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/signup", h.SignUp)
	api.POST("/auth/signin", h.SignIn)
	api.POST("/auth/signout", h.SignOut)
	api.GET("/me", h.Me)
	api.PATCH("/me", h.UpdateProfile)
}

func (h *Handler) SignUp(c echo.Context) error {
	var req SignUpRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	session, err := h.svc.SignUp(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, session)
}

func (h *Handler) SignIn(c echo.Context) error {
	var req SignInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	session, err := h.svc.SignIn(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handler) SignOut(c echo.Context) error {
	if err := h.svc.SignOut(c.Request().Context(), auth.ClaimsFromContext(c.Request().Context())); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	me, err := h.svc.Current(c.Request().Context(), authz)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, me)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	var req UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	account, err := h.svc.UpdateProfile(c.Request().Context(), authz, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, account)
}
