package reminder

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dentalcare/dentalcare/internal/platform/auth"
)

type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reminders", auth.RequireRole(auth.RoleAdmin))
	g.POST("/dispatch", h.Dispatch)
}

type dispatchResponse struct {
	Message string `json:"message"`
	*DispatchResult
}

func (h *Handler) Dispatch(c echo.Context) error {
	authz, err := auth.Authz(c)
	if err != nil {
		return err
	}
	res, err := h.dispatcher.Trigger(c.Request().Context(), authz)
	if err != nil {
		return err
	}
	msg := "Reminders processed successfully"
	if res.Count == 0 && res.Failed == 0 {
		msg = "No reminders to process"
	}
	return c.JSON(http.StatusOK, dispatchResponse{Message: msg, DispatchResult: res})
}
