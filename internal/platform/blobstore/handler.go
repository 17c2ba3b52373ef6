package blobstore

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler serves objects to holders of a signed URL. It sits outside the
// bearer-token middleware; the URL token is the only credential.
type Handler struct {
	store  ObjectStore
	signer *URLSigner
}

func NewHandler(store ObjectStore, signer *URLSigner) *Handler {
	return &Handler{store: store, signer: signer}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/storage/:bucket/*", h.Serve)
}

func (h *Handler) Serve(c echo.Context) error {
	bucket := c.Param("bucket")
	objectPath := c.Param("*")
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	if err := h.signer.Verify(token, bucket, objectPath); err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "invalid or expired token")
	}

	rc, info, err := h.store.Open(c.Request().Context(), bucket, objectPath)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrInvalidPath) {
			return echo.NewHTTPError(http.StatusNotFound, "object not found")
		}
		return err
	}
	defer rc.Close()

	c.Response().Header().Set("Cache-Control", "private, max-age=300")
	c.Response().Header().Set("X-Content-Type-Options", "nosniff")
	return c.Stream(http.StatusOK, info.ContentType, rc)
}
