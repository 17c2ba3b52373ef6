package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: health checks and the credential
// exchange endpoints.
var publicPaths = map[string]bool{
	"/health":             true,
	"/health/db":          true,
	"/api/v1/auth/signup": true,
	"/api/v1/auth/signin": true,
}

// AuthSkipper reports whether the request path skips JWT authentication.
// Signed object URLs under /storage/ carry their own token.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Request().URL.Path)
}

func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, "/storage/")
}
