package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	authzKey  contextKey = "authz"
	claimsKey contextKey = "claims"
)

// RoleLoader reads an account's current role set from storage.
type RoleLoader interface {
	RolesFor(ctx context.Context, accountID uuid.UUID) ([]Role, error)
}

// Verifier is satisfied by *Tokens.
type Verifier interface {
	Verify(tokenStr string) (*Claims, error)
}

type MiddlewareConfig struct {
	Verifier    Verifier
	Roles       RoleLoader
	Revocations *TokenRevocationStore
	Skipper     func(c echo.Context) bool
	Logger      zerolog.Logger
}

// JWTMiddleware authenticates the bearer token, rejects revoked tokens and
// loads the caller's role set from storage on every request. The resulting
// AuthorizationContext is stored on the request context.
func JWTMiddleware(cfg MiddlewareConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, err := tokenFromRequest(c)
			if err != nil {
				return err
			}

			claims, err := cfg.Verifier.Verify(tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if cfg.Revocations != nil && cfg.Revocations.IsRevoked(claims.ID) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
			}

			accountID, err := claims.AccountID()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}
			ctx := c.Request().Context()
			roles, err := cfg.Roles.RolesFor(ctx, accountID)
			if err != nil {
				cfg.Logger.Error().Err(err).Str("account_id", accountID.String()).Msg("failed to load roles")
				return err
			}

			authz := NewAuthorizationContext(accountID, roles)
			ctx = context.WithValue(ctx, authzKey, authz)
			ctx = context.WithValue(ctx, claimsKey, claims)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("account_id", accountID.String())

			return next(c)
		}
	}
}

// tokenFromRequest reads the bearer header. Browsers cannot set headers on a
// websocket upgrade, so those requests may pass access_token as a query
// parameter instead.
func tokenFromRequest(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		if isWebsocketUpgrade(c.Request()) {
			if tok := c.QueryParam("access_token"); tok != "" {
				return tok, nil
			}
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// WithAuthorization stores authz on ctx. Handler tests use it in place of the
// middleware.
func WithAuthorization(ctx context.Context, authz AuthorizationContext) context.Context {
	return context.WithValue(ctx, authzKey, authz)
}

func FromContext(ctx context.Context) (AuthorizationContext, bool) {
	authz, ok := ctx.Value(authzKey).(AuthorizationContext)
	return authz, ok
}

// ClaimsFromContext returns the verified token claims, used by sign-out.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// WithClaims stores claims on ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// Authz returns the caller's AuthorizationContext or 401 when the request did
// not pass through JWTMiddleware.
func Authz(c echo.Context) (AuthorizationContext, error) {
	authz, ok := FromContext(c.Request().Context())
	if !ok {
		return AuthorizationContext{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return authz, nil
}
