package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
)

func newAuthedContext(method, body string, authz auth.AuthorizationContext) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithAuthorization(req.Context(), authz))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_GrantRole(t *testing.T) {
	svc, accounts, _ := newTestService()
	target := accounts.add("n@example.com")
	h := NewHandler(svc)

	c, rec := newAuthedContext(http.MethodPost, `{"role":"nurse"}`, as(auth.RoleAdmin))
	c.SetParamNames("id")
	c.SetParamValues(target.ID.String())
	if err := h.GrantRole(c); err != nil {
		t.Fatalf("GrantRole: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &view)
	if view["primary_role"] != "nurse" || view["dashboard"] != "patient" {
		t.Errorf("unexpected view %v", view)
	}
}

func TestHandler_GrantRoleUnknownRole(t *testing.T) {
	svc, accounts, _ := newTestService()
	target := accounts.add("n@example.com")
	h := NewHandler(svc)

	c, _ := newAuthedContext(http.MethodPost, `{"role":"janitor"}`, as(auth.RoleAdmin))
	c.SetParamNames("id")
	c.SetParamValues(target.ID.String())
	var ve *apperr.ValidationError
	if err := h.GrantRole(c); !errors.As(err, &ve) || ve.Field != "role" {
		t.Fatalf("expected role validation error, got %v", err)
	}
}

func TestHandler_RevokeRoleInvalidID(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)

	c, _ := newAuthedContext(http.MethodDelete, "", as(auth.RoleAdmin))
	c.SetParamNames("id", "role")
	c.SetParamValues("nope", "patient")
	var httpErr *echo.HTTPError
	if err := h.RevokeRole(c); !errors.As(err, &httpErr) || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_StatsForbiddenForPatient(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)

	c, _ := newAuthedContext(http.MethodGet, "", as(auth.RolePatient))
	if err := h.Stats(c); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestHandler_RoutesEnforceRoleGroups(t *testing.T) {
	svc, _, _ := newTestService()
	e := echo.New()
	authz := as(auth.RoleManager)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(auth.WithAuthorization(c.Request().Context(), authz)))
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(e.Group("/api/v1"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("manager should reach stats, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/accounts", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("manager must not list accounts, got %d", rec.Code)
	}
}
