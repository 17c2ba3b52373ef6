package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type mockRoleLoader struct {
	roles map[uuid.UUID][]Role
	err   error
	calls int
}

func (m *mockRoleLoader) RolesFor(ctx context.Context, accountID uuid.UUID) ([]Role, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.roles[accountID], nil
}

func runMiddleware(t *testing.T, cfg MiddlewareConfig, req *http.Request) (AuthorizationContext, bool, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got AuthorizationContext
	var reached bool
	h := JWTMiddleware(cfg)(func(c echo.Context) error {
		reached = true
		got, _ = FromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})
	err := h(c)
	return got, reached, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", code)
	}
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	cfg := MiddlewareConfig{Verifier: newTestTokens(), Roles: &mockRoleLoader{}, Logger: zerolog.Nop()}
	_, reached, err := runMiddleware(t, cfg, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	expectStatus(t, err, http.StatusUnauthorized)
	if reached {
		t.Error("handler must not run")
	}
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
	}
	cfg := MiddlewareConfig{Verifier: newTestTokens(), Roles: &mockRoleLoader{}, Logger: zerolog.Nop()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			req.Header.Set("Authorization", tt.header)
			_, _, err := runMiddleware(t, cfg, req)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_LoadsRolesFromStore(t *testing.T) {
	tokens := newTestTokens()
	id := uuid.New()
	issued, err := tokens.Issue(id, "ada@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	loader := &mockRoleLoader{roles: map[uuid.UUID][]Role{id: {RoleDentist, RolePatient}}}
	cfg := MiddlewareConfig{Verifier: tokens, Roles: loader, Logger: zerolog.Nop()}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+issued.AccessToken)
	authz, reached, err := runMiddleware(t, cfg, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reached {
		t.Fatal("expected handler to run")
	}
	if authz.AccountID != id {
		t.Errorf("expected account %s, got %s", id, authz.AccountID)
	}
	if primary, _ := authz.PrimaryRole(); primary != RoleDentist {
		t.Errorf("expected primary role dentist, got %q", primary)
	}
	if loader.calls != 1 {
		t.Errorf("expected one role lookup, got %d", loader.calls)
	}
}

func TestJWTMiddleware_RoleLoaderError(t *testing.T) {
	tokens := newTestTokens()
	issued, _ := tokens.Issue(uuid.New(), "")
	loadErr := errors.New("connection refused")
	cfg := MiddlewareConfig{Verifier: tokens, Roles: &mockRoleLoader{err: loadErr}, Logger: zerolog.Nop()}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+issued.AccessToken)
	_, reached, err := runMiddleware(t, cfg, req)
	if !errors.Is(err, loadErr) {
		t.Errorf("expected loader error, got %v", err)
	}
	if reached {
		t.Error("handler must not run")
	}
}

// stubVerifier accepts any token and returns fixed claims.
type stubVerifier struct{ claims *Claims }

func (s stubVerifier) Verify(string) (*Claims, error) { return s.claims, nil }

func TestJWTMiddleware_RejectsNonAccountSubject(t *testing.T) {
	claims := &Claims{}
	claims.Subject = "dev-user"
	loader := &mockRoleLoader{}
	cfg := MiddlewareConfig{Verifier: stubVerifier{claims: claims}, Roles: loader, Logger: zerolog.Nop()}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	_, reached, err := runMiddleware(t, cfg, req)
	expectStatus(t, err, http.StatusUnauthorized)
	if reached {
		t.Error("handler must not run")
	}
	if loader.calls != 0 {
		t.Errorf("roles must not be loaded for a bad subject, got %d lookups", loader.calls)
	}
}

func TestJWTMiddleware_RevokedToken(t *testing.T) {
	tokens := newTestTokens()
	issued, _ := tokens.Issue(uuid.New(), "")
	store := NewTokenRevocationStore()
	defer store.Close()
	store.Revoke(issued.JTI, issued.ExpiresAt)

	cfg := MiddlewareConfig{Verifier: tokens, Roles: &mockRoleLoader{}, Revocations: store, Logger: zerolog.Nop()}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+issued.AccessToken)
	_, _, err := runMiddleware(t, cfg, req)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_QueryTokenOnlyForWebsocket(t *testing.T) {
	tokens := newTestTokens()
	id := uuid.New()
	issued, _ := tokens.Issue(id, "")
	cfg := MiddlewareConfig{Verifier: tokens, Roles: &mockRoleLoader{}, Logger: zerolog.Nop()}

	plain := httptest.NewRequest(http.MethodGet, "/api/v1/ws?access_token="+issued.AccessToken, nil)
	_, _, err := runMiddleware(t, cfg, plain)
	expectStatus(t, err, http.StatusUnauthorized)

	upgrade := httptest.NewRequest(http.MethodGet, "/api/v1/ws?access_token="+issued.AccessToken, nil)
	upgrade.Header.Set("Upgrade", "websocket")
	authz, reached, err := runMiddleware(t, cfg, upgrade)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reached || authz.AccountID != id {
		t.Errorf("expected websocket upgrade to authenticate via query token")
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := MiddlewareConfig{Verifier: newTestTokens(), Roles: &mockRoleLoader{}, Skipper: AuthSkipper, Logger: zerolog.Nop()}
	_, reached, err := runMiddleware(t, cfg, httptest.NewRequest(http.MethodPost, "/api/v1/auth/signin", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reached {
		t.Error("expected public path to skip auth")
	}
}

func TestAuthz_WithoutMiddleware(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_, err := Authz(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestWithAuthorization_RoundTrip(t *testing.T) {
	want := NewAuthorizationContext(uuid.New(), []Role{RoleNurse})
	got, ok := FromContext(WithAuthorization(context.Background(), want))
	if !ok || got.AccountID != want.AccountID || !got.Has(RoleNurse) {
		t.Errorf("unexpected authz %+v", got)
	}
}

func TestRevocationStore_Cleanup(t *testing.T) {
	store := NewTokenRevocationStore()
	defer store.Close()

	now := time.Now()
	store.Revoke("expired", now.Add(-time.Minute))
	store.Revoke("live", now.Add(time.Hour))
	store.Revoke("", now.Add(time.Hour))
	if store.Count() != 2 {
		t.Fatalf("expected 2 entries, got %d", store.Count())
	}

	store.cleanup()
	if store.IsRevoked("expired") {
		t.Error("expected expired entry to be dropped")
	}
	if !store.IsRevoked("live") {
		t.Error("expected live entry to remain")
	}
	store.Close()
	store.Close()
}
