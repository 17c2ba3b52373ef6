package clinical

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/middleware"
)

func newRequestContext(method, target, body string, authz auth.AuthorizationContext) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithAuthorization(req.Context(), authz))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_Recommend(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)

	c, rec := newRequestContext(http.MethodPost, "/", `{"symptoms":"Pain when biting down on the left side"}`, as(auth.RolePatient))
	if err := h.Recommend(c); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["recommendation"] != env.completer.response || body["confidence"] != 0.75 {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHandler_RecommendTooShort(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)

	c, _ := newRequestContext(http.MethodPost, "/", `{"symptoms":"ouch"}`, as(auth.RolePatient))
	if err := h.Recommend(c); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if env.completer.calls != 0 {
		t.Errorf("upstream must not be called")
	}
}

func TestHandler_RecommendRateLimited(t *testing.T) {
	env := newTestEnv()
	e := echo.New()
	authz := as(auth.RolePatient)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(auth.WithAuthorization(c.Request().Context(), authz)))
			return next(c)
		}
	})
	NewHandler(env.svc).RegisterRoutes(e.Group("/api/v1"), middleware.RateLimit(middleware.PerMinute(2)))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/recommend", strings.NewReader(`{"symptoms":"Swollen gum near wisdom tooth"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}
	if env.completer.calls != 2 {
		t.Errorf("expected 2 upstream calls, got %d", env.completer.calls)
	}

	// Other endpoints are not behind the recommend limiter.
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/treatments", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("treatments listing should not be limited, got %d", rec.Code)
	}
}

func TestHandler_CreateAndReviewTreatment(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	patient := uuid.New()

	c, rec := newRequestContext(http.MethodPost, "/", `{"patient_id":"`+patient.String()+`","symptoms":"Cracked incisor","estimated_cost":250}`, as(auth.RoleDentist))
	if err := h.CreateTreatment(c); err != nil {
		t.Fatalf("CreateTreatment: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created Treatment
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Currency != "USD" || created.Status != TreatmentRecommended {
		t.Errorf("unexpected treatment %+v", created)
	}

	c, rec = newRequestContext(http.MethodPatch, "/", `{"status":"rejected","dentist_notes":"Needs X-ray first"}`, as(auth.RoleDentist))
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.ReviewTreatment(c); err != nil {
		t.Fatalf("ReviewTreatment: %v", err)
	}
	var reviewed map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &reviewed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reviewed["status"] != "rejected" || reviewed["final_treatment"] != "Needs X-ray first" {
		t.Errorf("unexpected review body %v", reviewed)
	}
}

func TestHandler_GetTreatmentInvalidID(t *testing.T) {
	h := NewHandler(newTestEnv().svc)
	c, _ := newRequestContext(http.MethodGet, "/", "", as(auth.RoleDentist))
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	var httpErr *echo.HTTPError
	if err := h.GetTreatment(c); !errors.As(err, &httpErr) || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_ListPrescriptionsBadFilter(t *testing.T) {
	h := NewHandler(newTestEnv().svc)
	c, _ := newRequestContext(http.MethodGet, "/?patient_id=nope", "", as(auth.RoleDentist))
	var httpErr *echo.HTTPError
	if err := h.ListPrescriptions(c); !errors.As(err, &httpErr) || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_UpdatePrescriptionStatus(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	p := issue(t, env, uuid.New())

	c, _ := newRequestContext(http.MethodPatch, "/", `{"status":"paused"}`, as(auth.RoleDentist))
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.UpdatePrescriptionStatus(c); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	c, rec := newRequestContext(http.MethodPatch, "/", `{"status":"cancelled"}`, as(auth.RoleDentist))
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.UpdatePrescriptionStatus(c); err != nil {
		t.Fatalf("UpdatePrescriptionStatus: %v", err)
	}
	var got Prescription
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != PrescriptionCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
}
