package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/platform/auth"
)

// AuditEntry records one access to clinical data.
type AuditEntry struct {
	AccountID  string
	Roles      []string
	Resource   string
	Action     string
	Path       string
	Method     string
	RemoteIP   string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// clinicalResources are the /api/v1 path segments whose access is audited.
var clinicalResources = map[string]bool{
	"records":       true,
	"treatments":    true,
	"prescriptions": true,
}

// Audit logs every request touching clinical resources with the caller, the
// action and the resulting status. An optional recorder receives the same
// entry.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			resource := resourceOf(req.URL.Path)
			if !clinicalResources[resource] {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status, _ = statusFor(err)
			}
			entry := AuditEntry{
				Resource:   resource,
				Action:     actionOf(req.Method),
				Path:       req.URL.Path,
				Method:     req.Method,
				RemoteIP:   c.RealIP(),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			if authz, ok := auth.FromContext(req.Context()); ok {
				entry.AccountID = authz.AccountID.String()
				for _, r := range authz.Roles {
					entry.Roles = append(entry.Roles, string(r))
				}
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "clinical_audit").
				Str("request_id", entry.RequestID).
				Str("account_id", entry.AccountID).
				Strs("roles", entry.Roles).
				Str("resource", entry.Resource).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.StatusCode).
				Msg("clinical_access")

			return err
		}
	}
}

func resourceOf(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		return ""
	}
	segment, _, _ := strings.Cut(rest, "/")
	return segment
}

func actionOf(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
