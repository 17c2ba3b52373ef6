// Package apperr defines the error taxonomy shared by services, repositories
// and the HTTP error handler.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrForbidden         = errors.New("insufficient permissions")
	ErrUnauthenticated   = errors.New("authentication required")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUpstream          = errors.New("upstream service failed")
)

// Stable error codes rendered in response bodies.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeForbidden         = "INSUFFICIENT_PERMISSIONS"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeNotFound          = "RESOURCE_NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeUpstream          = "UPSTREAM_ERROR"
	CodeUnavailable       = "TEMPORARILY_UNAVAILABLE"
	CodeInternal          = "INTERNAL_ERROR"
)

// ValidationError reports malformed or out-of-range input for one field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err is a retryable I/O failure: a pgx error
// that is safe to retry, or a deadline.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// FromDB maps pgx.ErrNoRows to ErrNotFound and unique violations to
// ErrConflict. Other errors pass through unchanged.
func FromDB(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &ConstraintError{Constraint: pgErr.ConstraintName}
	}
	return err
}

// ConstraintError is a unique violation reported by the database. The
// constraint name shows up in logs but never in response bodies.
type ConstraintError struct {
	Constraint string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict, e.Constraint)
}

func (e *ConstraintError) Unwrap() error { return ErrConflict }

// publicDetail returns the text a service attached directly to sentinel,
// as in fmt.Errorf("%w: detail", sentinel), without any outer wrapping.
// Database constraint errors and bare sentinels yield fallback.
func publicDetail(err, sentinel error, fallback string) string {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return fallback
	}
	prefix := sentinel.Error() + ": "
	for e := err; e != nil; e = errors.Unwrap(e) {
		if errors.Unwrap(e) != sentinel {
			continue
		}
		if detail, ok := strings.CutPrefix(e.Error(), prefix); ok && detail != "" {
			return detail
		}
		break
	}
	return fallback
}

// Kind is a short label for logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsValidation(err):
		return "validation"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case IsTransient(err):
		return "transient"
	default:
		return "internal"
	}
}

// Response is the JSON error body.
type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Classify maps err to an HTTP status and a response body. Messages for
// internal and upstream failures are generic. Conflicts and transitions
// carry only the detail their service attached.
func Classify(err error) (int, Response) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, Response{Code: CodeValidation, Message: ve.Message, Field: ve.Field}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, Response{Code: CodeForbidden, Message: "you do not have permission to perform this action"}
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, Response{Code: CodeUnauthenticated, Message: "authentication required"}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, Response{Code: CodeNotFound, Message: "the requested resource was not found"}
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict, Response{Code: CodeInvalidTransition,
			Message: publicDetail(err, ErrInvalidTransition, "the requested status change is not allowed")}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, Response{Code: CodeConflict,
			Message: publicDetail(err, ErrConflict, "the resource already exists or was changed concurrently")}
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway, Response{Code: CodeUpstream, Message: "the recommendation service is unavailable, please try again later"}
	case IsTransient(err):
		return http.StatusServiceUnavailable, Response{Code: CodeUnavailable, Message: "service temporarily unavailable, please retry"}
	default:
		return http.StatusInternalServerError, Response{Code: CodeInternal, Message: "internal server error"}
	}
}
