package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"buildtrack/api/internal/auth"
	"buildtrack/api/internal/baseline"
	"buildtrack/api/internal/export"
	"buildtrack/api/internal/procurement"
	"buildtrack/api/internal/storage"
	"buildtrack/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var transitionErr *procurement.TransitionError
	if errors.As(err, &transitionErr) {
		return http.StatusConflict, "INVALID_TRANSITION", transitionErr.Error(), map[string]any{
			"from":    transitionErr.From,
			"to":      transitionErr.To,
			"allowed": procurement.Next(transitionErr.Kind, transitionErr.From),
		}
	}
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, baseline.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, storage.ErrUnknownBucket):
		return http.StatusNotFound, "UNKNOWN_BUCKET", "Unknown bucket", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "The record was changed by someone else or already exists", nil
	case store.IsForeignKeyViolation(err):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Referenced record does not exist", nil
	case store.IsCheckViolation(err):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Value rejected by a constraint", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html, pdf or docx", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export renderer is not installed on this server", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
