package app

import (
	"errors"
	"fmt"
	"net/http"

	"smsrelay/api/internal/authpw"
	"smsrelay/api/internal/outbox"
	"smsrelay/api/internal/phone"
	"smsrelay/api/internal/session"
	"smsrelay/api/internal/store"
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

func invalidArgument(message string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_ARGUMENT", message, nil)
}

func unauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Not logged in or session expired", nil)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Admin privileges required", nil)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func tooManyAttempts() *DomainError {
	return domainError(http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many failed attempts, try again later", nil)
}

// translate turns errors from the lower packages into domain errors. Errors
// it does not recognize are returned unchanged and surface as server errors.
func translate(err error) error {
	var domainErr *DomainError
	var validation *authpw.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &domainErr):
		return domainErr
	case errors.As(err, &validation):
		return invalidArgument(validation.Message)
	case errors.Is(err, phone.ErrInvalidRecipient):
		return domainError(http.StatusBadRequest, "INVALID_RECIPIENT", "Invalid recipient number", nil)
	case errors.Is(err, outbox.ErrInvalidStatus):
		return domainError(http.StatusBadRequest, "INVALID_STATUS", "Status must be sent or failed", nil)
	case errors.Is(err, outbox.ErrAlreadyTerminal):
		return domainError(http.StatusConflict, "ALREADY_TERMINAL", "Outbox entry already has a final status", nil)
	case errors.Is(err, session.ErrUnauthenticated):
		return unauthorized()
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	case errors.Is(err, authpw.ErrAlreadyInitialized):
		return domainError(http.StatusBadRequest, "ALREADY_INITIALIZED", "Admin account already initialized", nil)
	case errors.Is(err, authpw.ErrConflict), errors.Is(err, store.ErrConflict):
		return domainError(http.StatusBadRequest, "CONFLICT", "Password already in use by another account", nil)
	case errors.Is(err, authpw.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return notFound("Not found")
	default:
		return err
	}
}
