package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"kttrack/api/internal/auth"
	"kttrack/api/internal/identity"
	"kttrack/api/internal/store"
	"kttrack/api/internal/workflow"
)

const (
	CodeRemoteUnavailable  = "REMOTE_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
	CodeValidationRejected = "VALIDATION_REJECTED"
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidBody        = "INVALID_BODY"
	CodeServerError        = "SERVER_ERROR"
)

var (
	ErrSectionEngaged      = errors.New("section has progress and cannot be removed")
	ErrNotFullyComplete    = errors.New("project can only be completed at 100% completion")
	ErrProjectNotCompleted = errors.New("only completed projects can be deleted")
	ErrAlreadyMember       = errors.New("user is already a member of this project")
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, what+" not found", nil)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, "Forbidden", nil)
}

// rejected reports a violated precondition. Nothing was persisted.
func rejected(err error) *DomainError {
	if errors.Is(err, workflow.ErrActorNotPermitted) {
		e := domainError(http.StatusForbidden, CodeForbidden, err.Error(), nil)
		e.Err = err
		return e
	}
	e := domainError(http.StatusUnprocessableEntity, CodeValidationRejected, err.Error(), nil)
	e.Err = err
	return e
}

func invalid(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidationRejected, message, nil)
}

// remote normalizes a persistence failure.
func remote(op string, err error) *DomainError {
	var e *DomainError
	switch {
	case errors.Is(err, store.ErrNotFound):
		e = domainError(http.StatusNotFound, CodeNotFound, op+": record not found", nil)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, identity.ErrTimedOut):
		e = domainError(http.StatusGatewayTimeout, CodeTimeout, op+": timed out", nil)
	default:
		e = domainError(http.StatusServiceUnavailable, CodeRemoteUnavailable, op+" failed", nil)
	}
	e.Err = err
	return e
}

// Result is the {success, error} shape handed to callers.
type Result struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

func Outcome(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	_, code, message, _ := mapError(err)
	return Result{Code: code, Error: message}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeUnauthorized, "Invalid username or password", nil
	case errors.Is(err, identity.ErrSessionRevoked),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	case errors.Is(err, identity.ErrTimedOut):
		return http.StatusGatewayTimeout, CodeTimeout, "Identity lookup timed out", nil
	case errors.Is(err, identity.ErrUserNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}
