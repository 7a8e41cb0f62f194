package app

import (
	"fmt"
	"net/http"
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
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

func notFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

var (
	errAdminRequired     = domainError(http.StatusForbidden, "AUTH_REQUIRED", "Admin login required", nil)
	errLoginRequired     = domainError(http.StatusForbidden, "LOGIN_REQUIRED", "Login required", nil)
	errStaffNotFound     = domainError(http.StatusForbidden, "STAFF_NOT_FOUND", "Staff not found", nil)
	errPermission        = domainError(http.StatusForbidden, "PERMISSION_DENIED", "Permission denied", nil)
	errBadCredentials    = domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	errAdminExists       = domainError(http.StatusBadRequest, "ADMIN_EXISTS", "Admin already exists", nil)
	errPulseUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
)
