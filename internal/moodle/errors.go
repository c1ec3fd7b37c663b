package moodle

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyFilter = errors.New("moodle: empty filter value set")
	ErrNoRoles     = errors.New("moodle: user has no course roles")
)

// APIError is a Moodle "exception" payload or a response that is not JSON.
type APIError struct {
	Function  string
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
	// Body holds the raw response when it could not be decoded.
	Body string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Exception == "" {
		return fmt.Sprintf("moodle: %s: response is not JSON: %.200s", e.Function, e.Body)
	}
	return fmt.Sprintf("moodle: %s: %s (%s): %s", e.Function, e.Exception, e.ErrorCode, e.Message)
}

// PermissionError means the web service token may not call Function. The
// function must be enabled in the external service definition.
type PermissionError struct{ Function string }

func (e *PermissionError) Error() string {
	return fmt.Sprintf("moodle: service does not have access to function %q", e.Function)
}

type UnknownFieldError struct{ Field string }

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("moodle: unknown course field %q", e.Field)
}
