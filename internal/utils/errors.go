package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op     string
	Msg    string
	Status int
	Err    error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError that maps to a 500 at the HTTP edge.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Status: http.StatusInternalServerError, Err: err}
}

// NewBadRequest constructs an AppError for rejected client input.
func NewBadRequest(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Status: http.StatusBadRequest, Err: err}
}

// HTTPStatus returns the status carried by an AppError in the chain, or fallback.
func HTTPStatus(err error, fallback int) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return fallback
}
