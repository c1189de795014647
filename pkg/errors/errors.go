// Package errors defines the geocoder's sentinel errors and the AppError type
// that carries an HTTP status and a user-facing message.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrPlaceNotFound      = errors.New("place not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrIndexUnavailable   = errors.New("index unavailable")
	ErrUpdateInProgress   = errors.New("update already in progress")
	ErrUpdatesDisabled    = errors.New("updates not enabled")
	ErrNotSetUpForUpdates = errors.New("database not set up for updates")
	ErrInternal           = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// BadRequest is shorthand for an ErrInvalidInput AppError with status 400.
func BadRequest(format string, args ...any) *AppError {
	return Newf(ErrInvalidInput, http.StatusBadRequest, format, args...)
}

// Message returns the user-facing text for err. AppErrors yield their
// message, everything else its plain error string.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrPlaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpdateInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrUpdatesDisabled), errors.Is(err, ErrNotSetUpForUpdates),
		errors.Is(err, ErrIndexUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
