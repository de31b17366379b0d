// Package errors defines the sentinel errors shared by the forward index
// writer, reader and the lookup service, plus an AppError wrapper that
// carries an HTTP status for handlers.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrFormat covers bad magic, unsupported versions, corrupt checksums and
	// structurally invalid token streams. It is always fatal.
	ErrFormat = errors.New("format error")
	// ErrPayloadDecode is returned when an occurrence payload cannot be parsed.
	ErrPayloadDecode = errors.New("payload decode error")
	// ErrBuildIO wraps disk failures during a segment build.
	ErrBuildIO = errors.New("build I/O error")

	ErrDocumentNotFound = errors.New("document not found")
	ErrFieldNotFound    = errors.New("field not found")
	ErrTokenNotFound    = errors.New("token not found")
	ErrShardUnavailable = errors.New("shard unavailable")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
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

// Format returns an ErrFormat-wrapped error with the given message.
func Format(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

// BuildIO wraps an I/O failure raised while building a segment.
func BuildIO(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrBuildIO, op, err)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound),
		errors.Is(err, ErrFieldNotFound),
		errors.Is(err, ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrShardUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
