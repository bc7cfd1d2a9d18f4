package usecase

import (
	"errors"
	"fmt"

	"chatbridge/internal/domain"
	"chatbridge/internal/transport"
)

type ErrorCode string

const (
	ErrorInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrorConfiguration ErrorCode = "CONFIGURATION_ERROR"
	ErrorRateLimited   ErrorCode = "RATE_LIMITED"
	ErrorUpstream      ErrorCode = "UPSTREAM_ERROR"
	ErrorProtocol      ErrorCode = "PROTOCOL_ERROR"
	ErrorInternal      ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// Classify wraps a pipeline failure into an *Error whose code reflects its
// kind. Errors that already are *Error pass through.
func Classify(reason string, err error) *Error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	if status, ok := transport.StatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, reason, err)
	}
	kind, ok := domain.KindOf(err)
	if !ok {
		return newError(ErrorInternal, reason, err)
	}
	switch kind {
	case domain.ErrorConfiguration:
		return newError(ErrorConfiguration, reason, err)
	case domain.ErrorProtocol:
		return newError(ErrorProtocol, reason, err)
	default:
		return newError(ErrorUpstream, reason, err)
	}
}
