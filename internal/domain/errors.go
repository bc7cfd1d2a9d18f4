package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the generation and export pipelines.
type ErrorKind string

const (
	ErrorConfiguration ErrorKind = "configuration"
	ErrorTransport     ErrorKind = "transport"
	ErrorProtocol      ErrorKind = "protocol"
	ErrorStreamDecode  ErrorKind = "stream_decode"
)

// Error is a classified pipeline failure. Stage names the choreography step
// that failed, when there is one.
type Error struct {
	Kind    ErrorKind
	Stage   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Err == nil {
		return msg
	}
	if msg == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConfigError reports a missing or invalid setting detected before any network call.
func ConfigError(format string, args ...any) *Error {
	return &Error{Kind: ErrorConfiguration, Message: fmt.Sprintf(format, args...)}
}

// ProtocolError reports a response that does not match the expected schema.
func ProtocolError(stage, message string) *Error {
	return &Error{Kind: ErrorProtocol, Stage: stage, Message: message}
}

// TransportError wraps a network or non-2xx failure.
func TransportError(stage string, err error) *Error {
	return &Error{Kind: ErrorTransport, Stage: stage, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Kind, true
}

// StageOf returns the stage of the first *Error in err's chain.
func StageOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Stage
}
