// Package errkind defines the closed set of failure kinds surfaced by the
// payment flow so callers can tell retryable failures from terminal ones.
package errkind

import (
	"errors"
	"strings"
)

type Kind string

const (
	KindConfig          Kind = "config_error"
	KindGatewayRejected Kind = "gateway_rejected"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindTransient       Kind = "transient"
)

// Sentinels for errors.Is matching.
var (
	ErrConfig          = &Error{Kind: KindConfig}
	ErrGatewayRejected = &Error{Kind: KindGatewayRejected}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrTransient       = &Error{Kind: KindTransient}
)

// Error is a kinded error with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return string(e.Kind)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Config(message string) error {
	return &Error{Kind: KindConfig, Message: message}
}

func GatewayRejected(message string) error {
	if strings.TrimSpace(message) == "" {
		message = "payment gateway rejected the request"
	}
	return &Error{Kind: KindGatewayRejected, Message: message}
}

func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Conflict(message string) error {
	return &Error{Kind: KindConflict, Message: message}
}

func Transient(message string, err error) error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

// Of returns the kind of err, or "" when err carries none.
func Of(err error) Kind {
	var kerr *Error
	if errors.As(err, &kerr) && kerr != nil {
		return kerr.Kind
	}
	return ""
}

// Retryable reports whether a caller may retry the same request.
func Retryable(err error) bool {
	switch Of(err) {
	case KindNotFound, KindTransient:
		return true
	default:
		return false
	}
}
