// Package errs is the error taxonomy surfaced by the orchestrators.
package errs

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies an orchestration failure
type Kind string

const (
	KindAdmission     Kind = "admission"
	KindForbidden     Kind = "forbidden"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindNotFound      Kind = "not_found"
	KindStateConflict Kind = "state_conflict"
	KindProvisioning  Kind = "provisioning"
	KindProbe         Kind = "probe"
)

// Error is a classified error carrying a caller-facing message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Admission(format string, args ...any) error     { return newf(KindAdmission, format, args...) }
func Forbidden(format string, args ...any) error     { return newf(KindForbidden, format, args...) }
func QuotaExceeded(format string, args ...any) error { return newf(KindQuotaExceeded, format, args...) }
func NotFound(format string, args ...any) error      { return newf(KindNotFound, format, args...) }
func StateConflict(format string, args ...any) error { return newf(KindStateConflict, format, args...) }

// Provisioning wraps a fleet manager failure.
func Provisioning(cause error, format string, args ...any) error {
	e := newf(KindProvisioning, format, args...)
	e.Cause = cause
	return e
}

// Probe wraps a game server or sidecar query failure.
func Probe(cause error, format string, args ...any) error {
	e := newf(KindProbe, format, args...)
	e.Cause = cause
	return e
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsAdmission reports any admission-control rejection, entitlement and quota included.
func IsAdmission(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindAdmission || k == KindForbidden || k == KindQuotaExceeded)
}

func IsNotFound(err error) bool      { return Is(err, KindNotFound) }
func IsStateConflict(err error) bool { return Is(err, KindStateConflict) }

// HTTPStatus maps an error to the status code returned by the API.
func HTTPStatus(err error) int {
	k, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch k {
	case KindAdmission:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		return http.StatusConflict
	case KindProvisioning, KindProbe:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
