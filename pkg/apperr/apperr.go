// Package apperr classifies failures so transports can report them
// distinctly: a throttled send must look different from a bad input.
package apperr

import (
	"net/http"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindThrottled
	KindNotFound
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindThrottled:
		return "throttled"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	}
	return "internal"
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

func Validation(msg string) error   { return newErr(KindValidation, msg) }
func Unauthorized(msg string) error { return newErr(KindUnauthorized, msg) }
func Forbidden(msg string) error    { return newErr(KindForbidden, msg) }
func Throttled(msg string) error    { return newErr(KindThrottled, msg) }
func NotFound(msg string) error     { return newErr(KindNotFound, msg) }

// Upstream wraps a collaborator failure (media upload, OTP delivery).
func Upstream(msg string, err error) error {
	return &Error{Kind: KindUpstream, Msg: msg, Err: err}
}

// KindOf returns the classification of err, KindInternal when it carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-facing text for err. Internal errors are not
// echoed verbatim.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "Internal server error"
}

func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
