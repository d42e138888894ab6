package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes request failures so the HTTP layer can map them to a
// status code without inspecting error strings.
type Kind string

const (
	KindAuth        Kind = "auth_error"   // 401, missing or invalid token
	KindValidation  Kind = "validation"   // 400, bad or missing fields
	KindNotFound    Kind = "not_found"    // 404, also used for "not yours"
	KindForbidden   Kind = "forbidden"    // 403
	KindRateLimited Kind = "rate_limit"   // 429
	KindUpstream    Kind = "upstream"     // 502, LLM provider failed
	KindInternal    Kind = "server_error" // 500
)

// Error wraps a cause with a classification and a user-facing message.
type Error struct {
	Kind    Kind
	Message string // returned to the client as "error"
	Details string // optional, returned as "details"
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error { return New(KindValidation, msg) }
func NotFound(msg string) *Error   { return New(KindNotFound, msg) }
func Auth(msg string) *Error       { return New(KindAuth, msg) }

// Upstream reports a failed model call; details carry the provider's answer.
func Upstream(details string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: "Language model request failed", Details: details, Err: err}
}

// Internal hides the cause behind a generic message but keeps it as details.
func Internal(err error) *Error {
	e := &Error{Kind: KindInternal, Message: "Internal server error", Err: err}
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// As extracts an *Error from err, classifying anything else as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// Status maps a kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
