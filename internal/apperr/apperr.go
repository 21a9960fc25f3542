// Package apperr defines the error kinds that the HTTP layer renders to clients.
// Business code returns these as values; only the error handler turns them into responses.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for rendering, logging and metrics.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUpstreamUnavailable
	KindRateLimited
	KindTimeout
	KindHTTP
	KindCanceled
)

// StatusClientClosedRequest is the non-standard status recorded when the caller goes
// away before a response is ready.
const StatusClientClosedRequest = 499

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "http"
	case KindCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// Public details for kinds whose underlying cause is never returned to the caller.
const (
	DetailInternal            = "Internal Server Error"
	DetailUpstreamUnavailable = "Weather service unavailable"
	DetailRateLimited         = "Too Many Requests"
	DetailTimeout             = "Request Timeout"
	DetailCanceled            = "Client Closed Request"
)

// Error is a classified failure carrying the status and detail shown to the caller.
// Err holds the underlying cause for logs.
type Error struct {
	Kind   Kind
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HidesCause reports whether the underlying cause must stay out of the response body.
func (e *Error) HidesCause() bool {
	return e.Kind == KindInternal || e.Kind == KindUpstreamUnavailable
}

// PublicDetail is the detail safe to send to the caller. Kinds that hide their cause
// always render their fixed text, whatever Detail holds.
func (e *Error) PublicDetail() string {
	if !e.HidesCause() {
		return e.Detail
	}
	if e.Kind == KindUpstreamUnavailable {
		return DetailUpstreamUnavailable
	}
	return DetailInternal
}

// Validation is a structural problem with the request (422).
func Validation(detail string, err error) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusUnprocessableEntity, Detail: detail, Err: err}
}

// NotFound is an unrecognized city (400).
func NotFound(detail string, err error) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusBadRequest, Detail: detail, Err: err}
}

// UpstreamUnavailable is a provider or network failure (500).
func UpstreamUnavailable(err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Status: http.StatusInternalServerError, Detail: DetailUpstreamUnavailable, Err: err}
}

// RateLimited is an exceeded request quota (429).
func RateLimited() *Error {
	return &Error{Kind: KindRateLimited, Status: http.StatusTooManyRequests, Detail: DetailRateLimited}
}

// Timeout is an elapsed request deadline (504).
func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Status: http.StatusGatewayTimeout, Detail: DetailTimeout, Err: err}
}

// Internal is an unclassified failure (500).
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Detail: DetailInternal, Err: err}
}

// Canceled is a request abandoned by its caller (499). It is not a server failure.
func Canceled(err error) *Error {
	return &Error{Kind: KindCanceled, Status: StatusClientClosedRequest, Detail: DetailCanceled, Err: err}
}

// HTTP is a routing-level failure such as 404 or 405 with the standard status text.
func HTTP(status int) *Error {
	return &Error{Kind: KindHTTP, Status: status, Detail: http.StatusText(status)}
}

// As returns the classified error in err's chain. An unclassified context.Canceled
// becomes Canceled; anything else unclassified becomes Internal. Returns nil for a nil err.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return Canceled(err)
	}
	return Internal(err)
}

// KindOf returns the kind of err; unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if e := As(err); e != nil {
		return e.Kind
	}
	return KindInternal
}

// StatusOf returns the HTTP status err renders to; 200 for nil.
func StatusOf(err error) int {
	if e := As(err); e != nil {
		return e.Status
	}
	return http.StatusOK
}
