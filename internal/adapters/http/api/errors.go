package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/neodrop/internal/domain/failure"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrAdminDisabled = errors.New("admin routes disabled")
	ErrRateLimited   = errors.New("rate limited")
)

// OpError ties an error to the handler operation that produced it.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Kind == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap exposes both the kind and the cause.
func (e *OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind returns an error of kind for op.
func NewKind(op string, kind error) error { return &OpError{Op: op, Kind: kind} }

// Wrap annotates err with op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// WrapKind annotates err with op and kind.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return NewKind(op, kind)
	}
	return &OpError{Op: op, Kind: kind, Err: err}
}

// statusFor maps an error onto an HTTP status and a machine-readable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrAdminDisabled):
		return http.StatusForbidden, "admin_disabled"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, failure.ErrStopped):
		return http.StatusServiceUnavailable, failure.Kind(err)
	case errors.Is(err, failure.ErrGateTimeout):
		return http.StatusServiceUnavailable, failure.Kind(err)
	}

	code := failure.Kind(err)
	switch failure.Classify(err) {
	case failure.ClassClient:
		return http.StatusBadRequest, code
	case failure.ClassNotFound:
		return http.StatusNotFound, code
	case failure.ClassConflict:
		return http.StatusConflict, code
	case failure.ClassUpstream:
		return http.StatusBadGateway, code
	case failure.ClassCanceled:
		return http.StatusServiceUnavailable, code
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
