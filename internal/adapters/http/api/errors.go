package api

import (
	"errors"
	"net/http"

	"github.com/okian/ucoin/internal/adapters/repository"
	"github.com/okian/ucoin/internal/domain/leaderboard"
	"github.com/okian/ucoin/internal/domain/ledger"
	"github.com/okian/ucoin/internal/domain/telemetry"
	"github.com/okian/ucoin/internal/domain/withdrawal"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
)

// opError carries the handler operation that failed.
type opError struct {
	op   string
	kind error
	err  error
}

func (e *opError) Error() string {
	switch {
	case e.err == nil:
		return e.op + ": " + e.kind.Error()
	case e.kind == nil:
		return e.op + ": " + e.err.Error()
	default:
		return e.op + ": " + e.kind.Error() + ": " + e.err.Error()
	}
}

func (e *opError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.kind != nil {
		out = append(out, e.kind)
	}
	if e.err != nil {
		out = append(out, e.err)
	}
	return out
}

// NewKind returns an error of kind raised by op.
func NewKind(op string, kind error) error { return &opError{op: op, kind: kind} }

// Wrap annotates err with op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{op: op, err: err}
}

// WrapKind annotates err with op and classifies it as kind.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return NewKind(op, kind)
	}
	return &opError{op: op, kind: kind, err: err}
}

// classify maps an error to its HTTP status and stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound), errors.Is(err, repository.ErrNotFound),
		errors.Is(err, ledger.ErrNotRegistered):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, leaderboard.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable, withdrawal.CodeLedgerUnavailable
	}

	code := withdrawal.Code(err)
	switch code {
	case withdrawal.CodeInvalidAmount, withdrawal.CodeInvalidAddress, withdrawal.CodeLimitExceeded:
		return http.StatusBadRequest, code
	case withdrawal.CodeUnauthorized:
		return http.StatusForbidden, code
	case withdrawal.CodeRequestAlreadyPending, withdrawal.CodeNoPendingRequest:
		return http.StatusConflict, code
	case withdrawal.CodeLedgerUnavailable, withdrawal.CodeEntitlementUnavailable:
		return http.StatusServiceUnavailable, code
	}

	if errors.Is(err, telemetry.ErrTransient) || errors.Is(err, telemetry.ErrMalformedResponse) {
		return http.StatusServiceUnavailable, "telemetry_unavailable"
	}
	if errors.Is(err, telemetry.ErrNotFound) {
		return http.StatusNotFound, "not_found"
	}
	return http.StatusInternalServerError, withdrawal.CodeInternal
}
