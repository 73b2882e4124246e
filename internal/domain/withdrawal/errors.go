package withdrawal

import (
	"errors"
	"fmt"

	"github.com/okian/ucoin/internal/domain/claims"
	"github.com/okian/ucoin/internal/domain/ledger"
)

// Sentinel errors raised before the ledger is contacted.
var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidAddress = errors.New("malformed address")
	ErrLimitExceeded  = errors.New("amount exceeds remaining entitlement")
)

// Stable error codes exposed to callers.
const (
	CodeInvalidAmount          = "invalid_amount"
	CodeInvalidAddress         = "invalid_address"
	CodeRequestAlreadyPending  = "request_already_pending"
	CodeLimitExceeded          = "limit_exceeded"
	CodeUnauthorized           = "unauthorized"
	CodeNoPendingRequest       = "no_pending_request"
	CodeLedgerUnavailable      = "ledger_unavailable"
	CodeEntitlementUnavailable = "entitlement_unavailable"
	CodeInternal               = "internal"
)

// Code maps err to its stable code. Unknown errors map to CodeInternal.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ledger.ErrInvalidAddress):
		return CodeInvalidAddress
	case errors.Is(err, ledger.ErrRequestAlreadyPending):
		return CodeRequestAlreadyPending
	case errors.Is(err, ErrLimitExceeded):
		return CodeLimitExceeded
	case errors.Is(err, ledger.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ledger.ErrNoPendingRequest):
		return CodeNoPendingRequest
	case errors.Is(err, ledger.ErrUnavailable):
		return CodeLedgerUnavailable
	case errors.Is(err, claims.ErrEntitlementUnavailable):
		return CodeEntitlementUnavailable
	default:
		return CodeInternal
	}
}

func errPending(address string) error {
	return fmt.Errorf("%w: %s", ledger.ErrRequestAlreadyPending, address)
}

func errUnauthorized(caller string) error {
	return fmt.Errorf("%w: %s", ledger.ErrUnauthorized, caller)
}
