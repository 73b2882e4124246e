package ledger

import "errors"

// Sentinel errors returned by Ledger implementations.
var (
	ErrUnavailable           = errors.New("ledger unavailable")
	ErrRequestAlreadyPending = errors.New("withdrawal request already pending")
	ErrNoPendingRequest      = errors.New("no pending withdrawal request")
	ErrUnauthorized          = errors.New("caller is not the approver")
	ErrNotRegistered         = errors.New("identity not registered")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidAddress        = errors.New("invalid address")
)
