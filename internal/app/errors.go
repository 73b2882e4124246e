package service

import "errors"

// Service errors.
var (
	ErrMissingLedger = errors.New("service: ledger is required")
	ErrNotStarted    = errors.New("service: not started")
)
