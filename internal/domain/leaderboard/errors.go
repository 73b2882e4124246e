package leaderboard

import "errors"

// Sentinel errors for leaderboard aggregation.
var (
	ErrLedgerUnavailable  = errors.New("leaderboard: ledger unavailable")
	ErrMalformedAggregate = errors.New("leaderboard: malformed aggregate")
)
