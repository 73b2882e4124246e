package repository

import "errors"

// Sentinel kinds for leaderboard reads.
var (
	ErrNotFound     = errors.New("identity not on leaderboard")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
)
