// Package repository holds the published leaderboard snapshot.
package repository

import (
	"context"
	"time"

	"github.com/okian/ucoin/internal/domain/leaderboard"
)

// Store serves ranked reads of the last published leaderboard.
type Store interface {
	// Replace atomically swaps in a new ranked snapshot.
	Replace(ctx context.Context, entries []leaderboard.Entry) error

	// Rank returns the entry of address.
	// Returns ErrNotFound if address is not on the leaderboard.
	Rank(ctx context.Context, address string) (leaderboard.Entry, error)

	// TopN returns the first n entries in rank order.
	TopN(ctx context.Context, n int) ([]leaderboard.Entry, error)

	// Count returns the number of ranked identities.
	Count(ctx context.Context) int

	// UpdatedAt is the time of the last Replace, zero before the first one.
	UpdatedAt() time.Time
}
