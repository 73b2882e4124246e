// Package ledger defines the ledger collaborator: the single source of truth
// for registered identities, pending withdrawal slots and completed claims.
package ledger

import (
	"context"

	"github.com/okian/ucoin/internal/domain/model"
	"github.com/shopspring/decimal"
)

// Registration is an identity together with its ledger-side state.
type Registration struct {
	model.Identity
	// Seq is the registration order, used to break leaderboard ties.
	Seq uint64 `json:"seq"`
	// XP is the last score written through UpdateScore.
	XP int64 `json:"xp"`
}

// Ledger is the ledger collaborator. Every mutating call is atomic: it either
// commits in full or returns an error with no observable effect.
type Ledger interface {
	// RegisteredIdentities returns all identities in registration order.
	RegisteredIdentities(ctx context.Context) ([]Registration, error)

	// RegisterIdentity adds or relinks an identity. Relinking keeps the
	// original registration order.
	RegisterIdentity(ctx context.Context, id model.Identity) (Registration, error)

	// Identity returns a single registration or ErrNotRegistered.
	Identity(ctx context.Context, address string) (Registration, error)

	// UpdateScore stores xp for address and emits a score_changed event.
	UpdateScore(ctx context.Context, address string, xp int64) error

	// RequestStatus reads the pending slot of address.
	RequestStatus(ctx context.Context, address string) (model.RequestStatus, error)

	// RequestWithdrawal opens the pending slot. It fails with
	// ErrRequestAlreadyPending when the slot is occupied.
	RequestWithdrawal(ctx context.Context, address string, amount decimal.Decimal) (model.WithdrawalRequest, error)

	// ApproveWithdrawal is restricted to the approver. It transfers the
	// pending amount, closes the slot and appends a ClaimEntry.
	ApproveWithdrawal(ctx context.Context, caller, address string) (model.ClaimEntry, error)

	// Approver returns the privileged address.
	Approver(ctx context.Context) (string, error)

	// Claims returns the completed claims of address.
	Claims(ctx context.Context, address string) ([]model.ClaimEntry, error)

	// PendingRequests returns every open slot.
	PendingRequests(ctx context.Context) ([]model.WithdrawalRequest, error)

	// Balance returns the transferred token balance of address.
	Balance(ctx context.Context, address string) (decimal.Decimal, error)

	Close() error
}

// Publisher receives ledger events after the transaction that produced them
// has committed.
type Publisher interface {
	Publish(ctx context.Context, ev model.LedgerEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev model.LedgerEvent) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, ev model.LedgerEvent) error { return f(ctx, ev) }

// NopPublisher drops every event.
var NopPublisher Publisher = PublisherFunc(func(context.Context, model.LedgerEvent) error { return nil })
