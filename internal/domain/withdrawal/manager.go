// Package withdrawal implements the single-slot withdrawal request state
// machine: None -> Pending -> Completed, one live request per identity.
package withdrawal

import (
	"context"
	"errors"
	"time"

	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/pkg/logger"
	"github.com/okian/ucoin/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Ledger is the part of the ledger the manager drives.
type Ledger interface {
	RequestStatus(ctx context.Context, address string) (model.RequestStatus, error)
	RequestWithdrawal(ctx context.Context, address string, amount decimal.Decimal) (model.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, caller, address string) (model.ClaimEntry, error)
	Approver(ctx context.Context) (string, error)
	PendingRequests(ctx context.Context) ([]model.WithdrawalRequest, error)
}

// Entitlements is the claim tracker as seen by the manager.
type Entitlements interface {
	Remaining(ctx context.Context, address string) (decimal.Decimal, error)
	RecordClaim(ctx context.Context, entry model.ClaimEntry) (bool, error)
}

// Manager validates and forwards withdrawal requests and approvals.
type Manager struct {
	ledger  Ledger
	tracker Entitlements
	log     logger.Logger
	now     func() time.Time
}

// NewManager creates a Manager.
func NewManager(l Ledger, tracker Entitlements, opts ...Option) *Manager {
	m := &Manager{
		ledger:  l,
		tracker: tracker,
		log:     logger.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RequestWithdrawal opens the pending slot of address for amount.
func (m *Manager) RequestWithdrawal(ctx context.Context, address string, amount decimal.Decimal) (model.WithdrawalRequest, error) {
	req, err := m.requestWithdrawal(ctx, address, amount)
	outcome := "ok"
	if err != nil {
		outcome = Code(err)
	}
	metrics.RecordWithdrawalRequest(outcome)
	return req, err
}

func (m *Manager) requestWithdrawal(ctx context.Context, address string, amount decimal.Decimal) (model.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return model.WithdrawalRequest{}, ErrInvalidAmount
	}
	if !model.ValidAddress(address) {
		return model.WithdrawalRequest{}, ErrInvalidAddress
	}
	address = model.NormalizeAddress(address)

	// Best-effort early answer; the ledger enforces the slot atomically below.
	status, err := m.ledger.RequestStatus(ctx, address)
	if err != nil {
		return model.WithdrawalRequest{}, err
	}
	if status.IsPending {
		return model.WithdrawalRequest{}, errPending(address)
	}

	remaining, err := m.tracker.Remaining(ctx, address)
	if err != nil {
		return model.WithdrawalRequest{}, err
	}
	if amount.GreaterThan(remaining) {
		m.log.Info(ctx, "withdrawal above remaining entitlement",
			logger.String("address", address),
			logger.String("amount", amount.String()),
			logger.String("remaining", remaining.String()))
		return model.WithdrawalRequest{}, ErrLimitExceeded
	}

	req, err := m.ledger.RequestWithdrawal(ctx, address, amount)
	if err != nil {
		return model.WithdrawalRequest{}, err
	}
	m.log.Info(ctx, "withdrawal requested",
		logger.String("address", address),
		logger.String("amount", amount.String()))
	return req, nil
}

// ApproveWithdrawal completes the pending request of address. Only the
// ledger approver may call it. The resulting claim is recorded exactly once.
func (m *Manager) ApproveWithdrawal(ctx context.Context, caller, address string) (model.ClaimEntry, error) {
	entry, err := m.approveWithdrawal(ctx, caller, address)
	outcome := "ok"
	if err != nil {
		outcome = Code(err)
	}
	metrics.RecordWithdrawalApproval(outcome)
	return entry, err
}

func (m *Manager) approveWithdrawal(ctx context.Context, caller, address string) (model.ClaimEntry, error) {
	if !model.ValidAddress(address) {
		return model.ClaimEntry{}, ErrInvalidAddress
	}
	address = model.NormalizeAddress(address)
	caller = model.NormalizeAddress(caller)

	approver, err := m.ledger.Approver(ctx)
	if err != nil {
		return model.ClaimEntry{}, err
	}
	if caller == "" || caller != model.NormalizeAddress(approver) {
		m.log.Warn(ctx, "approval rejected: caller is not the approver",
			logger.String("caller", caller),
			logger.String("address", address))
		return model.ClaimEntry{}, errUnauthorized(caller)
	}

	entry, err := m.ledger.ApproveWithdrawal(ctx, caller, address)
	if err != nil {
		return model.ClaimEntry{}, err
	}

	// The ledger has committed; a cache failure only delays the total until
	// the next reconcile.
	if _, err := m.tracker.RecordClaim(ctx, entry); err != nil {
		m.log.Warn(ctx, "claim not applied to cache",
			logger.String("tx_ref", entry.TxRef),
			logger.Error(err))
	}
	m.log.Info(ctx, "withdrawal approved",
		logger.String("address", address),
		logger.String("tx_ref", entry.TxRef),
		logger.String("amount", entry.Amount.String()))
	return entry, nil
}

// Status reads the request slot of address directly from the ledger.
func (m *Manager) Status(ctx context.Context, address string) (model.RequestStatus, error) {
	if !model.ValidAddress(address) {
		return model.RequestStatus{}, ErrInvalidAddress
	}
	return m.ledger.RequestStatus(ctx, model.NormalizeAddress(address))
}

// PendingRequests lists every open request.
func (m *Manager) PendingRequests(ctx context.Context) ([]model.WithdrawalRequest, error) {
	reqs, err := m.ledger.PendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	metrics.UpdatePendingRequests(len(reqs))
	return reqs, nil
}

// IsClientError reports whether err was caused by the caller's input or by
// state the caller must resolve, as opposed to an outage.
func IsClientError(err error) bool {
	switch Code(err) {
	case CodeLedgerUnavailable, CodeEntitlementUnavailable, CodeInternal:
		return false
	default:
		return !errors.Is(err, context.Canceled)
	}
}
