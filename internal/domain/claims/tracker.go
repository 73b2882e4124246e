// Package claims tracks how much of its entitlement each identity has
// already withdrawn, so that cumulative claims never exceed the ceiling of the
// identity's level.
package claims

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/ucoin/internal/domain/dedupe"
	"github.com/okian/ucoin/internal/domain/ledger"
	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/internal/domain/scoring"
	"github.com/okian/ucoin/pkg/logger"
	"github.com/okian/ucoin/pkg/metrics"
	"github.com/shopspring/decimal"
)

// ClaimReader is the part of the ledger the tracker reads.
type ClaimReader interface {
	Claims(ctx context.Context, address string) ([]model.ClaimEntry, error)
}

// LevelSource resolves the current level of an identity.
type LevelSource interface {
	Level(ctx context.Context, address string) (int, error)
}

// LevelFunc adapts a function to LevelSource.
type LevelFunc func(ctx context.Context, address string) (int, error)

// Level calls f.
func (f LevelFunc) Level(ctx context.Context, address string) (int, error) { return f(ctx, address) }

// Entitlement is the reconciled claim position of an identity.
type Entitlement struct {
	Address   string          `json:"address"`
	Level     int             `json:"level"`
	Ceiling   decimal.Decimal `json:"ceiling"`
	Claimed   decimal.Decimal `json:"claimed"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Tracker maintains cumulative claimed amounts.
type Tracker struct {
	ledger ClaimReader
	levels LevelSource
	cache  Cache
	guard  dedupe.Guard
	log    logger.Logger
}

// NewTracker creates a Tracker backed by the given ledger reader and level source.
func NewTracker(reader ClaimReader, levels LevelSource, opts ...Option) *Tracker {
	t := &Tracker{
		ledger: reader,
		levels: levels,
		cache:  NewMemoryCache(),
		guard:  dedupe.NewGuard(),
		log:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Reconcile recomputes the claimed total of address from the ledger and
// overwrites the cache with it. If the ledger cannot be read the cache is left
// untouched and the error wraps ledger.ErrUnavailable.
func (t *Tracker) Reconcile(ctx context.Context, address string) (decimal.Decimal, error) {
	address = model.NormalizeAddress(address)

	entries, err := t.ledger.Claims(ctx, address)
	if err != nil {
		metrics.RecordClaimReconcile("ledger_unavailable")
		if !errors.Is(err, ledger.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
		}
		return decimal.Zero, fmt.Errorf("reconcile %s: %w", address, err)
	}
	total := model.SumClaims(entries)

	cached, ok, cerr := t.cache.Get(ctx, address)
	if cerr != nil {
		t.log.Warn(ctx, "claim cache read failed", logger.String("address", address), logger.Error(cerr))
	} else if ok && !cached.Equal(total) {
		metrics.RecordClaimDivergence()
		t.log.Warn(ctx, "cached claim total diverged from ledger",
			logger.String("address", address),
			logger.String("cached", cached.String()),
			logger.String("ledger", total.String()))
	}

	if err := t.cache.Set(ctx, address, total); err != nil {
		t.log.Warn(ctx, "claim cache write failed", logger.String("address", address), logger.Error(err))
	}
	metrics.RecordClaimReconcile("ok")
	return total, nil
}

// Entitlement reconciles address and returns its full claim position.
func (t *Tracker) Entitlement(ctx context.Context, address string) (Entitlement, error) {
	address = model.NormalizeAddress(address)

	claimed, err := t.Reconcile(ctx, address)
	if err != nil {
		return Entitlement{}, err
	}
	level, err := t.levels.Level(ctx, address)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			return Entitlement{}, err
		}
		return Entitlement{}, fmt.Errorf("%w: %w", ErrEntitlementUnavailable, err)
	}
	return position(address, level, claimed), nil
}

// EntitlementAt is Entitlement for a level the caller has already resolved.
// It still reconciles against the ledger.
func (t *Tracker) EntitlementAt(ctx context.Context, address string, level int) (Entitlement, error) {
	address = model.NormalizeAddress(address)
	claimed, err := t.Reconcile(ctx, address)
	if err != nil {
		return Entitlement{}, err
	}
	return position(address, level, claimed), nil
}

func position(address string, level int, claimed decimal.Decimal) Entitlement {
	ceiling := scoring.EarnableCeiling(level)
	remaining := ceiling.Sub(claimed)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return Entitlement{
		Address:   address,
		Level:     level,
		Ceiling:   ceiling,
		Claimed:   claimed,
		Remaining: remaining,
	}
}

// Remaining is max(0, ceiling(level) - claimed). It always reconciles first.
func (t *Tracker) Remaining(ctx context.Context, address string) (decimal.Decimal, error) {
	e, err := t.Entitlement(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return e.Remaining, nil
}

// RecordClaim applies a confirmed completion to the cached total. It reports
// false when entry.TxRef has already been applied.
func (t *Tracker) RecordClaim(ctx context.Context, entry model.ClaimEntry) (bool, error) {
	if entry.TxRef == "" || entry.Address == "" || !entry.Amount.IsPositive() {
		return false, ErrInvalidClaim
	}
	address := model.NormalizeAddress(entry.Address)

	if t.guard.SeenAndRecord(ctx, entry.TxRef) {
		metrics.RecordClaimReplayed()
		t.log.Debug(ctx, "claim already applied", logger.String("tx_ref", entry.TxRef))
		return false, nil
	}

	total, cached, err := t.cache.Add(ctx, address, entry.Amount)
	if err != nil {
		t.guard.Unrecord(ctx, entry.TxRef)
		// The add may have landed; drop the total so the next read rebuilds it.
		if derr := t.Invalidate(ctx, address); derr != nil {
			t.log.Warn(ctx, "claim cache invalidate failed", logger.String("address", address), logger.Error(derr))
		}
		return false, fmt.Errorf("record claim %s: %w", entry.TxRef, err)
	}
	metrics.RecordClaimRecorded()

	fields := []logger.Field{
		logger.String("address", address),
		logger.String("tx_ref", entry.TxRef),
		logger.String("amount", entry.Amount.String()),
	}
	if cached {
		fields = append(fields, logger.String("claimed", total.String()))
	}
	t.log.Info(ctx, "claim recorded", fields...)
	return true, nil
}

// Invalidate drops the cached total of address.
func (t *Tracker) Invalidate(ctx context.Context, address string) error {
	return t.cache.Delete(ctx, model.NormalizeAddress(address))
}

// InvalidateAll drops every cached total, e.g. after reconnecting to the ledger.
func (t *Tracker) InvalidateAll(ctx context.Context) error {
	return t.cache.Flush(ctx)
}

// Cached returns the cached total without consulting the ledger. Decisions
// never read it; it is reported next to the reconciled total.
func (t *Tracker) Cached(ctx context.Context, address string) (decimal.Decimal, bool, error) {
	return t.cache.Get(ctx, model.NormalizeAddress(address))
}
