// Package leaderboard ranks registered identities by XP derived from their
// recent contribution activity. Per-identity telemetry failures degrade that
// identity to zero XP; only a ledger failure fails the whole build.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/ucoin/internal/domain/ledger"
	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/internal/domain/scoring"
	"github.com/okian/ucoin/internal/domain/telemetry"
	"github.com/okian/ucoin/pkg/logger"
	"github.com/okian/ucoin/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Fetch statuses.
const (
	StatusOK       = "ok"
	StatusFailed   = "failed"
	StatusTimeout  = "timeout"
	StatusNotFound = "not_found"
	StatusMissing  = "missing"
	StatusSkipped  = "skipped"
)

// Result is the outcome of scoring one identity.
type Result struct {
	Address string `json:"wallet"`
	XP      int64  `json:"xp"`
	Status  string `json:"status"`
}

// Entry is one ranked leaderboard row.
type Entry struct {
	Rank    int    `json:"rank"`
	Address string `json:"wallet"`
	Handle  string `json:"handle"`
	XP      int64  `json:"xp"`
	Status  string `json:"status"`
	Seq     uint64 `json:"-"`
}

// IdentityReader lists registered identities.
type IdentityReader interface {
	RegisteredIdentities(ctx context.Context) ([]ledger.Registration, error)
}

// Store receives complete leaderboard snapshots.
type Store interface {
	Replace(ctx context.Context, entries []Entry) error
}

// Aggregator builds leaderboards.
type Aggregator struct {
	ledger      IdentityReader
	source      telemetry.Source
	store       Store
	concurrency int
	timeout     time.Duration
	window      time.Duration
	hooks       []func(context.Context, []Entry)
	log         logger.Logger
	now         func() time.Time

	refreshMu sync.Mutex
}

// NewAggregator creates an Aggregator.
func NewAggregator(reader IdentityReader, source telemetry.Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		ledger:      reader,
		source:      source,
		concurrency: DefaultConcurrency,
		timeout:     DefaultFetchTimeout,
		window:      telemetry.DefaultWindow,
		log:         logger.Discard(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build reads every registered identity, scores the scorable ones and
// returns them ranked by XP descending, ties in registration order.
func (a *Aggregator) Build(ctx context.Context) ([]Entry, error) {
	regs, err := a.ledger.RegisteredIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	scorable := make([]ledger.Registration, 0, len(regs))
	for _, r := range regs {
		if r.Scorable() {
			scorable = append(scorable, r)
		}
	}
	if excluded := len(regs) - len(scorable); excluded > 0 {
		metrics.RecordLeaderboardExcluded(excluded)
		a.log.Debug(ctx, "identities without handle excluded", logger.Int("count", excluded))
	}

	ids := make([]model.Identity, len(scorable))
	for i, r := range scorable {
		ids[i] = r.Identity
	}
	results, err := a.fetchAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	return Merge(scorable, results)
}

// Score computes XP for an explicit list of identities, in input order.
// Entries lacking a valid address or a handle are reported skipped.
func (a *Aggregator) Score(ctx context.Context, identities []model.Identity) ([]Result, error) {
	out := make([]Result, len(identities))
	valid := make([]model.Identity, 0, len(identities))
	index := make([]int, 0, len(identities))
	for i, id := range identities {
		out[i] = Result{Address: id.Address, Status: StatusSkipped}
		if !id.Scorable() || !model.ValidAddress(id.Address) {
			continue
		}
		valid = append(valid, id)
		index = append(index, i)
	}

	results, err := a.fetchAll(ctx, valid)
	if err != nil {
		return nil, err
	}
	for j, i := range index {
		out[i] = results[j]
		out[i].Address = identities[i].Address
	}
	return out, nil
}

// Refresh builds the leaderboard and publishes it to the store. Concurrent
// calls are serialised so a slower, older build never overwrites a newer one.
func (a *Aggregator) Refresh(ctx context.Context) ([]Entry, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	start := time.Now()
	entries, err := a.Build(ctx)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordLeaderboardBuild("error", elapsed)
		a.log.Error(ctx, "leaderboard build failed", logger.Error(err))
		return nil, err
	}
	if a.store != nil {
		if err := a.store.Replace(ctx, entries); err != nil {
			metrics.RecordLeaderboardBuild("error", elapsed)
			return nil, fmt.Errorf("publish leaderboard: %w", err)
		}
	}
	metrics.RecordLeaderboardBuild("ok", elapsed)
	metrics.UpdateLeaderboardEntries(len(entries))
	a.log.Info(ctx, "leaderboard refreshed",
		logger.Int("entries", len(entries)),
		logger.Float64("duration_ms", elapsed))

	for _, hook := range a.hooks {
		hook(ctx, entries)
	}
	return entries, nil
}

// fetchAll scores ids concurrently, bounded by a.concurrency. Results are
// returned in input order. Only cancellation of ctx itself is an error.
func (a *Aggregator) fetchAll(ctx context.Context, ids []model.Identity) ([]Result, error) {
	results := make([]Result, len(ids))
	now := a.now()

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = a.fetch(ctx, id, now)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Aggregator) fetch(ctx context.Context, id model.Identity, now time.Time) Result {
	res := Result{Address: model.NormalizeAddress(id.Address)}

	fctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	n, err := a.source.Contributions(fctx, telemetry.TrailingWindow(id.Handle, now, a.window))
	switch {
	case err == nil:
		res.XP = scoring.XP(n)
		res.Status = StatusOK
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded):
		res.Status = StatusTimeout
	case errors.Is(err, telemetry.ErrNotFound):
		res.Status = StatusNotFound
	default:
		res.Status = StatusFailed
	}
	metrics.RecordTelemetryFetch(res.Status, float64(time.Since(start).Milliseconds()))

	if err != nil {
		a.log.Warn(ctx, "contribution fetch failed, scoring zero",
			logger.String("address", res.Address),
			logger.String("handle", id.Handle),
			logger.String("status", res.Status),
			logger.Error(err))
	}
	return res
}

// Merge joins fetch results onto registrations and ranks them. An identity
// without a result scores zero. A result for an unknown wallet, or a wallet
// that appears twice on either side, fails with ErrMalformedAggregate.
func Merge(regs []ledger.Registration, results []Result) ([]Entry, error) {
	entries := make([]Entry, 0, len(regs))
	pos := make(map[string]int, len(regs))
	for _, r := range regs {
		addr := model.NormalizeAddress(r.Address)
		if _, dup := pos[addr]; dup {
			return nil, fmt.Errorf("%w: duplicate identity %s", ErrMalformedAggregate, addr)
		}
		pos[addr] = len(entries)
		entries = append(entries, Entry{
			Address: addr,
			Handle:  r.Handle,
			Status:  StatusMissing,
			Seq:     r.Seq,
		})
	}

	applied := make(map[string]struct{}, len(results))
	for _, res := range results {
		addr := model.NormalizeAddress(res.Address)
		i, ok := pos[addr]
		if !ok {
			return nil, fmt.Errorf("%w: result for unknown wallet %s", ErrMalformedAggregate, addr)
		}
		if _, dup := applied[addr]; dup {
			return nil, fmt.Errorf("%w: duplicate result for %s", ErrMalformedAggregate, addr)
		}
		applied[addr] = struct{}{}
		entries[i].XP = res.XP
		entries[i].Status = res.Status
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].XP != entries[j].XP {
			return entries[i].XP > entries[j].XP
		}
		return entries[i].Seq < entries[j].Seq
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}
