package service

import (
	"context"
	"errors"
	"fmt"

	claimscache "github.com/okian/ucoin/internal/adapters/cache/redis"
	"github.com/okian/ucoin/internal/adapters/ledger/boltledger"
	eventqueue "github.com/okian/ucoin/internal/adapters/mq/queue"
	"github.com/okian/ucoin/internal/adapters/telemetry/github"
	"github.com/okian/ucoin/internal/config"
	"github.com/okian/ucoin/pkg/logger"
)

// Runtime is a service together with the resources it was built on.
type Runtime struct {
	Service *Service
	Ledger  *boltledger.Ledger
	closers []func() error
}

// Build opens the ledger, dials the optional Redis cache, creates the
// telemetry client and returns an unstarted service wired to them. extra
// options are applied last.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger, extra ...Option) (*Runtime, error) {
	if log == nil {
		log = logger.Discard()
	}
	rt := &Runtime{}

	q := eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(cfg.EventQueueSize))
	lg, err := boltledger.Open(cfg.LedgerPath,
		boltledger.WithApprover(cfg.ApproverAddress),
		boltledger.WithPublisher(q),
		boltledger.WithLogger(log.Named("ledger")))
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", cfg.LedgerPath, err)
	}
	rt.Ledger = lg
	rt.closers = append(rt.closers, lg.Close)

	opts := []Option{
		WithLedger(lg),
		WithEventQueue(q),
		WithSigner(cfg.SignerAddress),
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.EventQueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithConcurrency(cfg.TelemetryConcurrency),
		WithFetchTimeout(cfg.TelemetryTimeout()),
		WithWindow(cfg.TelemetryWindow()),
		WithMaxLimit(cfg.MaxLeaderboardLimit),
		WithLogger(log.Named("service")),
	}

	if cfg.TelemetryToken != "" {
		src, err := github.New(cfg.TelemetryToken,
			github.WithEndpoint(cfg.TelemetryEndpoint),
			github.WithTimeout(cfg.TelemetryTimeout()),
			github.WithRateLimit(cfg.TelemetryRPS, cfg.TelemetryBurst),
			github.WithLogger(log.Named("telemetry")))
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("telemetry client: %w", err)
		}
		opts = append(opts, WithTelemetry(src))
	} else {
		log.Warn(ctx, "no telemetry token configured; every identity scores zero")
	}

	if cfg.RedisAddr != "" {
		cache, err := claimscache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			claimscache.WithTTL(cfg.ClaimsCacheTTL()))
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("claims cache: %w", err)
		}
		rt.closers = append(rt.closers, cache.Close)
		opts = append(opts, WithClaimsCache(cache))
	}

	rt.Service = New(append(opts, extra...)...)
	return rt, nil
}

// Close releases the resources in reverse order of acquisition. The service
// must be stopped first.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
