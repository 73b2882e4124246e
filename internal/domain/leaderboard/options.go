package leaderboard

import (
	"context"
	"time"

	"github.com/okian/ucoin/pkg/logger"
)

// Defaults for telemetry fan-out.
const (
	DefaultConcurrency  = 8
	DefaultFetchTimeout = 15 * time.Second
)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithConcurrency bounds the number of in-flight telemetry fetches.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithFetchTimeout sets the per-identity fetch timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithWindow sets the trailing contribution window.
func WithWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithStore publishes refreshed snapshots to s.
func WithStore(s Store) Option {
	return func(a *Aggregator) {
		if s != nil {
			a.store = s
		}
	}
}

// WithRefreshHook registers fn to run after every successful Refresh.
func WithRefreshHook(fn func(ctx context.Context, entries []Entry)) Option {
	return func(a *Aggregator) {
		if fn != nil {
			a.hooks = append(a.hooks, fn)
		}
	}
}

// WithLogger sets the aggregator logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithClock overrides the time source used for the window end.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}
