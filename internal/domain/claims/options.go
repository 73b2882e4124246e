package claims

import (
	"github.com/okian/ucoin/internal/domain/dedupe"
	"github.com/okian/ucoin/pkg/logger"
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithCache replaces the default in-memory cache.
func WithCache(c Cache) Option {
	return func(t *Tracker) {
		if c != nil {
			t.cache = c
		}
	}
}

// WithGuard replaces the default tx-ref guard.
func WithGuard(g dedupe.Guard) Option {
	return func(t *Tracker) {
		if g != nil {
			t.guard = g
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}
