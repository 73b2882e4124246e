package service

import (
	"time"

	eventqueue "github.com/okian/ucoin/internal/adapters/mq/queue"
	"github.com/okian/ucoin/internal/domain/claims"
	"github.com/okian/ucoin/internal/domain/ledger"
	"github.com/okian/ucoin/internal/domain/telemetry"
	"github.com/okian/ucoin/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLedger sets the ledger collaborator. Required.
func WithLedger(l ledger.Ledger) Option {
	return func(s *Service) {
		if l != nil {
			s.ledger = l
		}
	}
}

// WithEventQueue sets the queue the ledger publishes to. Without it the
// service creates its own queue, which only receives events that are
// published to Events().
func WithEventQueue(q *eventqueue.InMemoryQueue) Option {
	return func(s *Service) {
		if q != nil {
			s.events = q
		}
	}
}

// WithTelemetry sets the contribution source. Without it every fetch fails
// transiently and all identities score zero.
func WithTelemetry(src telemetry.Source) Option {
	return func(s *Service) {
		if src != nil {
			s.telemetry = src
		}
	}
}

// WithClaimsCache replaces the in-memory claimed-total cache.
func WithClaimsCache(c claims.Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithSigner sets the address approvals are issued as.
func WithSigner(address string) Option {
	return func(s *Service) {
		s.signer = address
	}
}

// WithWorkerCount sets the number of event workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of a service-owned event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many tx refs the claim guard remembers.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithConcurrency bounds concurrent telemetry fetches.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithFetchTimeout sets the per-identity telemetry timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithWindow sets the trailing contribution window.
func WithWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithMaxLimit caps leaderboard page sizes.
func WithMaxLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInitialRefresh controls whether Start schedules a leaderboard refresh.
// Enabled by default.
func WithInitialRefresh(enabled bool) Option {
	return func(s *Service) {
		s.initialRefresh = enabled
	}
}
