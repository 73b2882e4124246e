package session

import (
	"time"

	"github.com/okian/ucoin/pkg/logger"
)

// Default poll intervals.
const (
	DefaultStatusInterval  = 15 * time.Second
	DefaultBalanceInterval = 30 * time.Second
)

// Option configures a Handler.
type Option func(*Handler)

// WithStatusInterval sets how often the request slot is polled.
func WithStatusInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.statusEvery = d
		}
	}
}

// WithBalanceInterval sets how often the balance is polled.
func WithBalanceInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.balanceEvery = d
		}
	}
}

// WithAllowedOrigins restricts websocket upgrades to the given origins.
// "*" accepts any origin. Same-origin upgrades always pass.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) {
		for _, o := range origins {
			if o != "" {
				h.origins[o] = struct{}{}
			}
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}
