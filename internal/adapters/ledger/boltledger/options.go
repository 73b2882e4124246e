package boltledger

import (
	"time"

	"github.com/okian/ucoin/internal/domain/ledger"
	"github.com/okian/ucoin/pkg/logger"
)

// Option configures a Ledger.
type Option func(*Ledger)

// WithApprover sets the privileged approver address, persisted on open.
func WithApprover(address string) Option {
	return func(l *Ledger) {
		l.approver = address
	}
}

// WithPublisher sets the destination of ledger events.
func WithPublisher(p ledger.Publisher) Option {
	return func(l *Ledger) {
		if p != nil {
			l.pub = p
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.log = lg
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithOpenTimeout bounds how long Open waits for the file lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.openTimeout = d
		}
	}
}
