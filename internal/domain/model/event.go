package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names a ledger notification.
type EventKind string

// Ledger notification kinds.
const (
	EventRequestCreated   EventKind = "request_created"
	EventRequestCompleted EventKind = "request_completed"
	EventScoreChanged     EventKind = "score_changed"
)

// LedgerEvent is emitted by the ledger after a committed state transition.
type LedgerEvent struct {
	ID      string          // unique id for idempotency
	Kind    EventKind       // what happened
	Address string          // identity the event concerns
	Amount  decimal.Decimal // request or completion amount, zero for score changes
	TxRef   string          // completion reference, empty otherwise
	At      time.Time       // commit time
}
