package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalRequest is the single live request slot of an identity.
type WithdrawalRequest struct {
	Address     string          `json:"user"`
	Amount      decimal.Decimal `json:"amount"`
	IsPending   bool            `json:"isPending"`
	RequestedAt time.Time       `json:"requestTimestamp"`
	TxRef       string          `json:"txRef,omitempty"`
}

// RequestStatus is the ledger view of an identity's request slot.
type RequestStatus struct {
	Address   string          `json:"address"`
	IsPending bool            `json:"isPending"`
	Amount    decimal.Decimal `json:"amount"`
}

// ClaimEntry is an append-only record of a completed withdrawal. The sum of
// an identity's entries is the authoritative claimed amount.
type ClaimEntry struct {
	TxRef       string          `json:"txRef"`
	Address     string          `json:"address"`
	Amount      decimal.Decimal `json:"amount"`
	CompletedAt time.Time       `json:"completedAt"`
}

// SumClaims totals the amounts of entries.
func SumClaims(entries []ClaimEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}
