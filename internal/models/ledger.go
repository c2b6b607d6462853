package models

import (
	"time"
)

// LedgerEntry records a single balance-affecting event. Amount is signed:
// negative for fares, positive for topups and refunds. BalanceAfter is the
// card balance immediately after the entry was applied, so the full history
// can be audited without replaying it.
//
// ExternalReference is the payment gateway's reference for topups and is
// NULL for every other kind. A partial unique index on the column is the
// hard idempotency guard against double-crediting a replayed webhook.
type LedgerEntry struct {
	ID                int64     `json:"id" db:"id"`
	TransactionID     string    `json:"transaction_id" db:"transaction_id"`
	CardID            string    `json:"card_id" db:"card_id"`
	Amount            int64     `json:"amount" db:"amount"` // in cents
	Kind              string    `json:"kind" db:"kind"`
	BalanceAfter      int64     `json:"balance_after" db:"balance_after"`
	ExternalReference *string   `json:"external_reference,omitempty" db:"external_reference"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Ledger entry kinds
const (
	KindTopup  = "topup"
	KindFare   = "fare"
	KindRefund = "refund"
)
