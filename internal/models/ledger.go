package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PremiumSpendRecord is one append-only premium ledger entry. Records are
// never mutated, only expired once older than the rolling window.
type PremiumSpendRecord struct {
	ID          string
	HedgeID     string
	Amount      decimal.Decimal
	Description string
	Timestamp   time.Time
}

// CapCheckResult is the outcome of checking a proposed spend against the
// rolling annual premium cap.
type CapCheckResult struct {
	IsWithinCap       bool
	CurrentSpend      decimal.Decimal
	ProposedSpend     decimal.Decimal
	ProjectedSpend    decimal.Decimal
	RemainingCapacity decimal.Decimal
	CapAmount         decimal.Decimal
}
