// Package premium maintains the rolling-window premium spend ledger and
// enforces the annual premium cap.
package premium

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
)

// LedgerStore is the persistence boundary for spend records. The ledger
// is append-only and expiry-only: no record is mutated in place.
type LedgerStore interface {
	AppendSpend(ctx context.Context, record *models.PremiumSpendRecord) error
	SumSpendSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
	ListSpendSince(ctx context.Context, since time.Time) ([]models.PremiumSpendRecord, error)
	DeleteSpendBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tracker tracks premium spend over a trailing window against the annual
// cap. Independent of sizing; injected wherever spend decisions are made.
type Tracker struct {
	store        LedgerStore
	windowMonths int
	annualCapPct decimal.Decimal
	logger       zerolog.Logger
}

// NewTracker creates a premium tracker over the given ledger store.
func NewTracker(store LedgerStore, windowMonths int, annualCapPct float64, logger zerolog.Logger) *Tracker {
	if windowMonths <= 0 {
		windowMonths = 12
	}
	return &Tracker{
		store:        store,
		windowMonths: windowMonths,
		annualCapPct: decimal.NewFromFloat(annualCapPct),
		logger:       logger,
	}
}

// WindowStart returns the start of the rolling window as of the given time.
func (t *Tracker) WindowStart(asOf time.Time) time.Time {
	return asOf.AddDate(0, -t.windowMonths, 0)
}

// AddSpend appends a spend record to the ledger.
func (t *Tracker) AddSpend(ctx context.Context, amount decimal.Decimal, hedgeID, description string, timestamp time.Time) (*models.PremiumSpendRecord, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("spend amount must be positive, got %s", amount)
	}

	record := &models.PremiumSpendRecord{
		ID:          ulid.Make().String(),
		HedgeID:     hedgeID,
		Amount:      amount,
		Description: description,
		Timestamp:   timestamp,
	}
	if err := t.store.AppendSpend(ctx, record); err != nil {
		return nil, fmt.Errorf("appending spend record: %w", err)
	}

	t.logger.Info().
		Str("record_id", record.ID).
		Str("hedge_id", hedgeID).
		Str("amount", amount.StringFixed(2)).
		Msg("Premium spend recorded")

	return record, nil
}

// CheckSpendWithinCap checks a proposed spend against the rolling annual
// cap. Expired records are purged first so the current spend reflects the
// window exactly. Fail-closed: a zero or unavailable NAV yields a zero cap
// and every proposed spend is rejected.
func (t *Tracker) CheckSpendWithinCap(ctx context.Context, proposed, nav decimal.Decimal) (*models.CapCheckResult, error) {
	now := time.Now().UTC()
	if _, err := t.ExpireOldRecords(ctx, now); err != nil {
		return nil, err
	}

	capAmount := decimal.Zero
	if nav.GreaterThan(decimal.Zero) {
		capAmount = nav.Mul(t.annualCapPct).Div(decimal.NewFromInt(100))
	}

	current, err := t.store.SumSpendSince(ctx, t.WindowStart(now))
	if err != nil {
		return nil, fmt.Errorf("summing ledger: %w", err)
	}

	projected := current.Add(proposed)
	return &models.CapCheckResult{
		IsWithinCap:       projected.LessThanOrEqual(capAmount),
		CurrentSpend:      current,
		ProposedSpend:     proposed,
		ProjectedSpend:    projected,
		RemainingCapacity: capAmount.Sub(current),
		CapAmount:         capAmount,
	}, nil
}

// CurrentSpend returns the spend total inside the rolling window.
func (t *Tracker) CurrentSpend(ctx context.Context, asOf time.Time) (decimal.Decimal, error) {
	return t.store.SumSpendSince(ctx, t.WindowStart(asOf))
}

// Records returns the ledger entries inside the rolling window.
func (t *Tracker) Records(ctx context.Context, asOf time.Time) ([]models.PremiumSpendRecord, error) {
	return t.store.ListSpendSince(ctx, t.WindowStart(asOf))
}

// ExpireOldRecords removes entries older than the rolling window. After it
// returns, no remaining record's timestamp precedes asOf minus the window.
func (t *Tracker) ExpireOldRecords(ctx context.Context, asOf time.Time) (int64, error) {
	removed, err := t.store.DeleteSpendBefore(ctx, t.WindowStart(asOf))
	if err != nil {
		return 0, fmt.Errorf("expiring ledger records: %w", err)
	}
	if removed > 0 {
		t.logger.Debug().Int64("removed", removed).Msg("Expired premium spend records")
	}
	return removed, nil
}
