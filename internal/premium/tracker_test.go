package premium

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	return NewTracker(mem, 12, 5.0, zerolog.Nop()), mem
}

func TestAddSpendRejectsNonPositiveAmounts(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tracker.AddSpend(ctx, decimal.Zero, "h1", "test", time.Now()); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := tracker.AddSpend(ctx, decimal.NewFromInt(-100), "h1", "test", time.Now()); err == nil {
		t.Error("expected error for negative amount")
	}
}

func TestCurrentSpendAccumulates(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	amounts := []int64{100, 250, 75}
	running := decimal.Zero
	for i, a := range amounts {
		amount := decimal.NewFromInt(a)
		if _, err := tracker.AddSpend(ctx, amount, "h1", "test", now.AddDate(0, 0, -i)); err != nil {
			t.Fatalf("AddSpend: %v", err)
		}
		running = running.Add(amount)

		total, err := tracker.CurrentSpend(ctx, now)
		if err != nil {
			t.Fatalf("CurrentSpend: %v", err)
		}
		if !total.Equal(running) {
			t.Errorf("after %d records: total %s, want %s", i+1, total, running)
		}
	}
}

func TestCheckSpendWithinCap(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()
	nav := decimal.NewFromInt(100_000)

	// Cap is 5% of 100k. With 4,000 already spent in the window, a
	// proposed 1,500 projects to 5,500 against the 5,000 cap: rejected,
	// with 1,000 of capacity remaining.
	if _, err := tracker.AddSpend(ctx, decimal.NewFromInt(4000), "h1", "tail hedge", now.AddDate(0, -2, 0)); err != nil {
		t.Fatalf("AddSpend: %v", err)
	}

	check, err := tracker.CheckSpendWithinCap(ctx, decimal.NewFromInt(1500), nav)
	if err != nil {
		t.Fatalf("CheckSpendWithinCap: %v", err)
	}
	if check.IsWithinCap {
		t.Error("expected rejection over the annual cap")
	}
	if !check.CapAmount.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("cap = %s, want 5000", check.CapAmount)
	}
	if !check.CurrentSpend.Equal(decimal.NewFromInt(4000)) {
		t.Errorf("current spend = %s, want 4000", check.CurrentSpend)
	}
	if !check.ProjectedSpend.Equal(decimal.NewFromInt(5500)) {
		t.Errorf("projected = %s, want 5500", check.ProjectedSpend)
	}
	if !check.RemainingCapacity.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("remaining = %s, want 1000", check.RemainingCapacity)
	}
}

func TestCheckSpendFailsClosedOnNonPositiveNAV(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	for _, nav := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-50_000)} {
		check, err := tracker.CheckSpendWithinCap(ctx, decimal.NewFromInt(1), nav)
		if err != nil {
			t.Fatalf("CheckSpendWithinCap: %v", err)
		}
		if !check.CapAmount.Equal(decimal.Zero) {
			t.Errorf("nav %s: cap = %s, want 0", nav, check.CapAmount)
		}
		if check.IsWithinCap {
			t.Errorf("nav %s: positive spend must be rejected", nav)
		}
	}
}

func TestExpireOldRecords(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// One record just inside the 12-month window, one just outside.
	if _, err := tracker.AddSpend(ctx, decimal.NewFromInt(300), "h-old", "expired hedge", now.AddDate(0, -13, 0)); err != nil {
		t.Fatalf("AddSpend: %v", err)
	}
	if _, err := tracker.AddSpend(ctx, decimal.NewFromInt(200), "h-new", "live hedge", now.AddDate(0, -11, 0)); err != nil {
		t.Fatalf("AddSpend: %v", err)
	}

	removed, err := tracker.ExpireOldRecords(ctx, now)
	if err != nil {
		t.Fatalf("ExpireOldRecords: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	total, err := tracker.CurrentSpend(ctx, now)
	if err != nil {
		t.Fatalf("CurrentSpend: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(200)) {
		t.Errorf("total after expiry = %s, want 200", total)
	}

	records, err := tracker.Records(ctx, now)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 || records[0].HedgeID != "h-new" {
		t.Errorf("unexpected surviving records: %+v", records)
	}
}

func TestWindowStart(t *testing.T) {
	tracker, _ := newTestTracker(t)
	asOf := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	want := time.Date(2025, 8, 30, 12, 0, 0, 0, time.UTC)
	if got := tracker.WindowStart(asOf); !got.Equal(want) {
		t.Errorf("WindowStart = %s, want %s", got, want)
	}
}
