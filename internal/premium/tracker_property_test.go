package premium

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/store"
)

// Property: cap-check monotonicity
//
// For a fixed ledger and NAV, a proposed spend rejected at amount X is
// rejected at every amount above X. Acceptance never resumes as the
// proposal grows.
func TestProperty_CapCheckMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	properties.Property("rejection is monotone in the proposed amount", prop.ForAll(
		func(spent, nav, lo, extra float64) bool {
			ctx := context.Background()
			tracker := NewTracker(store.NewMemoryStore(), 12, 5.0, zerolog.Nop())
			if _, err := tracker.AddSpend(ctx, decimal.NewFromFloat(spent), "h1", "seed spend", time.Now().UTC()); err != nil {
				t.Logf("AddSpend: %v", err)
				return false
			}

			navDec := decimal.NewFromFloat(nav)
			low, err := tracker.CheckSpendWithinCap(ctx, decimal.NewFromFloat(lo), navDec)
			if err != nil {
				t.Logf("CheckSpendWithinCap(low): %v", err)
				return false
			}
			high, err := tracker.CheckSpendWithinCap(ctx, decimal.NewFromFloat(lo+extra), navDec)
			if err != nil {
				t.Logf("CheckSpendWithinCap(high): %v", err)
				return false
			}

			if !low.IsWithinCap && high.IsWithinCap {
				t.Logf("rejected at %.2f but accepted at %.2f (spent %.2f, nav %.2f)", lo, lo+extra, spent, nav)
				return false
			}
			return true
		},
		gen.Float64Range(1, 10_000),
		gen.Float64Range(10_000, 1_000_000),
		gen.Float64Range(1, 20_000),
		gen.Float64Range(0.01, 20_000),
	))

	properties.TestingRun(t)
}
