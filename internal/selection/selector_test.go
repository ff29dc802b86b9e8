package selection

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/config"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
)

func testLiquidityConfig() config.LiquidityConfig {
	return config.LiquidityConfig{
		MinOpenInterest:       500,
		MinVolume:             50,
		MaxSpreadRel:          0.12,
		MaxSpreadAbs:          0.50,
		MinMidPrice:           0.20,
		MinPayoffPremiumRatio: 3.0,
	}
}

var chainAsOf = time.Date(2026, 8, 30, 16, 0, 0, 0, time.UTC)

// quote builds a liquid put unless overridden.
func quote(symbol string, strike float64, dte int, delta, gamma float64) models.OptionQuote {
	return models.OptionQuote{
		Symbol:     symbol,
		Underlying: "SPY",
		Right:      models.RightPut,
		Strike:     strike,
		Expiration: chainAsOf.AddDate(0, 0, dte),
		Bid:        1.95,
		Ask:        2.05,
		OI:         2000,
		Volume:     300,
		Greeks:     models.OptionGreeks{Delta: delta, Gamma: gamma},
	}
}

func testChain(quotes ...models.OptionQuote) *models.OptionChain {
	return &models.OptionChain{
		Underlying: "SPY",
		SpotPrice:  100,
		AsOf:       chainAsOf,
		Quotes:     quotes,
	}
}

func midCriteria() Criteria {
	return Criteria{
		TargetDelta:        0.25,
		TargetDTE:          90,
		Tier:               models.VolTierMid,
		VolPercentile:      -1,
		ScenarioMovePct:    -20,
		ContractMultiplier: 100,
	}
}

func TestSelectEmptyChainSkips(t *testing.T) {
	s := NewSelector(testLiquidityConfig(), zerolog.Nop())
	sel, reason := s.Select(testChain(), midCriteria())
	if sel != nil {
		t.Fatal("expected nil selection for empty chain")
	}
	if !strings.Contains(reason, "no suitable contract") {
		t.Errorf("reason %q does not flag the skip", reason)
	}
}

func TestSelectLiquidityGate(t *testing.T) {
	s := NewSelector(testLiquidityConfig(), zerolog.Nop())

	thinOI := quote("P-THIN-OI", 90, 90, -0.25, 0.01)
	thinOI.OI = 100
	thinVolume := quote("P-THIN-VOL", 90, 90, -0.25, 0.01)
	thinVolume.Volume = 5
	wideAbs := quote("P-WIDE-ABS", 90, 90, -0.25, 0.01)
	wideAbs.Bid, wideAbs.Ask = 1.50, 2.50
	wideRel := quote("P-WIDE-REL", 90, 90, -0.25, 0.01)
	wideRel.Bid, wideRel.Ask = 0.90, 1.30
	tooCheap := quote("P-CHEAP", 60, 90, -0.05, 0.002)
	tooCheap.Bid, tooCheap.Ask = 0.05, 0.10
	call := quote("C-LIQUID", 110, 90, 0.40, 0.01)
	call.Right = models.RightCall

	sel, reason := s.Select(testChain(thinOI, thinVolume, wideAbs, wideRel, tooCheap, call), midCriteria())
	if sel != nil {
		t.Fatalf("expected all candidates rejected, got %s", sel.Primary.Symbol)
	}
	if !strings.Contains(reason, "liquidity gate") {
		t.Errorf("reason %q does not name the liquidity gate", reason)
	}
}

func TestSelectTenorWindows(t *testing.T) {
	s := NewSelector(testLiquidityConfig(), zerolog.Nop())

	short := quote("P-45", 90, 45, -0.25, 0.01)
	mid := quote("P-90", 90, 90, -0.25, 0.01)
	long := quote("P-150", 90, 150, -0.25, 0.01)
	chain := testChain(short, mid, long)

	// Mid tier: target DTE 90 with a 30-day band.
	sel, reason := s.Select(chain, midCriteria())
	if sel == nil {
		t.Fatalf("mid tier: unexpected skip: %s", reason)
	}
	if sel.Primary.Symbol != "P-90" {
		t.Errorf("mid tier picked %s, want P-90", sel.Primary.Symbol)
	}

	// High tier prefers slow-decay long tenors.
	high := midCriteria()
	high.Tier = models.VolTierHigh
	sel, reason = s.Select(chain, high)
	if sel == nil {
		t.Fatalf("high tier: unexpected skip: %s", reason)
	}
	if sel.Primary.Symbol != "P-150" {
		t.Errorf("high tier picked %s, want P-150", sel.Primary.Symbol)
	}

	// Rich vol percentile forces the long window regardless of tier.
	rich := midCriteria()
	rich.VolPercentile = 85
	sel, reason = s.Select(chain, rich)
	if sel == nil {
		t.Fatalf("rich vol: unexpected skip: %s", reason)
	}
	if sel.Primary.Symbol != "P-150" {
		t.Errorf("rich vol picked %s, want P-150", sel.Primary.Symbol)
	}
}

func TestSelectPrefersPayoffPremiumRatio(t *testing.T) {
	s := NewSelector(testLiquidityConfig(), zerolog.Nop())

	// Same convexity per premium; only the high strike clears the 3x
	// payoff preference at the -20% scenario price of 80.
	highPayoff := quote("P-RATIO", 90, 90, -0.30, 0.010)
	lowPayoff := quote("P-FLAT", 82, 90, -0.20, 0.010)

	sel, reason := s.Select(testChain(lowPayoff, highPayoff), midCriteria())
	if sel == nil {
		t.Fatalf("unexpected skip: %s", reason)
	}
	if sel.Primary.Symbol != "P-RATIO" {
		t.Errorf("picked %s, want the 3x-payoff contract", sel.Primary.Symbol)
	}
	if sel.FallbackScoring {
		t.Error("greeks were available, fallback scoring must be off")
	}
}

func TestSelectFallbackScoringWithoutGamma(t *testing.T) {
	s := NewSelector(testLiquidityConfig(), zerolog.Nop())

	nearTarget := quote("P-NEAR", 90, 90, -0.26, 0)
	farDelta := quote("P-FAR", 90, 90, -0.45, 0)

	sel, reason := s.Select(testChain(farDelta, nearTarget), midCriteria())
	if sel == nil {
		t.Fatalf("unexpected skip: %s", reason)
	}
	if !sel.FallbackScoring {
		t.Error("expected fallback scoring without second-order greeks")
	}
	if sel.Primary.Symbol != "P-NEAR" {
		t.Errorf("picked %s, want the delta-closest contract", sel.Primary.Symbol)
	}
}

func TestSelectLowVolLadder(t *testing.T) {
	s := NewSelector(testLiquidityConfig(), zerolog.Nop())

	first := quote("P-60", 90, 60, -0.25, 0.010)
	sameExp := quote("P-60B", 88, 60, -0.22, 0.009)
	second := quote("P-85", 90, 85, -0.25, 0.008)

	criteria := midCriteria()
	criteria.Tier = models.VolTierLow
	criteria.Ladder = true

	sel, reason := s.Select(testChain(first, sameExp, second), criteria)
	if sel == nil {
		t.Fatalf("unexpected skip: %s", reason)
	}
	if sel.Ladder == nil {
		t.Fatal("expected a ladder leg in low vol")
	}
	if sel.Ladder.Expiration.Equal(sel.Primary.Expiration) {
		t.Error("ladder leg shares the primary expiration")
	}
}

func TestSelectStrikeBounds(t *testing.T) {
	s := NewSelector(testLiquidityConfig(), zerolog.Nop())

	inBand := quote("P-80", 80, 90, -0.20, 0.01)
	outBand := quote("P-95", 95, 90, -0.35, 0.01)

	criteria := midCriteria()
	criteria.StrikeMin = 76
	criteria.StrikeMax = 84

	sel, reason := s.Select(testChain(inBand, outBand), criteria)
	if sel == nil {
		t.Fatalf("unexpected skip: %s", reason)
	}
	if sel.Primary.Symbol != "P-80" {
		t.Errorf("picked %s outside the strike band", sel.Primary.Symbol)
	}
}
