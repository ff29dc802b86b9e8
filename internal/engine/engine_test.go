package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/audit"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/broker"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/config"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/errors"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/lifecycle"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/store"
)

var engineAsOf = time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)

func engineTestConfig() *config.Config {
	return &config.Config{
		Sizing: config.SizingConfig{
			VolTierLowMax:    17,
			VolTierMidMax:    25,
			VolRichLevel:     32,
			DampenFraction:   0.25,
			ScenarioMovePct:  -20,
			TargetPayoffPct:  8,
			MinPayoffPct:     4,
			MaxPayoffPct:     12,
			ProtectionFloor:  2,
			FallbackPolicy:   "clip_and_report",
			DefaultTemplate:  "TAIL_FIRST",
			TargetDelta:      0.25,
			TargetDTE:        90,
			WideDelta:        0.15,
			ExtendedDTE:      150,
			SpreadWidthPct:   10,
			ContractMult:     100,
			MaxContracts:     10000,
			MinNAV:           25000,
			MinExposureRatio: 1.2,
			MaxActiveHedges:  6,
		},
		Budget: config.BudgetConfig{
			TierLowMonthlyPct:   0.20,
			TierMidMonthlyPct:   0.30,
			TierHighMonthlyPct:  0.40,
			MonthlyCapPct:       0.35,
			AnnualCapPct:        5.0,
			RollingWindowMonths: 12,
		},
		Liquidity: config.LiquidityConfig{
			MinOpenInterest:       500,
			MinVolume:             50,
			MaxSpreadRel:          0.12,
			MaxSpreadAbs:          0.50,
			MinMidPrice:           0.20,
			MinPayoffPremiumRatio: 3.0,
			QuoteTimeout:          "5s",
		},
		Roll: config.RollConfig{
			TailFirst: config.TailFirstRollConfig{
				MinDTE:             30,
				DeltaDriftPoints:   0.10,
				ExtrinsicDecayFrac: 0.35,
				SkewDeviationStdev: 2.0,
			},
			Smoothing: config.SmoothingRollConfig{
				CadenceDays:        30,
				MinValueFrac:       0.25,
				LongDriftPoints:    0.15,
				ShortDriftPoints:   0.10,
				AssignmentWarn:     0.60,
				AssignmentHigh:     0.80,
				AssignmentCritical: 0.90,
				CriticalGateCount:  2,
			},
		},
	}
}

func engineSnapshot() models.MarketSnapshot {
	return models.MarketSnapshot{
		Underlying:      "SPY",
		SpotPrice:       100,
		NAV:             100000,
		LeverageFactor:  2,
		ExposureRatio:   2.0,
		VolatilityIndex: 20,
		VolPercentile:   50,
		AsOf:            engineAsOf,
	}
}

func engineChain() *models.OptionChain {
	return &models.OptionChain{
		Underlying: "SPY",
		SpotPrice:  100,
		AsOf:       engineAsOf,
		Quotes: []models.OptionQuote{
			{
				Symbol: "SPY-P90", Underlying: "SPY", Right: models.RightPut,
				Strike: 90, Expiration: engineAsOf.AddDate(0, 0, 90),
				Bid: 1.95, Ask: 2.05, OI: 2000, Volume: 300,
				Greeks: models.OptionGreeks{Delta: -0.25, Gamma: 0.04},
			},
			{
				Symbol: "SPY-P81", Underlying: "SPY", Right: models.RightPut,
				Strike: 81, Expiration: engineAsOf.AddDate(0, 0, 90),
				Bid: 0.58, Ask: 0.62, OI: 1500, Volume: 200,
				Greeks: models.OptionGreeks{Delta: -0.12, Gamma: 0.03},
			},
		},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *HedgeRiskContext, *broker.PaperBroker, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	paper := broker.NewPaperBroker()
	paper.SetChain(engineChain())
	deps := NewHedgeRiskContext(mem, cfg, audit.NopRecorder{}, zerolog.Nop())
	return New(cfg, deps, paper, zerolog.Nop()), deps, paper, mem
}

func TestEvaluateHedgeBlockedByGate(t *testing.T) {
	e, deps, _, _ := newTestEngine(t, engineTestConfig())
	ctx := context.Background()

	require.NoError(t, deps.Gate.Raise(ctx, "unresolved assignment risk"))

	outcome, err := e.EvaluateHedge(ctx, "corr-gate", engineSnapshot())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrGateActive))
	assert.Nil(t, outcome)
}

func TestEvaluateHedgeDuplicateCorrelation(t *testing.T) {
	e, _, _, _ := newTestEngine(t, engineTestConfig())
	ctx := context.Background()

	first, err := e.EvaluateHedge(ctx, "corr-dup", engineSnapshot())
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := e.EvaluateHedge(ctx, "corr-dup", engineSnapshot())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateInvocation))
	assert.Nil(t, second, "a redelivered cycle must not re-evaluate")
}

func TestEvaluateHedgePreflightSkip(t *testing.T) {
	e, _, _, _ := newTestEngine(t, engineTestConfig())
	ctx := context.Background()

	snap := engineSnapshot()
	snap.NAV = 10000

	outcome, err := e.EvaluateHedge(ctx, "corr-small", snap)
	require.NoError(t, err, "a skip is a decision, not an error")
	require.NotNil(t, outcome)
	assert.Contains(t, outcome.Recommendation.SkipReason, "nav")
	assert.Nil(t, outcome.Selection)
}

func TestEvaluateAndPlaceOutright(t *testing.T) {
	e, deps, _, mem := newTestEngine(t, engineTestConfig())
	ctx := context.Background()

	outcome, err := e.EvaluateHedge(ctx, "corr-place", engineSnapshot())
	require.NoError(t, err)
	require.NotNil(t, outcome)
	rec := outcome.Recommendation
	require.NotNil(t, rec)
	assert.Empty(t, rec.SkipReason)

	// Target is 22 contracts at $50 each; the $350 monthly cap affords 7.
	assert.Equal(t, 22, rec.ContractsForTarget)
	assert.Equal(t, 7, rec.Contracts)
	assert.True(t, rec.WasClippedByBudget)

	require.NotNil(t, outcome.Selection)
	assert.Equal(t, "SPY-P90", outcome.Selection.Primary.Symbol)
	assert.Nil(t, outcome.ShortLeg)

	pos, err := e.PlaceHedge(ctx, outcome)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, models.PositionActive, pos.State)
	assert.Equal(t, 7, pos.Contracts)
	require.Len(t, pos.Legs, 1)
	assert.Equal(t, "SPY-P90", pos.Legs[0].OptionSymbol)
	assert.InDelta(t, 2.0, pos.EntryPrice, 1e-9, "paper fills at mid")

	// The net debit lands on the rolling ledger: 2.00 x 7 x 100.
	total, err := mem.SumSpendSince(ctx, engineAsOf.AddDate(-1, 0, 0))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromFloat(1400)), "ledger total %s", total)

	saved, err := deps.Store.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, saved.ID)
}

func TestEvaluateAndPlaceSpread(t *testing.T) {
	cfg := engineTestConfig()
	cfg.Sizing.DefaultTemplate = "SMOOTHING"
	e, _, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	outcome, err := e.EvaluateHedge(ctx, "corr-spread", engineSnapshot())
	require.NoError(t, err)
	require.NotNil(t, outcome)
	rec := outcome.Recommendation
	require.Empty(t, rec.SkipReason)
	assert.Equal(t, models.TemplateSmoothing, rec.Template)

	require.NotNil(t, outcome.Selection)
	assert.Equal(t, "SPY-P90", outcome.Selection.Primary.Symbol)
	require.NotNil(t, outcome.ShortLeg, "the spread template selects a short leg")
	assert.Equal(t, "SPY-P81", outcome.ShortLeg.Symbol)

	pos, err := e.PlaceHedge(ctx, outcome)
	require.NoError(t, err)
	assert.True(t, pos.IsSpread)
	require.Len(t, pos.Legs, 2)
	assert.Equal(t, models.OrderSideBuy, pos.Legs[0].Side)
	assert.Equal(t, models.OrderSideSell, pos.Legs[1].Side)
	assert.InDelta(t, 1.40, pos.EntryPrice, 1e-9, "net debit is long mid minus short mid")
	assert.InDelta(t, 9, pos.SpreadWidth(), 1e-9)
}

func TestPlaceHedgeRejectsSkippedRecommendation(t *testing.T) {
	e, _, _, _ := newTestEngine(t, engineTestConfig())
	ctx := context.Background()

	outcome := &EvaluationOutcome{
		Recommendation: &models.HedgeRecommendation{Underlying: "SPY", SkipReason: "nothing to place"},
	}
	_, err := e.PlaceHedge(ctx, outcome)
	require.Error(t, err)
	var invalid *errors.InvalidInputError
	assert.True(t, errors.As(err, &invalid))
}

func TestPlaceHedgeBlockedByGate(t *testing.T) {
	e, deps, _, _ := newTestEngine(t, engineTestConfig())
	ctx := context.Background()

	outcome, err := e.EvaluateHedge(ctx, "corr-gated-place", engineSnapshot())
	require.NoError(t, err)
	require.NotNil(t, outcome.Selection)

	require.NoError(t, deps.Gate.Raise(ctx, "raised between evaluation and placement"))
	_, err = e.PlaceHedge(ctx, outcome)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrGateActive))
}

func TestLifecycleCycleIdempotent(t *testing.T) {
	e, _, _, _ := newTestEngine(t, engineTestConfig())
	ctx := context.Background()

	obs := map[string]lifecycle.RollObservation{}
	deltas := map[string]float64{}

	_, _, err := e.LifecycleCycle(ctx, "corr-lc", obs, deltas, engineAsOf)
	require.NoError(t, err)

	_, _, err = e.LifecycleCycle(ctx, "corr-lc", obs, deltas, engineAsOf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateInvocation))
}

func TestLifecycleCycleFlagsExpiredPositions(t *testing.T) {
	e, _, _, mem := newTestEngine(t, engineTestConfig())
	ctx := context.Background()

	stale := &models.HedgePosition{
		ID:         "stale-1",
		Underlying: "SPY",
		Template:   models.TemplateTailFirst,
		Legs: []models.HedgeLeg{{
			OptionSymbol: "SPY-P90", Side: models.OrderSideBuy, Strike: 90,
			Right: models.RightPut, EntryDelta: 0.25, CurrentDelta: 0.25,
		}},
		Expiration: engineAsOf.AddDate(0, 0, -10),
		Contracts:  3,
		EntryTime:  engineAsOf.AddDate(0, -4, 0),
		State:      models.PositionActive,
		RollState:  models.RollHolding,
	}
	live := &models.HedgePosition{
		ID:         "live-1",
		Underlying: "SPY",
		Template:   models.TemplateTailFirst,
		Legs: []models.HedgeLeg{{
			OptionSymbol: "SPY-P90", Side: models.OrderSideBuy, Strike: 90,
			Right: models.RightPut, EntryDelta: 0.25, CurrentDelta: 0.25,
		}},
		Expiration: engineAsOf.AddDate(0, 0, 60),
		Contracts:  3,
		EntryTime:  engineAsOf.AddDate(0, 0, -5),
		State:      models.PositionActive,
		RollState:  models.RollHolding,
	}
	require.NoError(t, mem.SavePosition(ctx, stale))
	require.NoError(t, mem.SavePosition(ctx, live))

	// No observations: the stale position is flagged anyway, the live one
	// is left alone.
	triggers, assignments, err := e.LifecycleCycle(ctx, "corr-expired",
		map[string]lifecycle.RollObservation{}, map[string]float64{}, engineAsOf)
	require.NoError(t, err)
	assert.Empty(t, triggers)
	assert.Empty(t, assignments)

	flagged, err := mem.GetPosition(ctx, "stale-1")
	require.NoError(t, err)
	assert.Equal(t, models.PositionExpired, flagged.State, "unmanaged position past expiration must be flagged")

	untouched, err := mem.GetPosition(ctx, "live-1")
	require.NoError(t, err)
	assert.Equal(t, models.PositionActive, untouched.State)
}

// failingGateStore simulates an unreadable gate row.
type failingGateStore struct {
	store.DataStore
}

func (f *failingGateStore) GetSafetyGate(ctx context.Context) (*models.SafetyGate, error) {
	return nil, fmt.Errorf("disk unavailable")
}

func TestGateLifecycle(t *testing.T) {
	mem := store.NewMemoryStore()
	gate := NewGate(mem, audit.NopRecorder{}, zerolog.Nop())
	ctx := context.Background()

	assert.False(t, gate.IsActive(ctx))

	require.NoError(t, gate.Raise(ctx, "first reason"))
	status := gate.Status(ctx)
	assert.True(t, status.Active)
	assert.Equal(t, "first reason", status.Reason)

	// Raising again keeps the original reason and timestamp.
	require.NoError(t, gate.Raise(ctx, "second reason"))
	status = gate.Status(ctx)
	assert.Equal(t, "first reason", status.Reason)

	require.NoError(t, gate.Clear(ctx, "operator@desk"))
	assert.False(t, gate.IsActive(ctx))

	// Clearing an inactive gate is a no-op.
	require.NoError(t, gate.Clear(ctx, "operator@desk"))
}

func TestGateFailsClosedOnReadError(t *testing.T) {
	gate := NewGate(&failingGateStore{DataStore: store.NewMemoryStore()}, audit.NopRecorder{}, zerolog.Nop())
	status := gate.Status(context.Background())
	assert.True(t, status.Active, "unreadable gate state must block placement")
	assert.Equal(t, "gate state unreadable", status.Reason)
}
