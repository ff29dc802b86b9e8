// Package engine wires sizing, selection, budget tracking, and lifecycle
// management into the hedge evaluation cycle. All state flows through the
// shared HedgeRiskContext so every component sees the same store, ledger,
// gate, and audit trail.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/audit"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/broker"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/config"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/errors"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/lifecycle"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/logging"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/metrics"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/premium"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/selection"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/sizing"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/store"
)

// HedgeRiskContext bundles the shared stateful dependencies injected into
// every engine component. One context per process; components never open
// their own stores or ledgers.
type HedgeRiskContext struct {
	Store   store.DataStore
	Tracker *premium.Tracker
	Gate    *Gate
	Audit   audit.Recorder
}

// NewHedgeRiskContext builds the shared context from an opened store.
func NewHedgeRiskContext(dataStore store.DataStore, cfg *config.Config, recorder audit.Recorder, logger zerolog.Logger) *HedgeRiskContext {
	return &HedgeRiskContext{
		Store:   dataStore,
		Tracker: premium.NewTracker(dataStore, cfg.Budget.RollingWindowMonths, cfg.Budget.AnnualCapPct, logger),
		Gate:    NewGate(dataStore, recorder, logger),
		Audit:   recorder,
	}
}

// EvaluationOutcome is the result of one evaluation cycle: the sizing
// recommendation plus the selected contract legs, when any.
type EvaluationOutcome struct {
	Recommendation *models.HedgeRecommendation
	Selection      *selection.Selection
	// ShortLeg carries the sold leg of a put spread; nil for outright
	// puts.
	ShortLeg *models.OptionQuote
}

// Engine runs the hedge evaluation and lifecycle cycles.
type Engine struct {
	cfg        *config.Config
	deps       *HedgeRiskContext
	sizer      *sizing.Sizer
	selector   *selection.Selector
	broker     broker.Broker
	roll       *lifecycle.RollEvaluator
	assignment *lifecycle.AssignmentMonitor
	logger     zerolog.Logger
}

// New assembles the engine from the shared context and a broker.
func New(cfg *config.Config, deps *HedgeRiskContext, b broker.Broker, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		deps:       deps,
		sizer:      sizing.NewSizer(cfg.Sizing, cfg.Budget, deps.Tracker, logger),
		selector:   selection.NewSelector(cfg.Liquidity, logger),
		broker:     b,
		roll:       lifecycle.NewRollEvaluator(cfg.Roll, deps.Store, deps.Audit, logger),
		assignment: lifecycle.NewAssignmentMonitor(cfg.Roll.Smoothing, b, deps.Store, deps.Gate, deps.Audit, logger),
		logger:     logger,
	}
}

// EvaluateHedge runs one evaluation cycle for an underlying. The gate is
// checked before anything else; redelivered correlation ids return
// ErrDuplicateInvocation without re-evaluating. A skip is reported
// through the recommendation, never through the error.
func (e *Engine) EvaluateHedge(ctx context.Context, correlationID string, snap models.MarketSnapshot) (*EvaluationOutcome, error) {
	logger := logging.WithCorrelation(e.logger, correlationID)

	if gate := e.deps.Gate.Status(ctx); gate.Active {
		logger.Warn().Str("reason", gate.Reason).Msg("Evaluation blocked by safety gate")
		return nil, errors.Wrapf(errors.ErrGateActive, "raised at %s: %s", gate.SetAt.Format(time.RFC3339), gate.Reason)
	}

	fresh, err := e.deps.Store.MarkInvocation(ctx, correlationID, "evaluate", snap.AsOf)
	if err != nil {
		return nil, errors.Wrap(err, "recording invocation")
	}
	if !fresh {
		_ = e.deps.Audit.Log(ctx, audit.Event{
			EventType:     audit.EventDuplicateInvocation,
			Underlying:    snap.Underlying,
			CorrelationID: correlationID,
			Action:        "evaluate",
			Success:       true,
		})
		return nil, errors.ErrDuplicateInvocation
	}

	active, err := e.deps.Store.ListPositions(ctx, store.PositionFilter{
		Underlying: snap.Underlying,
		State:      models.PositionActive,
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing active positions")
	}

	if ok, reason := e.sizer.ShouldHedge(ctx, snap, len(active), 0); !ok {
		rec := &models.HedgeRecommendation{
			Underlying:    snap.Underlying,
			EvaluatedAt:   snap.AsOf,
			CorrelationID: correlationID,
			SkipReason:    reason,
		}
		e.recordOutcome(ctx, rec)
		return &EvaluationOutcome{Recommendation: rec}, nil
	}

	rec, err := e.sizer.Evaluate(ctx, snap, correlationID)
	if err != nil {
		return nil, err
	}
	if rec.Skipped() {
		e.recordOutcome(ctx, rec)
		return &EvaluationOutcome{Recommendation: rec}, nil
	}

	chain, err := e.broker.GetOptionChain(ctx, snap.Underlying)
	if err != nil {
		return nil, errors.Wrap(err, "fetching option chain")
	}

	outcome, skip := e.selectContracts(chain, rec, snap)
	if skip != "" {
		rec.SkipReason = skip
	}
	e.recordOutcome(ctx, rec)
	return outcome, nil
}

// selectContracts resolves the recommendation into concrete legs. For the
// spread template the short leg is selected below the long strike at the
// configured width; failure to fill either leg skips the cycle.
func (e *Engine) selectContracts(chain *models.OptionChain, rec *models.HedgeRecommendation, snap models.MarketSnapshot) (*EvaluationOutcome, string) {
	criteria := selection.Criteria{
		TargetDelta:        rec.TargetDelta,
		TargetDTE:          rec.TargetDTE,
		Tier:               rec.VolatilityTier,
		VolPercentile:      snap.VolPercentile,
		ScenarioMovePct:    rec.ScenarioMovePct,
		ContractMultiplier: e.cfg.Sizing.ContractMult,
		Ladder:             rec.VolatilityTier == models.VolTierLow && rec.Template == models.TemplateTailFirst,
	}

	sel, reason := e.selector.Select(chain, criteria)
	if sel == nil {
		return &EvaluationOutcome{Recommendation: rec}, reason
	}
	outcome := &EvaluationOutcome{Recommendation: rec, Selection: sel}
	if rec.Template != models.TemplateSmoothing {
		return outcome, ""
	}

	// Short leg of the spread: a lower-strike put in a narrow band
	// around the configured width, same expiration policy.
	shortStrike := sel.Primary.Strike * (1 - e.cfg.Sizing.SpreadWidthPct/100)
	shortCriteria := criteria
	shortCriteria.Ladder = false
	shortCriteria.StrikeMin = shortStrike * 0.95
	shortCriteria.StrikeMax = shortStrike * 1.05
	shortSel, shortReason := e.selector.Select(chain, shortCriteria)
	if shortSel == nil {
		return &EvaluationOutcome{Recommendation: rec}, fmt.Sprintf("no short leg near strike %.2f: %s", shortStrike, shortReason)
	}
	if shortSel.Primary.Symbol == sel.Primary.Symbol {
		return &EvaluationOutcome{Recommendation: rec}, "spread legs collapsed to the same contract"
	}
	outcome.ShortLeg = shortSel.Primary
	return outcome, ""
}

// PlaceHedge submits orders for an evaluated outcome, persists the new
// position, and records the premium spend against the rolling ledger.
func (e *Engine) PlaceHedge(ctx context.Context, outcome *EvaluationOutcome) (*models.HedgePosition, error) {
	rec := outcome.Recommendation
	if rec == nil || rec.Skipped() || outcome.Selection == nil {
		return nil, errors.NewInvalidInputError("outcome", 0, "recommendation carries no placeable contract")
	}
	if gate := e.deps.Gate.Status(ctx); gate.Active {
		return nil, errors.Wrap(errors.ErrGateActive, "placement blocked")
	}

	primary := outcome.Selection.Primary
	longResult, err := e.placeLeg(ctx, rec, primary.Symbol, models.OrderSideBuy)
	if err != nil {
		return nil, err
	}
	netDebit := longResult.FillPrice

	legs := []models.HedgeLeg{{
		OptionSymbol: primary.Symbol,
		Side:         models.OrderSideBuy,
		Strike:       primary.Strike,
		Right:        models.RightPut,
		EntryDelta:   primary.Greeks.Delta,
		CurrentDelta: primary.Greeks.Delta,
	}}

	if outcome.ShortLeg != nil {
		shortResult, err := e.placeLeg(ctx, rec, outcome.ShortLeg.Symbol, models.OrderSideSell)
		if err != nil {
			return nil, err
		}
		netDebit -= shortResult.FillPrice
		legs = append(legs, models.HedgeLeg{
			OptionSymbol: outcome.ShortLeg.Symbol,
			Side:         models.OrderSideSell,
			Strike:       outcome.ShortLeg.Strike,
			Right:        models.RightPut,
			EntryDelta:   outcome.ShortLeg.Greeks.Delta,
			CurrentDelta: outcome.ShortLeg.Greeks.Delta,
		})
	}

	pos := &models.HedgePosition{
		ID:         ulid.Make().String(),
		Underlying: rec.Underlying,
		Template:   rec.Template,
		IsSpread:   outcome.ShortLeg != nil,
		Legs:       legs,
		Expiration: primary.Expiration,
		Contracts:  rec.Contracts,
		EntryPrice: netDebit,
		EntryDelta: primary.Greeks.Delta,
		EntryTime:  time.Now().UTC(),
		State:      models.PositionActive,
		RollState:  models.RollHolding,
	}
	if err := e.deps.Store.SavePosition(ctx, pos); err != nil {
		return nil, errors.Wrap(err, "saving position")
	}

	spend := netDebit * float64(rec.Contracts) * e.cfg.Sizing.ContractMult
	if spend > 0 {
		if _, err := e.deps.Tracker.AddSpend(ctx, decimal.NewFromFloat(spend), pos.ID,
			fmt.Sprintf("%s %s x%d", rec.Template, primary.Symbol, rec.Contracts), pos.EntryTime); err != nil {
			return pos, errors.Wrap(err, "recording premium spend")
		}
		metrics.PremiumSpendTotal.WithLabelValues(rec.Underlying).Add(spend)
	}

	_ = e.deps.Audit.Log(ctx, audit.Event{
		EventType:     audit.EventPositionOpened,
		Underlying:    rec.Underlying,
		PositionID:    pos.ID,
		CorrelationID: rec.CorrelationID,
		Success:       true,
		Details: map[string]interface{}{
			"template":  string(rec.Template),
			"contracts": rec.Contracts,
			"net_debit": netDebit,
			"spend":     spend,
		},
	})
	return pos, nil
}

func (e *Engine) placeLeg(ctx context.Context, rec *models.HedgeRecommendation, symbol string, side models.OrderSide) (*broker.OrderResult, error) {
	result, err := e.broker.PlaceOrder(ctx, &broker.Order{
		Symbol:        symbol,
		Underlying:    rec.Underlying,
		Side:          side,
		Type:          models.OrderTypeMarket,
		Contracts:     rec.Contracts,
		CorrelationID: rec.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	if result.Status == broker.OrderRejected {
		return nil, errors.NewBrokerError("place_order", symbol, result.Message, nil)
	}
	return result, nil
}

// LifecycleCycle runs roll and assignment checks over every active
// position. Positions already past expiration are marked expired and
// skipped. Observations and shortDeltas are keyed by position id;
// positions without an observation are left alone this cycle. The cycle
// is idempotent under correlation id redelivery.
func (e *Engine) LifecycleCycle(ctx context.Context, correlationID string, observations map[string]lifecycle.RollObservation, shortDeltas map[string]float64, asOf time.Time) ([]models.RollTriggerRecord, []models.AssignmentRecord, error) {
	fresh, err := e.deps.Store.MarkInvocation(ctx, correlationID, "lifecycle", asOf)
	if err != nil {
		return nil, nil, errors.Wrap(err, "recording invocation")
	}
	if !fresh {
		_ = e.deps.Audit.Log(ctx, audit.Event{
			EventType:     audit.EventDuplicateInvocation,
			CorrelationID: correlationID,
			Action:        "lifecycle",
			Success:       true,
		})
		return nil, nil, errors.ErrDuplicateInvocation
	}

	positions, err := e.deps.Store.ListPositions(ctx, store.PositionFilter{State: models.PositionActive})
	if err != nil {
		return nil, nil, errors.Wrap(err, "listing active positions")
	}

	var triggers []models.RollTriggerRecord
	for i := range positions {
		// An active position past its expiration was left unmanaged; flag
		// it instead of evaluating triggers on a dead contract.
		if asOf.After(positions[i].Expiration) {
			positions[i].State = models.PositionExpired
			if err := e.deps.Store.UpdatePosition(ctx, &positions[i]); err != nil {
				return triggers, nil, errors.Wrap(err, "marking expired position")
			}
			_ = e.deps.Audit.Log(ctx, audit.Event{
				EventType:     audit.EventPositionExpired,
				Underlying:    positions[i].Underlying,
				PositionID:    positions[i].ID,
				CorrelationID: correlationID,
				Success:       true,
				Details: map[string]interface{}{
					"expiration": positions[i].Expiration,
				},
			})
			e.logger.Warn().
				Str("position_id", positions[i].ID).
				Time("expiration", positions[i].Expiration).
				Msg("Active position past expiration left unmanaged, marked expired")
			continue
		}
		obs, ok := observations[positions[i].ID]
		if !ok {
			continue
		}
		record, err := e.roll.Evaluate(ctx, &positions[i], obs, asOf)
		if err != nil {
			return triggers, nil, err
		}
		if record != nil {
			triggers = append(triggers, *record)
		}
	}

	assignments, err := e.assignment.CheckAll(ctx, positions, shortDeltas, asOf)
	if err != nil {
		return triggers, assignments, err
	}

	if _, err := e.deps.Tracker.ExpireOldRecords(ctx, asOf); err != nil {
		return triggers, assignments, errors.Wrap(err, "expiring ledger records")
	}
	return triggers, assignments, nil
}

// recordOutcome writes the evaluation result to metrics, the audit trail,
// and the process log.
func (e *Engine) recordOutcome(ctx context.Context, rec *models.HedgeRecommendation) {
	outcome := "recommended"
	eventType := audit.EventRecommendation
	if rec.Skipped() {
		outcome = "skipped"
		eventType = audit.EventHedgeSkipped
	}
	metrics.RecommendationsTotal.WithLabelValues(rec.Underlying, outcome).Inc()
	if rec.WasClippedByBudget {
		metrics.ClippedTotal.WithLabelValues(rec.Underlying).Inc()
		_ = e.deps.Audit.Log(ctx, audit.Event{
			EventType:     audit.EventHedgeClipped,
			Underlying:    rec.Underlying,
			CorrelationID: rec.CorrelationID,
			Success:       true,
			ErrorMsg:      rec.ClipReport,
		})
	}
	_ = e.deps.Audit.Log(ctx, audit.Event{
		EventType:     eventType,
		Underlying:    rec.Underlying,
		CorrelationID: rec.CorrelationID,
		Success:       true,
		Details: map[string]interface{}{
			"template":             string(rec.Template),
			"contracts":            rec.Contracts,
			"contracts_for_target": rec.ContractsForTarget,
			"estimated_premium":    rec.EstimatedPremium,
			"skip_reason":          rec.SkipReason,
			"clipped":              rec.WasClippedByBudget,
		},
	})
	logging.LogRecommendation(e.logger, rec.Underlying, rec.Contracts, rec.EstimatedPremium, rec.SkipReason)
}
