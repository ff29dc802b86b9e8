package sizing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/config"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
)

// SpendChecker checks proposed premium spend against the rolling annual
// cap. Implemented by premium.Tracker.
type SpendChecker interface {
	CheckSpendWithinCap(ctx context.Context, proposed, nav decimal.Decimal) (*models.CapCheckResult, error)
}

// Sizer composes the payoff calculator, the spend tracker, and the budget
// tier policy into one hedge recommendation per evaluation.
type Sizer struct {
	sizing  config.SizingConfig
	budget  config.BudgetConfig
	tracker SpendChecker
	logger  zerolog.Logger
}

// NewSizer creates a new hedge sizer.
func NewSizer(sizingCfg config.SizingConfig, budgetCfg config.BudgetConfig, tracker SpendChecker, logger zerolog.Logger) *Sizer {
	return &Sizer{
		sizing:  sizingCfg,
		budget:  budgetCfg,
		tracker: tracker,
		logger:  logger,
	}
}

// ClassifyVolTier classifies a volatility-index reading into a tier.
func (s *Sizer) ClassifyVolTier(volIndex float64) models.VolatilityTier {
	switch {
	case volIndex <= s.sizing.VolTierLowMax:
		return models.VolTierLow
	case volIndex <= s.sizing.VolTierMidMax:
		return models.VolTierMid
	default:
		return models.VolTierHigh
	}
}

func (s *Sizer) tierMonthlyRate(tier models.VolatilityTier) float64 {
	switch tier {
	case models.VolTierLow:
		return s.budget.TierLowMonthlyPct
	case models.VolTierMid:
		return s.budget.TierMidMonthlyPct
	default:
		return s.budget.TierHighMonthlyPct
	}
}

// ShouldHedge is a cheap pre-flight gate invoked before the full pipeline.
// Returns false with a reason when evaluation is pointless this cycle.
func (s *Sizer) ShouldHedge(ctx context.Context, snap models.MarketSnapshot, activeHedges int, proposedSpend float64) (bool, string) {
	if snap.NAV < s.sizing.MinNAV {
		return false, fmt.Sprintf("nav %.2f below minimum %.2f", snap.NAV, s.sizing.MinNAV)
	}
	if snap.ExposureRatio < s.sizing.MinExposureRatio {
		return false, fmt.Sprintf("exposure ratio %.2f below minimum %.2f", snap.ExposureRatio, s.sizing.MinExposureRatio)
	}
	if activeHedges >= s.sizing.MaxActiveHedges {
		return false, fmt.Sprintf("active hedge count %d at maximum %d", activeHedges, s.sizing.MaxActiveHedges)
	}
	if proposedSpend > 0 {
		check, err := s.tracker.CheckSpendWithinCap(ctx,
			decimal.NewFromFloat(proposedSpend), decimal.NewFromFloat(snap.NAV))
		if err != nil {
			return false, fmt.Sprintf("annual cap check failed: %v", err)
		}
		if !check.IsWithinCap {
			return false, fmt.Sprintf("annual premium cap: remaining capacity %s below proposed %s",
				check.RemainingCapacity.StringFixed(2), check.ProposedSpend.StringFixed(2))
		}
	}
	return true, ""
}

// Evaluate runs the constraint reconciliation pipeline for one underlying
// and returns a recommendation carrying every intermediate decision.
// A skip is expressed through SkipReason, never through the error return;
// the error is reserved for malformed input.
func (s *Sizer) Evaluate(ctx context.Context, snap models.MarketSnapshot, correlationID string) (*models.HedgeRecommendation, error) {
	template := models.HedgeTemplate(s.sizing.DefaultTemplate)

	rec, err := s.evaluateTemplate(ctx, snap, template, correlationID)
	if err != nil {
		return nil, err
	}

	// The switch_template fallback is a bounded retry, not recursion:
	// exactly one re-attempt with the alternate template.
	if rec.SkipReason == skipBelowFloor && s.sizing.FallbackPolicy == "switch_template" {
		alt, err := s.evaluateTemplate(ctx, snap, template.Alternate(), correlationID)
		if err != nil {
			return nil, err
		}
		alt.SwitchedTemplate = true
		if alt.SkipReason == skipBelowFloor {
			alt.SkipReason = fmt.Sprintf("below protection floor under both templates (%s, %s)",
				template, template.Alternate())
		}
		return alt, nil
	}
	if rec.SkipReason == skipBelowFloor {
		switch s.sizing.FallbackPolicy {
		case "clip_and_report":
			// Accept the shortfall; the clip report carries it.
			rec.SkipReason = ""
		case "skip":
			rec.SkipReason = fmt.Sprintf("scenario payoff %.2f%% below protection floor %.2f%%",
				rec.ScenarioPayoffPct, s.sizing.ProtectionFloor)
		}
	}

	return rec, nil
}

// skipBelowFloor is an internal marker resolved into the configured
// fallback behavior by Evaluate.
const skipBelowFloor = "__below_floor__"

func (s *Sizer) evaluateTemplate(ctx context.Context, snap models.MarketSnapshot, template models.HedgeTemplate, correlationID string) (*models.HedgeRecommendation, error) {
	tier := s.ClassifyVolTier(snap.VolatilityIndex)

	rec := &models.HedgeRecommendation{
		Underlying:      snap.Underlying,
		Template:        template,
		EvaluatedAt:     time.Now().UTC(),
		CorrelationID:   correlationID,
		VolatilityTier:  tier,
		VolatilityIndex: snap.VolatilityIndex,
		ScenarioMovePct: s.sizing.ScenarioMovePct,
		TargetDelta:     s.sizing.TargetDelta,
		TargetDTE:       s.sizing.TargetDTE,
	}

	// Step 1: soft monthly budget from the volatility tier. A
	// preference, not a ceiling.
	softBudget := snap.NAV * s.tierMonthlyRate(tier) / 100

	// Step 2: dampen intensity when volatility is rich. Outright
	// templates only: widening one leg's delta on a spread would
	// silently change the spread's width.
	targetDelta := s.sizing.TargetDelta
	targetDTE := s.sizing.TargetDTE
	targetPayoffPct := clamp(s.sizing.TargetPayoffPct, s.sizing.MinPayoffPct, s.sizing.MaxPayoffPct)
	if snap.VolatilityIndex >= s.sizing.VolRichLevel && template == models.TemplateTailFirst {
		targetDelta = s.sizing.WideDelta
		targetDTE = s.sizing.ExtendedDTE
		targetPayoffPct *= 1 - s.sizing.DampenFraction
		rec.DampenedForVol = true
	}
	rec.TargetDelta = targetDelta
	rec.TargetDTE = targetDTE
	rec.TargetPayoffPct = targetPayoffPct

	// Step 3: scenario sizing.
	spreadWidth := 0.0
	if template == models.TemplateSmoothing {
		spreadWidth = snap.SpotPrice * s.sizing.SpreadWidthPct / 100
	}
	result, err := ContractsForScenario(ScenarioInput{
		Spot:               snap.SpotPrice,
		Delta:              targetDelta,
		ScenarioMovePct:    s.sizing.ScenarioMovePct,
		TargetPayoffPct:    targetPayoffPct,
		LeverageFactor:     snap.LeverageFactor,
		NAV:                snap.NAV,
		ContractMultiplier: s.sizing.ContractMult,
		SpreadWidth:        spreadWidth,
	})
	if err != nil {
		return nil, err
	}

	rec.ContractsForTarget = result.Contracts
	rec.PerContractPayoff = result.PerContractPayoff

	if result.Contracts == 0 || result.PerContractPayoff <= 0 {
		rec.SkipReason = "scenario payoff is zero at the approximated strike"
		return rec, nil
	}

	// Step 4: the monthly hard cap always overrides the soft tier rate.
	hardCap := snap.NAV * s.budget.MonthlyCapPct / 100
	rec.PremiumBudget = math.Min(softBudget, hardCap)

	contracts := result.Contracts
	premium := result.EstimatedPremium

	// Step 5: clip to the maximum affordable count under the hard cap.
	if premium > hardCap {
		affordable := int(math.Floor(hardCap / result.PremiumPerContract))
		if affordable < 1 {
			rec.SkipReason = fmt.Sprintf("monthly cap %.2f cannot afford a single contract (premium %.2f each)",
				hardCap, result.PremiumPerContract)
			return rec, nil
		}
		targetPct := result.PerContractPayoff * float64(contracts) / snap.NAV * 100
		affordablePct := result.PerContractPayoff * float64(affordable) / snap.NAV * 100
		rec.WasClippedByBudget = true
		rec.ClipReport = fmt.Sprintf("target %d contracts (%.2f%% payoff) clipped to %d contracts (%.2f%% payoff) by monthly cap %.2f",
			contracts, targetPct, affordable, affordablePct, hardCap)
		contracts = affordable
		premium = result.PremiumPerContract * float64(contracts)
	}

	rec.Contracts = contracts
	rec.EstimatedPremium = premium
	rec.ScenarioPayoffPct = result.PerContractPayoff * float64(contracts) / snap.NAV * 100

	if result.Unaffordable && !rec.WasClippedByBudget {
		rec.SkipReason = fmt.Sprintf("target contract count %d exceeds sanity ceiling %d",
			result.Contracts, SanityCeiling)
		return rec, nil
	}

	// Step 6: re-check the clipped spend against the rolling annual cap.
	check, err := s.tracker.CheckSpendWithinCap(ctx,
		decimal.NewFromFloat(premium), decimal.NewFromFloat(snap.NAV))
	if err != nil {
		return nil, err
	}
	if !check.IsWithinCap {
		rec.SkipReason = fmt.Sprintf("annual premium cap exceeded: spend %s + proposed %s over cap %s (remaining %s)",
			check.CurrentSpend.StringFixed(2), check.ProposedSpend.StringFixed(2),
			check.CapAmount.StringFixed(2), check.RemainingCapacity.StringFixed(2))
		return rec, nil
	}

	// Step 7: protection floor. The fallback policy is resolved by the
	// caller so the switch_template retry stays bounded.
	if rec.ScenarioPayoffPct < s.sizing.ProtectionFloor {
		shortfall := fmt.Sprintf("scenario payoff %.2f%% below protection floor %.2f%%",
			rec.ScenarioPayoffPct, s.sizing.ProtectionFloor)
		if rec.ClipReport != "" {
			rec.ClipReport += "; " + shortfall
		} else {
			rec.ClipReport = shortfall
		}
		rec.SkipReason = skipBelowFloor
		return rec, nil
	}

	return rec, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
