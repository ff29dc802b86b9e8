// Package sizing translates a scenario-based protection target into a
// concrete hedge recommendation under the premium budget hierarchy.
package sizing

import (
	"math"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/errors"
)

const (
	// otmDistanceFactor converts delta distance from at-the-money into an
	// approximate strike offset. A deliberate simplification: it keeps a
	// full pricing model off the decision hot path.
	otmDistanceFactor = 0.5

	// premiumRuleFactor is the delta-scaled rule-of-thumb premium
	// estimate, as a fraction of spot notional.
	premiumRuleFactor = 0.02

	// spreadPremiumDiscount approximates the debit reduction from
	// financing a put spread with its short leg.
	spreadPremiumDiscount = 0.6

	// SanityCeiling is the contract count above which a result is
	// flagged unaffordable rather than silently accepted downstream.
	SanityCeiling = 10000
)

// ScenarioInput holds the inputs for a scenario payoff calculation.
type ScenarioInput struct {
	Spot               float64
	Delta              float64 // absolute put delta, in (0, 1)
	ScenarioMovePct    float64 // negative, e.g. -20
	TargetPayoffPct    float64 // pct of NAV, pre-leverage
	LeverageFactor     float64
	NAV                float64
	ContractMultiplier float64

	// SpreadWidth caps the per-contract payoff for spread templates.
	// Zero means outright.
	SpreadWidth float64
}

// ScenarioResult is the outcome of a scenario payoff calculation.
type ScenarioResult struct {
	Contracts          int
	PerContractPayoff  float64
	EstimatedPremium   float64 // total for Contracts
	PremiumPerContract float64
	TargetPayoffUSD    float64
	ApproxStrike       float64
	ScenarioPrice      float64

	// Unaffordable flags a contract count beyond the sanity ceiling.
	// The count is still returned for the audit trail.
	Unaffordable bool
}

// ContractsForScenario computes the smallest positive contract count whose
// scenario payoff meets the leverage-adjusted target, along with a
// rule-of-thumb premium estimate. Pure function.
func ContractsForScenario(in ScenarioInput) (*ScenarioResult, error) {
	if in.Spot <= 0 {
		return nil, errors.NewInvalidInputError("spot", in.Spot, "must be positive")
	}
	if in.Delta <= 0 || in.Delta >= 1 {
		return nil, errors.NewInvalidInputError("delta", in.Delta, "must be in (0, 1)")
	}
	if in.NAV < 0 {
		return nil, errors.NewInvalidInputError("nav", in.NAV, "must be non-negative")
	}
	if in.ContractMultiplier <= 0 {
		return nil, errors.NewInvalidInputError("contract_multiplier", in.ContractMultiplier, "must be positive")
	}
	if in.ScenarioMovePct >= 0 {
		return nil, errors.NewInvalidInputError("scenario_move_pct", in.ScenarioMovePct, "must be negative")
	}

	leverage := in.LeverageFactor
	if leverage <= 0 {
		leverage = 1
	}

	adjustedTargetPct := in.TargetPayoffPct * leverage
	targetUSD := in.NAV * adjustedTargetPct / 100

	// Approximate the strike from delta as an OTM-distance proxy.
	strike := in.Spot * (1 - (0.5-in.Delta)*otmDistanceFactor)
	scenarioPrice := in.Spot * (1 + in.ScenarioMovePct/100)

	perContract := math.Max(0, strike-scenarioPrice) * in.ContractMultiplier
	if in.SpreadWidth > 0 {
		perContract = math.Min(perContract, in.SpreadWidth*in.ContractMultiplier)
	}

	premiumPer := in.Spot * in.ContractMultiplier * in.Delta * premiumRuleFactor
	if in.SpreadWidth > 0 {
		premiumPer *= spreadPremiumDiscount
	}

	result := &ScenarioResult{
		PerContractPayoff:  perContract,
		PremiumPerContract: premiumPer,
		TargetPayoffUSD:    targetUSD,
		ApproxStrike:       strike,
		ScenarioPrice:      scenarioPrice,
	}

	if targetUSD <= 0 {
		return result, nil
	}
	if perContract <= 0 {
		// The approximated strike is inside the scenario move; no count
		// of these contracts yields scenario payoff.
		result.Unaffordable = true
		return result, nil
	}

	contracts := int(math.Ceil(targetUSD / perContract))
	if contracts < 1 {
		contracts = 1
	}
	result.Contracts = contracts
	result.EstimatedPremium = premiumPer * float64(contracts)
	result.Unaffordable = contracts > SanityCeiling

	return result, nil
}
