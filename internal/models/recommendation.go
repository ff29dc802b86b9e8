package models

import "time"

// HedgeRecommendation is the engine's sizing decision for one evaluation
// of one underlying. Immutable once produced.
type HedgeRecommendation struct {
	Underlying  string
	Template    HedgeTemplate
	EvaluatedAt time.Time

	// Correlation ties the recommendation back to the triggering cycle
	// invocation for idempotent re-delivery.
	CorrelationID string

	TargetDelta   float64
	TargetDTE     int
	PremiumBudget float64

	TargetPayoffPct  float64
	ScenarioMovePct  float64
	VolatilityTier   VolatilityTier
	VolatilityIndex  float64
	DampenedForVol   bool
	SwitchedTemplate bool

	// ContractsForTarget is the pre-clip count PayoffCalculator asked
	// for; Contracts is the final recommendation after budget clipping.
	ContractsForTarget int
	Contracts          int
	EstimatedPremium   float64
	PerContractPayoff  float64
	ScenarioPayoffPct  float64

	WasClippedByBudget bool
	ClipReport         string

	// SkipReason is non-empty when the evaluation produced no placeable
	// hedge. A skip is a decision, not an error.
	SkipReason string
}

// Skipped reports whether the recommendation declines to hedge.
func (r *HedgeRecommendation) Skipped() bool {
	return r.SkipReason != ""
}
