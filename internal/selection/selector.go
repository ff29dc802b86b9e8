// Package selection picks the best available contract for a hedge under
// liquidity and convexity constraints. Pure over a chain snapshot.
package selection

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/config"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
)

// Tenor windows by volatility regime, in days to expiration. Low vol
// prefers shorter or laddered tenors; rich vol prefers slower decay.
const (
	lowVolMinDTE  = 60
	lowVolMaxDTE  = 90
	highVolMinDTE = 120
	highVolMaxDTE = 180
	midVolBandDTE = 30

	// richVolPercentile marks high-percentile implied volatility, which
	// forces the long-tenor window regardless of tier.
	richVolPercentile = 80.0
)

// Criteria describes the contract the sizer asked for.
type Criteria struct {
	TargetDelta        float64
	TargetDTE          int
	Tier               models.VolatilityTier
	VolPercentile      float64 // negative when unavailable
	ScenarioMovePct    float64
	ContractMultiplier float64
	StrikeMin          float64 // zero disables the bound
	StrikeMax          float64 // zero disables the bound
	// Ladder requests a second expiration in low-vol regimes, splitting
	// the position across two tenors.
	Ladder bool
}

// Selection is the chosen contract, plus an optional ladder leg.
type Selection struct {
	Primary *models.OptionQuote
	Ladder  *models.OptionQuote
	Score   float64
	// FallbackScoring is set when second-order greeks were unavailable
	// and the delta/expiry-distance score was used instead.
	FallbackScoring bool
}

// Selector filters and ranks candidate contracts.
type Selector struct {
	cfg    config.LiquidityConfig
	logger zerolog.Logger
}

// NewSelector creates a contract selector.
func NewSelector(cfg config.LiquidityConfig, logger zerolog.Logger) *Selector {
	return &Selector{cfg: cfg, logger: logger}
}

// Select returns the best put contract in the snapshot for the given
// criteria. A nil selection with a non-empty reason is a skip condition
// for the cycle, not a retryable error.
func (s *Selector) Select(chain *models.OptionChain, criteria Criteria) (*Selection, string) {
	if chain == nil || len(chain.Quotes) == 0 {
		return nil, "no suitable contract: empty chain snapshot"
	}

	minDTE, maxDTE := s.tenorWindow(criteria)
	candidates := s.filter(chain, criteria, minDTE, maxDTE)
	if len(candidates) == 0 {
		return nil, fmt.Sprintf("no suitable contract: no candidate passed the liquidity gate in %d-%d DTE", minDTE, maxDTE)
	}

	scenarioPrice := chain.SpotPrice * (1 + criteria.ScenarioMovePct/100)

	type scored struct {
		quote    models.OptionQuote
		score    float64
		fallback bool
	}
	ranked := make([]scored, 0, len(candidates))
	for _, q := range candidates {
		score, fallback := s.score(q, criteria, scenarioPrice, chain.AsOf)
		ranked = append(ranked, scored{quote: q, score: score, fallback: fallback})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	best := ranked[0]
	sel := &Selection{
		Primary:         &best.quote,
		Score:           best.score,
		FallbackScoring: best.fallback,
	}

	// Low-vol ladder: split across two expirations when a second
	// candidate with a distinct expiration survives.
	if criteria.Ladder && criteria.Tier == models.VolTierLow {
		for i := 1; i < len(ranked); i++ {
			if !ranked[i].quote.Expiration.Equal(best.quote.Expiration) {
				sel.Ladder = &ranked[i].quote
				break
			}
		}
	}

	return sel, ""
}

// tenorWindow returns the DTE window for the volatility regime.
func (s *Selector) tenorWindow(criteria Criteria) (int, int) {
	if criteria.Tier == models.VolTierHigh || criteria.VolPercentile >= richVolPercentile {
		return highVolMinDTE, highVolMaxDTE
	}
	if criteria.Tier == models.VolTierLow {
		return lowVolMinDTE, lowVolMaxDTE
	}
	return criteria.TargetDTE - midVolBandDTE, criteria.TargetDTE + midVolBandDTE
}

func (s *Selector) filter(chain *models.OptionChain, criteria Criteria, minDTE, maxDTE int) []models.OptionQuote {
	var out []models.OptionQuote
	for _, q := range chain.Quotes {
		if q.Right != models.RightPut {
			continue
		}
		dte := int(q.Expiration.Sub(chain.AsOf).Hours() / 24)
		if dte < minDTE || dte > maxDTE {
			continue
		}
		if criteria.StrikeMin > 0 && q.Strike < criteria.StrikeMin {
			continue
		}
		if criteria.StrikeMax > 0 && q.Strike > criteria.StrikeMax {
			continue
		}
		if q.OI < s.cfg.MinOpenInterest {
			continue
		}
		if q.Volume < s.cfg.MinVolume {
			continue
		}
		if q.Mid() < s.cfg.MinMidPrice {
			continue
		}
		if q.SpreadAbs() > s.cfg.MaxSpreadAbs {
			continue
		}
		if q.SpreadRel() > s.cfg.MaxSpreadRel {
			continue
		}
		out = append(out, q)
	}
	return out
}

// score ranks a candidate by effective convexity plus scenario payoff
// contribution, preferring contracts whose scenario payoff is at least the
// configured multiple of their premium. Falls back to delta/expiry
// distance when second-order greeks are unavailable.
func (s *Selector) score(q models.OptionQuote, criteria Criteria, scenarioPrice float64, asOf time.Time) (float64, bool) {
	premium := q.Mid() * criteria.ContractMultiplier
	payoff := math.Max(0, q.Strike-scenarioPrice) * criteria.ContractMultiplier

	if !q.HasGamma() {
		deltaDist := math.Abs(math.Abs(q.Greeks.Delta) - criteria.TargetDelta)
		dte := q.Expiration.Sub(asOf).Hours() / 24
		dteDist := math.Abs(dte-float64(criteria.TargetDTE)) / 30
		return 1 / (1 + deltaDist*10 + dteDist), true
	}

	convexity := q.Greeks.Gamma / (q.Mid() * criteria.ContractMultiplier)
	score := convexity * 1000
	if premium > 0 {
		ratio := payoff / premium
		score += ratio / 10
		if ratio >= s.cfg.MinPayoffPremiumRatio {
			score *= 1.25
		}
	}
	return score, false
}
