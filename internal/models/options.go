package models

import "time"

// OptionGreeks represents option greeks from the quote provider. Gamma
// may be zero when the provider does not supply second-order greeks.
type OptionGreeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// OptionQuote represents one contract in a chain snapshot.
type OptionQuote struct {
	Symbol     string
	Underlying string
	Right      OptionRight
	Strike     float64
	Expiration time.Time
	Bid        float64
	Ask        float64
	OI         int64
	Volume     int64
	IV         float64
	Greeks     OptionGreeks
}

// Mid returns the bid/ask midpoint.
func (q *OptionQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// SpreadAbs returns the absolute bid/ask spread.
func (q *OptionQuote) SpreadAbs() float64 {
	return q.Ask - q.Bid
}

// SpreadRel returns the spread relative to mid, or 1 when mid is zero.
func (q *OptionQuote) SpreadRel() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return 1
	}
	return (q.Ask - q.Bid) / mid
}

// HasGamma reports whether second-order greeks are available.
func (q *OptionQuote) HasGamma() bool {
	return q.Greeks.Gamma > 0
}

// OptionChain represents a chain snapshot for one underlying.
type OptionChain struct {
	Underlying string
	SpotPrice  float64
	AsOf       time.Time
	Quotes     []OptionQuote
}

// MarketSnapshot carries the externally supplied market inputs for one
// evaluation cycle. The engine never fetches these itself.
type MarketSnapshot struct {
	Underlying      string
	SpotPrice       float64
	NAV             float64
	LeverageFactor  float64
	ExposureRatio   float64
	VolatilityIndex float64
	// VolPercentile is the trailing percentile of implied volatility,
	// used by tenor policy. Optional; negative means unavailable.
	VolPercentile float64
	AsOf          time.Time
}
