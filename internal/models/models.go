// Package models provides domain models for the hedge engine.
package models

import (
	"time"
)

// PositionState represents the lifecycle state of a hedge position.
type PositionState string

const (
	PositionActive  PositionState = "ACTIVE"
	PositionClosed  PositionState = "CLOSED"
	PositionRolled  PositionState = "ROLLED"
	PositionExpired PositionState = "EXPIRED"
)

// RollState represents the roll lifecycle of a hedge position.
type RollState string

const (
	RollHolding     RollState = "HOLDING"
	RollPendingRoll RollState = "PENDING_ROLL"
	RollRolled      RollState = "ROLLED"
)

// HedgeTemplate identifies the hedge construction template.
type HedgeTemplate string

const (
	// TemplateTailFirst is an outright long put.
	TemplateTailFirst HedgeTemplate = "TAIL_FIRST"
	// TemplateSmoothing is a put debit spread.
	TemplateSmoothing HedgeTemplate = "SMOOTHING"
)

// Alternate returns the other hedge template.
func (t HedgeTemplate) Alternate() HedgeTemplate {
	if t == TemplateTailFirst {
		return TemplateSmoothing
	}
	return TemplateTailFirst
}

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OptionRight represents the option right.
type OptionRight string

const (
	RightPut  OptionRight = "PUT"
	RightCall OptionRight = "CALL"
)

// VolatilityTier classifies the current volatility regime.
type VolatilityTier string

const (
	VolTierLow  VolatilityTier = "LOW"
	VolTierMid  VolatilityTier = "MID"
	VolTierHigh VolatilityTier = "HIGH"
)

// HedgeLeg is a single option leg of a hedge position.
type HedgeLeg struct {
	OptionSymbol string
	Side         OrderSide
	Strike       float64
	Right        OptionRight
	EntryDelta   float64
	// CurrentDelta is the latest observed delta for this leg, tracked
	// independently per leg so the short leg of a spread can be watched
	// for assignment risk.
	CurrentDelta float64
}

// HedgePosition represents a single option (or option spread) held as
// downside protection.
type HedgePosition struct {
	ID         string
	Underlying string
	Template   HedgeTemplate
	IsSpread   bool

	// Legs holds one leg for an outright put, two (long then short) for
	// a spread.
	Legs []HedgeLeg

	Expiration     time.Time
	Contracts      int
	EntryPrice     float64 // net debit per contract
	EntryDelta     float64 // long-leg delta at entry
	EntryExtrinsic float64 // extrinsic value per contract at entry
	EntryTime      time.Time

	State     PositionState
	RollState RollState

	// RolledFrom links a replacement position back to the record it
	// replaced.
	RolledFrom string
}

// LongLeg returns the long leg of the position.
func (p *HedgePosition) LongLeg() *HedgeLeg {
	if len(p.Legs) == 0 {
		return nil
	}
	return &p.Legs[0]
}

// ShortLeg returns the short leg of a spread, or nil for outrights.
func (p *HedgePosition) ShortLeg() *HedgeLeg {
	if !p.IsSpread || len(p.Legs) < 2 {
		return nil
	}
	return &p.Legs[1]
}

// SpreadWidth returns the strike distance between the legs of a spread.
func (p *HedgePosition) SpreadWidth() float64 {
	short := p.ShortLeg()
	if short == nil {
		return 0
	}
	return p.Legs[0].Strike - short.Strike
}

// Notional returns the approximate notional protected by the position.
func (p *HedgePosition) Notional(multiplier float64) float64 {
	if len(p.Legs) == 0 {
		return 0
	}
	return p.Legs[0].Strike * float64(p.Contracts) * multiplier
}

// DTE returns whole days to expiration as of the given time.
func (p *HedgePosition) DTE(asOf time.Time) int {
	return int(p.Expiration.Sub(asOf).Hours() / 24)
}

// SafetyGate is the single shared halt record. While active, no new hedge
// placement may proceed. Write-once per activation; cleared only by an
// explicit, audited external action.
type SafetyGate struct {
	Active bool
	Reason string
	SetAt  time.Time
}
