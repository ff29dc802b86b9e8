// Package lifecycle contains the per-cycle checks over existing hedge
// positions: roll triggers, assignment risk, and emergency unwind.
package lifecycle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/audit"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/config"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/metrics"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/store"
)

// RollObservation carries the market observations for one position at
// evaluation time. Supplied externally; the evaluator never fetches data.
type RollObservation struct {
	LongDelta      float64
	ShortDelta     float64 // spreads only
	ExtrinsicValue float64 // per share, long leg
	SkewZScore     float64 // deviation from trailing baseline, in stdevs
	HasSkew        bool
	SpreadValue    float64 // current spread value per share
}

// RollEvaluator runs the template-specific roll trigger sets over active
// positions. Triggers are checked in fixed priority order: the primary
// first, then the secondaries, first match wins.
type RollEvaluator struct {
	cfg    config.RollConfig
	store  store.DataStore
	audit  audit.Recorder
	logger zerolog.Logger
}

// NewRollEvaluator creates a roll evaluator.
func NewRollEvaluator(cfg config.RollConfig, dataStore store.DataStore, recorder audit.Recorder, logger zerolog.Logger) *RollEvaluator {
	return &RollEvaluator{
		cfg:    cfg,
		store:  dataStore,
		audit:  recorder,
		logger: logger,
	}
}

// Evaluate checks one position against its template's trigger set. When a
// trigger fires the position transitions Holding -> PendingRoll and an
// auditable record naming the exact reason is persisted, whether or not
// the subsequent roll succeeds. Returns nil when no trigger fired.
func (e *RollEvaluator) Evaluate(ctx context.Context, pos *models.HedgePosition, obs RollObservation, asOf time.Time) (*models.RollTriggerRecord, error) {
	if pos.State != models.PositionActive || pos.RollState != models.RollHolding {
		return nil, nil
	}

	var reason models.RollReason
	var detail string
	var fired bool

	switch pos.Template {
	case models.TemplateSmoothing:
		reason, detail, fired = e.checkSmoothing(pos, obs, asOf)
	default:
		reason, detail, fired = e.checkTailFirst(pos, obs, asOf)
	}
	if !fired {
		return nil, nil
	}

	record := &models.RollTriggerRecord{
		ID:         ulid.Make().String(),
		PositionID: pos.ID,
		Underlying: pos.Underlying,
		Template:   pos.Template,
		Reason:     reason,
		Detail:     detail,
		FiredAt:    asOf,
	}

	pos.RollState = models.RollPendingRoll
	if err := e.store.UpdatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("transitioning position to pending roll: %w", err)
	}
	if err := e.store.SaveRollTrigger(ctx, record); err != nil {
		return nil, fmt.Errorf("saving roll trigger: %w", err)
	}

	metrics.RollTriggersTotal.WithLabelValues(string(reason)).Inc()
	_ = e.audit.Log(ctx, audit.Event{
		EventType:  audit.EventRollTriggered,
		Underlying: pos.Underlying,
		PositionID: pos.ID,
		Action:     string(reason),
		Success:    true,
		Details:    map[string]interface{}{"detail": detail},
	})
	e.logger.Info().
		Str("position_id", pos.ID).
		Str("reason", string(reason)).
		Str("detail", detail).
		Msg("Roll trigger fired")

	return record, nil
}

// checkTailFirst checks the outright-put trigger set. Days-to-expiration
// is the primary; secondaries run only when it has not fired.
func (e *RollEvaluator) checkTailFirst(pos *models.HedgePosition, obs RollObservation, asOf time.Time) (models.RollReason, string, bool) {
	cfg := e.cfg.TailFirst

	if dte := pos.DTE(asOf); dte <= cfg.MinDTE {
		return models.RollReasonDTE, fmt.Sprintf("dte %d at or below threshold %d", dte, cfg.MinDTE), true
	}

	if drift := math.Abs(obs.LongDelta - pos.EntryDelta); drift >= cfg.DeltaDriftPoints {
		return models.RollReasonDeltaDrift,
			fmt.Sprintf("delta drift %.3f beyond threshold %.3f (entry %.3f, now %.3f)",
				drift, cfg.DeltaDriftPoints, pos.EntryDelta, obs.LongDelta), true
	}

	if pos.EntryExtrinsic > 0 && obs.ExtrinsicValue < pos.EntryExtrinsic*cfg.ExtrinsicDecayFrac {
		return models.RollReasonExtrinsicDecay,
			fmt.Sprintf("extrinsic %.2f below %.0f%% of entry %.2f",
				obs.ExtrinsicValue, cfg.ExtrinsicDecayFrac*100, pos.EntryExtrinsic), true
	}

	if obs.HasSkew && math.Abs(obs.SkewZScore) >= cfg.SkewDeviationStdev {
		return models.RollReasonSkewDeviation,
			fmt.Sprintf("implied skew %.2f stdev from trailing baseline (threshold %.2f)",
				obs.SkewZScore, cfg.SkewDeviationStdev), true
	}

	return "", "", false
}

// checkSmoothing checks the put-spread trigger set. The fixed time
// cadence is the primary. The short-leg drift check is an early-warning
// signal with a smaller threshold than the long leg; it is distinct from
// assignment-risk monitoring.
func (e *RollEvaluator) checkSmoothing(pos *models.HedgePosition, obs RollObservation, asOf time.Time) (models.RollReason, string, bool) {
	cfg := e.cfg.Smoothing

	cadence := time.Duration(cfg.CadenceDays) * 24 * time.Hour
	if held := asOf.Sub(pos.EntryTime); held >= cadence {
		return models.RollReasonCadence,
			fmt.Sprintf("held %.0f days, cadence %d days", held.Hours()/24, cfg.CadenceDays), true
	}

	if width := pos.SpreadWidth(); width > 0 && obs.SpreadValue < width*cfg.MinValueFrac {
		return models.RollReasonSpreadValue,
			fmt.Sprintf("spread value %.2f below %.0f%% of max width %.2f",
				obs.SpreadValue, cfg.MinValueFrac*100, width), true
	}

	if drift := math.Abs(obs.LongDelta - pos.Legs[0].EntryDelta); drift >= cfg.LongDriftPoints {
		return models.RollReasonLongLegDrift,
			fmt.Sprintf("long-leg delta drift %.3f beyond threshold %.3f", drift, cfg.LongDriftPoints), true
	}

	if short := pos.ShortLeg(); short != nil {
		if drift := math.Abs(obs.ShortDelta - short.EntryDelta); drift >= cfg.ShortDriftPoints {
			return models.RollReasonShortLegDrift,
				fmt.Sprintf("short-leg delta drift %.3f beyond early-warning threshold %.3f", drift, cfg.ShortDriftPoints), true
		}
	}

	return "", "", false
}

// MarkRolled finalizes a roll: the old record becomes terminal and the
// replacement starts a fresh lifecycle instance linked back to it.
func (e *RollEvaluator) MarkRolled(ctx context.Context, old, replacement *models.HedgePosition) error {
	if old.RollState != models.RollPendingRoll {
		return fmt.Errorf("position %s is not pending roll", old.ID)
	}

	old.RollState = models.RollRolled
	old.State = models.PositionRolled
	if err := e.store.UpdatePosition(ctx, old); err != nil {
		return fmt.Errorf("closing rolled position: %w", err)
	}

	replacement.State = models.PositionActive
	replacement.RollState = models.RollHolding
	replacement.RolledFrom = old.ID
	if err := e.store.SavePosition(ctx, replacement); err != nil {
		return fmt.Errorf("saving replacement position: %w", err)
	}

	_ = e.audit.Log(ctx, audit.Event{
		EventType:  audit.EventRollCompleted,
		Underlying: old.Underlying,
		PositionID: old.ID,
		Success:    true,
		Details:    map[string]interface{}{"replacement_id": replacement.ID},
	})
	return nil
}
