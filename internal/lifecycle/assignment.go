package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/audit"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/broker"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/config"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/errors"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/metrics"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/store"
)

// GateRaiser raises the shared safety gate. Implemented by engine.Gate.
type GateRaiser interface {
	Raise(ctx context.Context, reason string) error
}

// AssignmentMonitor watches the short leg of spread positions for
// assignment risk and runs the remediation ladder when a band is reached.
type AssignmentMonitor struct {
	cfg    config.SmoothingRollConfig
	broker broker.Broker
	store  store.DataStore
	gate   GateRaiser
	audit  audit.Recorder
	logger zerolog.Logger

	mu             sync.Mutex
	criticalStreak map[string]int
}

// NewAssignmentMonitor creates an assignment risk monitor.
func NewAssignmentMonitor(cfg config.SmoothingRollConfig, b broker.Broker, dataStore store.DataStore, gate GateRaiser, recorder audit.Recorder, logger zerolog.Logger) *AssignmentMonitor {
	return &AssignmentMonitor{
		cfg:            cfg,
		broker:         b,
		store:          dataStore,
		gate:           gate,
		audit:          recorder,
		logger:         logger,
		criticalStreak: make(map[string]int),
	}
}

// ClassifyBand maps a short-leg delta to an assignment risk band. Band
// starts are inclusive: 0.80 is high, 0.90 is critical; at or below the
// warning bound is no risk.
func (m *AssignmentMonitor) ClassifyBand(delta float64) models.AssignmentBand {
	switch {
	case delta >= m.cfg.AssignmentCritical:
		return models.AssignmentCritical
	case delta >= m.cfg.AssignmentHigh:
		return models.AssignmentHigh
	case delta > m.cfg.AssignmentWarn:
		return models.AssignmentWarning
	default:
		return models.AssignmentNone
	}
}

// Check evaluates one position's short leg. Every warning-or-above
// observation is recorded even when no remediation is attempted. Returns
// nil when the position carries no assignment risk.
func (m *AssignmentMonitor) Check(ctx context.Context, pos *models.HedgePosition, shortDelta float64, asOf time.Time) (*models.AssignmentRecord, error) {
	short := pos.ShortLeg()
	if short == nil || pos.State != models.PositionActive {
		return nil, nil
	}

	prevBand := m.ClassifyBand(short.CurrentDelta)
	band := m.ClassifyBand(shortDelta)

	short.CurrentDelta = shortDelta
	if err := m.store.UpdatePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("updating short-leg delta: %w", err)
	}

	if band == models.AssignmentNone {
		m.resetStreak(pos.ID)
		return nil, nil
	}

	record := &models.AssignmentRecord{
		ID:           ulid.Make().String(),
		PositionID:   pos.ID,
		Underlying:   pos.Underlying,
		ShortDelta:   shortDelta,
		Band:         band,
		PreviousBand: prevBand,
		Action:       models.ActionNone,
		DetectedAt:   asOf,
	}

	metrics.AssignmentDetectionsTotal.WithLabelValues(string(band)).Inc()

	var remErr error
	if band == models.AssignmentWarning {
		// Low urgency: proactively roll the entire spread ahead of
		// further escalation.
		record.Action = models.ActionRollSpread
		record.Resolved = true
		record.Detail = "proactive roll requested ahead of escalation"
		if pos.RollState == models.RollHolding {
			pos.RollState = models.RollPendingRoll
			if err := m.store.UpdatePosition(ctx, pos); err != nil {
				return nil, fmt.Errorf("marking spread for proactive roll: %w", err)
			}
		}
	} else {
		remErr = m.remediate(ctx, pos, record)
	}

	if err := m.store.SaveAssignment(ctx, record); err != nil {
		return nil, fmt.Errorf("saving assignment record: %w", err)
	}
	_ = m.audit.Log(ctx, audit.Event{
		EventType:  audit.EventAssignmentDetected,
		Underlying: pos.Underlying,
		PositionID: pos.ID,
		Action:     string(record.Action),
		Success:    record.Resolved,
		ErrorMsg:   record.Detail,
		Details: map[string]interface{}{
			"short_delta":   shortDelta,
			"band":          string(band),
			"previous_band": string(prevBand),
		},
	})
	m.logger.Warn().
		Str("position_id", pos.ID).
		Float64("short_delta", shortDelta).
		Str("band", string(band)).
		Str("action", string(record.Action)).
		Msg("Assignment risk detected")

	if band == models.AssignmentCritical {
		if m.bumpStreak(pos.ID) >= m.cfg.CriticalGateCount {
			if err := m.gate.Raise(ctx, fmt.Sprintf("repeated critical assignment risk on %s (short delta %.2f)", pos.ID, shortDelta)); err != nil {
				return record, err
			}
		}
	} else {
		m.resetStreak(pos.ID)
	}

	if remErr != nil {
		return record, remErr
	}
	return record, nil
}

// CheckAll evaluates every active spread. Simultaneous critical
// detections in one cycle raise the safety gate even when each position's
// own streak is below the repeat threshold.
func (m *AssignmentMonitor) CheckAll(ctx context.Context, positions []models.HedgePosition, shortDeltas map[string]float64, asOf time.Time) ([]models.AssignmentRecord, error) {
	var records []models.AssignmentRecord
	var firstErr error
	criticals := 0

	for i := range positions {
		pos := &positions[i]
		delta, ok := shortDeltas[pos.ID]
		if !ok {
			continue
		}
		record, err := m.Check(ctx, pos, delta, asOf)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if record != nil {
			records = append(records, *record)
			if record.Band == models.AssignmentCritical {
				criticals++
			}
		}
	}

	if criticals >= 2 {
		if err := m.gate.Raise(ctx, fmt.Sprintf("%d simultaneous critical assignment detections", criticals)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return records, firstErr
}

// remediate runs the remediation ladder for high or critical bands:
// exercise the paired long leg first, close both legs at market on
// failure. An exhausted ladder escalates to the safety gate.
func (m *AssignmentMonitor) remediate(ctx context.Context, pos *models.HedgePosition, record *models.AssignmentRecord) error {
	var attempts []string

	// (a) exercise the paired long leg to offset immediately.
	long := pos.LongLeg()
	exerciseErr := m.broker.ExerciseOption(ctx, long.OptionSymbol, pos.Contracts)
	if exerciseErr == nil {
		record.Action = models.ActionExerciseLong
		record.Resolved = true
		record.Detail = "paired long leg exercised"
		return m.closeOut(ctx, pos, record)
	}
	attempts = append(attempts, fmt.Sprintf("exercise: %v", exerciseErr))

	// (b) close both legs at market.
	closeErr := m.closeBothLegs(ctx, pos)
	if closeErr == nil {
		record.Action = models.ActionCloseBoth
		record.Resolved = true
		record.Detail = fmt.Sprintf("both legs closed at market after exercise failure: %v", exerciseErr)
		return m.closeOut(ctx, pos, record)
	}
	attempts = append(attempts, fmt.Sprintf("close: %v", closeErr))

	record.Action = models.ActionCloseBoth
	record.Resolved = false
	record.Detail = fmt.Sprintf("remediation exhausted: %v", attempts)

	err := errors.NewAssignmentUnresolvedError(pos.ID, record.ShortDelta, attempts, closeErr)
	_ = m.audit.Log(ctx, audit.Event{
		EventType:  audit.EventAssignmentUnresolved,
		Underlying: pos.Underlying,
		PositionID: pos.ID,
		Success:    false,
		ErrorMsg:   err.Error(),
	})
	if gateErr := m.gate.Raise(ctx, err.Error()); gateErr != nil {
		return gateErr
	}
	return err
}

func (m *AssignmentMonitor) closeBothLegs(ctx context.Context, pos *models.HedgePosition) error {
	for i := range pos.Legs {
		leg := &pos.Legs[i]
		side := models.OrderSideSell
		if leg.Side == models.OrderSideSell {
			side = models.OrderSideBuy
		}
		result, err := m.broker.PlaceOrder(ctx, &broker.Order{
			Symbol:     leg.OptionSymbol,
			Underlying: pos.Underlying,
			Side:       side,
			Type:       models.OrderTypeMarket,
			Contracts:  pos.Contracts,
		})
		if err != nil {
			return err
		}
		if result.Status == broker.OrderRejected {
			return fmt.Errorf("close order rejected for %s: %s", leg.OptionSymbol, result.Message)
		}
	}
	return nil
}

func (m *AssignmentMonitor) closeOut(ctx context.Context, pos *models.HedgePosition, record *models.AssignmentRecord) error {
	pos.State = models.PositionClosed
	if err := m.store.UpdatePosition(ctx, pos); err != nil {
		return fmt.Errorf("closing remediated position: %w", err)
	}
	_ = m.audit.Log(ctx, audit.Event{
		EventType:  audit.EventAssignmentRemediated,
		Underlying: pos.Underlying,
		PositionID: pos.ID,
		Action:     string(record.Action),
		Success:    true,
	})
	return nil
}

func (m *AssignmentMonitor) bumpStreak(positionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.criticalStreak[positionID]++
	return m.criticalStreak[positionID]
}

func (m *AssignmentMonitor) resetStreak(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.criticalStreak, positionID)
}
