package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/audit"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/broker"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/errors"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/metrics"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/store"
)

// UnwindController is the terminal authority for forced liquidation. It
// maps the three severity levels to the three unwind procedures and owns
// the post-unwind reconciliation obligation.
type UnwindController struct {
	broker            broker.Broker
	store             store.DataStore
	audit             audit.Recorder
	logger            zerolog.Logger
	contractMult      float64
	highRiskDelta     float64 // short-leg delta marking a position high assignment risk
	fillVerifyTimeout time.Duration
	pollInterval      time.Duration
}

// NewUnwindController creates the emergency unwind controller.
func NewUnwindController(b broker.Broker, dataStore store.DataStore, recorder audit.Recorder, logger zerolog.Logger, contractMult, highRiskDelta float64, fillVerifyTimeout time.Duration) *UnwindController {
	if fillVerifyTimeout <= 0 {
		fillVerifyTimeout = 30 * time.Second
	}
	return &UnwindController{
		broker:            b,
		store:             dataStore,
		audit:             recorder,
		logger:            logger,
		contractMult:      contractMult,
		highRiskDelta:     highRiskDelta,
		fillVerifyTimeout: fillVerifyTimeout,
		pollInterval:      250 * time.Millisecond,
	}
}

// Execute runs the unwind procedure for the given severity over every
// active position, then reconciles broker state against the local store.
// A reconciliation mismatch is returned as an error for manual review; it
// is never resolved automatically.
func (c *UnwindController) Execute(ctx context.Context, severity models.UnwindSeverity, reason string) (*models.UnwindRecord, error) {
	record := &models.UnwindRecord{
		ID:          ulid.Make().String(),
		Severity:    severity,
		Reason:      reason,
		InitiatedAt: time.Now().UTC(),
	}
	if err := c.store.SaveUnwind(ctx, record); err != nil {
		return nil, fmt.Errorf("recording unwind initiation: %w", err)
	}
	metrics.UnwindsTotal.WithLabelValues(string(severity)).Inc()
	_ = c.audit.Log(ctx, audit.Event{
		EventType: audit.EventUnwindInitiated,
		Action:    string(severity),
		Success:   true,
		ErrorMsg:  reason,
	})
	c.logger.Warn().
		Str("unwind_id", record.ID).
		Str("severity", string(severity)).
		Str("reason", reason).
		Msg("Emergency unwind initiated")

	positions, err := c.store.ListPositions(ctx, store.PositionFilter{State: models.PositionActive})
	if err != nil {
		return record, fmt.Errorf("listing active positions: %w", err)
	}
	record.PositionsSeen = len(positions)

	switch severity {
	case models.SeverityDislocation:
		c.rapidUnwind(ctx, record, positions)
	case models.SeverityAccountRisk:
		err = c.brokerAssistedUnwind(ctx, record, positions)
	default:
		c.controlledUnwind(ctx, record, positions)
	}
	if err != nil {
		return record, err
	}

	record.CompletedAt = time.Now().UTC()
	if saveErr := c.store.SaveUnwind(ctx, record); saveErr != nil {
		return record, fmt.Errorf("recording unwind completion: %w", saveErr)
	}
	_ = c.audit.Log(ctx, audit.Event{
		EventType: audit.EventUnwindCompleted,
		Action:    string(severity),
		Success:   record.Failed == 0,
		Details: map[string]interface{}{
			"positions_seen": record.PositionsSeen,
			"closed":         record.Closed,
			"failed":         record.Failed,
		},
	})

	return record, c.Reconcile(ctx, record.ID)
}

// RankForUnwind orders positions for the controlled procedure: high
// assignment risk first, then by notional descending, then the rest. The
// ordering is total, so every high-risk position closes strictly before
// any standard one regardless of input order.
func (c *UnwindController) RankForUnwind(positions []models.HedgePosition) []models.HedgePosition {
	ranked := make([]models.HedgePosition, len(positions))
	copy(ranked, positions)
	sort.SliceStable(ranked, func(i, j int) bool {
		hi := c.isHighRisk(&ranked[i])
		hj := c.isHighRisk(&ranked[j])
		if hi != hj {
			return hi
		}
		return ranked[i].Notional(c.contractMult) > ranked[j].Notional(c.contractMult)
	})
	return ranked
}

func (c *UnwindController) isHighRisk(p *models.HedgePosition) bool {
	short := p.ShortLeg()
	return short != nil && short.CurrentDelta >= c.highRiskDelta
}

// controlledUnwind closes ranked positions sequentially, verifying each
// fill before the next order.
func (c *UnwindController) controlledUnwind(ctx context.Context, record *models.UnwindRecord, positions []models.HedgePosition) {
	for _, pos := range c.RankForUnwind(positions) {
		if err := c.closePosition(ctx, &pos, true); err != nil {
			record.Failed++
			c.logStep(ctx, record.ID, pos.ID, err)
			continue
		}
		record.Closed++
		c.logStep(ctx, record.ID, pos.ID, nil)
	}
}

// rapidUnwind submits close orders for every position simultaneously,
// accepting slippage and out-of-order completion for speed. No ranking,
// no serialization between fills; reconciliation follows instead.
func (c *UnwindController) rapidUnwind(ctx context.Context, record *models.UnwindRecord, positions []models.HedgePosition) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range positions {
		pos := positions[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.closePosition(ctx, &pos, false)
			mu.Lock()
			if err != nil {
				record.Failed++
			} else {
				record.Closed++
			}
			mu.Unlock()
			c.logStep(ctx, record.ID, pos.ID, err)
		}()
	}
	wg.Wait()
}

// brokerAssistedUnwind is used only when the automated paths are
// unavailable: the broker liquidates out-of-band and the confirmed state
// is recorded back into the position store after the fact.
func (c *UnwindController) brokerAssistedUnwind(ctx context.Context, record *models.UnwindRecord, positions []models.HedgePosition) error {
	reported, err := c.broker.GetAccountPositions(ctx)
	if err != nil {
		return errors.NewBrokerError("account_positions", "", "broker-assisted unwind requires broker state", err)
	}

	held := make(map[string]int, len(reported))
	for _, ap := range reported {
		held[ap.Symbol] = ap.Contracts
	}

	for i := range positions {
		pos := &positions[i]
		remaining := false
		for _, leg := range pos.Legs {
			if held[leg.OptionSymbol] != 0 {
				remaining = true
				break
			}
		}
		if remaining {
			record.Failed++
			c.logStep(ctx, record.ID, pos.ID, fmt.Errorf("broker still reports open legs"))
			continue
		}
		pos.State = models.PositionClosed
		if err := c.store.UpdatePosition(ctx, pos); err != nil {
			record.Failed++
			c.logStep(ctx, record.ID, pos.ID, err)
			continue
		}
		record.Closed++
		c.logStep(ctx, record.ID, pos.ID, nil)
	}
	return nil
}

// closePosition submits close orders for every leg of a position. With
// verify set, each order's fill is confirmed before the next is placed.
func (c *UnwindController) closePosition(ctx context.Context, pos *models.HedgePosition, verify bool) error {
	for i := range pos.Legs {
		leg := &pos.Legs[i]
		side := models.OrderSideSell
		if leg.Side == models.OrderSideSell {
			side = models.OrderSideBuy
		}
		result, err := c.broker.PlaceOrder(ctx, &broker.Order{
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
		if verify {
			if err := c.verifyFill(ctx, result); err != nil {
				return err
			}
		}
	}

	pos.State = models.PositionClosed
	if err := c.store.UpdatePosition(ctx, pos); err != nil {
		return fmt.Errorf("recording closed position: %w", err)
	}
	return nil
}

func (c *UnwindController) verifyFill(ctx context.Context, result *broker.OrderResult) error {
	if result.Status == broker.OrderFilled {
		return nil
	}
	deadline := time.Now().Add(c.fillVerifyTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
		status, err := c.broker.GetOrderStatus(ctx, result.OrderID)
		if err != nil {
			return err
		}
		if status.Status == broker.OrderFilled {
			return nil
		}
		if status.Status == broker.OrderRejected || status.Status == broker.OrderCanceled {
			return fmt.Errorf("order %s terminal without fill: %s", result.OrderID, status.Status)
		}
	}
	return errors.Wrapf(errors.ErrTimeout, "order %s unfilled after %s", result.OrderID, c.fillVerifyTimeout)
}

// Reconcile compares broker-reported positions against the local store
// after an unwind. Every mismatch is persisted as a discrepancy requiring
// manual review and surfaced as an error; nothing is auto-resolved.
func (c *UnwindController) Reconcile(ctx context.Context, unwindID string) error {
	reported, err := c.broker.GetAccountPositions(ctx)
	if err != nil {
		return errors.NewBrokerError("account_positions", "", "post-unwind reconciliation failed", err)
	}
	held := make(map[string]int, len(reported))
	for _, ap := range reported {
		held[ap.Symbol] = ap.Contracts
	}

	local, err := c.store.ListPositions(ctx, store.PositionFilter{})
	if err != nil {
		return fmt.Errorf("listing local positions: %w", err)
	}

	found := 0
	now := time.Now().UTC()
	for i := range local {
		pos := &local[i]
		for _, leg := range pos.Legs {
			expected := 0
			if pos.State == models.PositionActive {
				expected = pos.Contracts
				if leg.Side == models.OrderSideSell {
					expected = -pos.Contracts
				}
			}
			if held[leg.OptionSymbol] == expected {
				continue
			}
			found++
			d := &models.ReconciliationDiscrepancy{
				ID:         ulid.Make().String(),
				UnwindID:   unwindID,
				PositionID: pos.ID,
				Expected:   fmt.Sprintf("%s: %d contracts (state %s)", leg.OptionSymbol, expected, pos.State),
				Reported:   fmt.Sprintf("%s: %d contracts", leg.OptionSymbol, held[leg.OptionSymbol]),
				FoundAt:    now,
			}
			if err := c.store.SaveDiscrepancy(ctx, d); err != nil {
				return fmt.Errorf("saving discrepancy: %w", err)
			}
			_ = c.audit.Log(ctx, audit.Event{
				EventType:  audit.EventDiscrepancy,
				PositionID: pos.ID,
				Success:    false,
				ErrorMsg:   fmt.Sprintf("expected %s, broker reports %s", d.Expected, d.Reported),
			})
		}
	}

	if found > 0 {
		return errors.NewReconciliationError(unwindID, found)
	}
	return nil
}

func (c *UnwindController) logStep(ctx context.Context, unwindID, positionID string, err error) {
	event := audit.Event{
		EventType:  audit.EventUnwindStep,
		PositionID: positionID,
		Success:    err == nil,
		Details:    map[string]interface{}{"unwind_id": unwindID},
	}
	if err != nil {
		event.ErrorMsg = err.Error()
		c.logger.Error().Err(err).Str("position_id", positionID).Msg("Unwind close failed")
	}
	_ = c.audit.Log(ctx, event)
}
