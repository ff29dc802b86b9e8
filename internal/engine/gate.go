package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/audit"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/errors"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/logging"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/metrics"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/store"
)

// Gate is the single shared safety halt. While active, no new hedge
// placement proceeds; lifecycle management of existing positions
// continues. Raising is write-once per activation and clearing requires
// an explicit, audited operator action.
type Gate struct {
	store  store.DataStore
	audit  audit.Recorder
	logger zerolog.Logger
}

// NewGate creates the safety gate backed by the shared store.
func NewGate(dataStore store.DataStore, recorder audit.Recorder, logger zerolog.Logger) *Gate {
	return &Gate{store: dataStore, audit: recorder, logger: logger}
}

// Raise activates the gate with the given reason. Raising an already
// active gate keeps the original reason and timestamp.
func (g *Gate) Raise(ctx context.Context, reason string) error {
	current, err := g.store.GetSafetyGate(ctx)
	if err != nil {
		return errors.Wrap(err, "reading safety gate")
	}
	if current != nil && current.Active {
		g.logger.Warn().
			Str("existing_reason", current.Reason).
			Str("new_reason", reason).
			Msg("Safety gate already active, keeping original reason")
		return nil
	}

	gate := &models.SafetyGate{Active: true, Reason: reason, SetAt: time.Now().UTC()}
	if err := g.store.SetSafetyGate(ctx, gate); err != nil {
		return errors.Wrap(err, "setting safety gate")
	}
	metrics.SafetyGateActive.Set(1)
	logging.LogGateChange(g.logger, true, reason)
	return g.audit.Log(ctx, audit.Event{
		EventType: audit.EventGateSet,
		Action:    "raise",
		Success:   true,
		ErrorMsg:  reason,
	})
}

// Clear deactivates the gate. ClearedBy identifies the operator and is
// written to the audit trail.
func (g *Gate) Clear(ctx context.Context, clearedBy string) error {
	current, err := g.store.GetSafetyGate(ctx)
	if err != nil {
		return errors.Wrap(err, "reading safety gate")
	}
	if current == nil || !current.Active {
		return nil
	}

	gate := &models.SafetyGate{Active: false, Reason: "", SetAt: time.Now().UTC()}
	if err := g.store.SetSafetyGate(ctx, gate); err != nil {
		return errors.Wrap(err, "clearing safety gate")
	}
	metrics.SafetyGateActive.Set(0)
	logging.LogGateChange(g.logger, false, current.Reason)
	return g.audit.Log(ctx, audit.Event{
		EventType: audit.EventGateCleared,
		Action:    "clear",
		Success:   true,
		Details:   map[string]interface{}{"cleared_by": clearedBy, "was_reason": current.Reason},
	})
}

// Status returns the current gate record. A read failure is treated as
// an active gate; the engine fails closed when gate state is unknown.
func (g *Gate) Status(ctx context.Context) *models.SafetyGate {
	current, err := g.store.GetSafetyGate(ctx)
	if err != nil {
		g.logger.Error().Err(err).Msg("Safety gate read failed, treating as active")
		return &models.SafetyGate{Active: true, Reason: "gate state unreadable", SetAt: time.Now().UTC()}
	}
	if current == nil {
		return &models.SafetyGate{}
	}
	return current
}

// IsActive reports whether the gate currently blocks new placements.
func (g *Gate) IsActive(ctx context.Context) bool {
	return g.Status(ctx).Active
}
