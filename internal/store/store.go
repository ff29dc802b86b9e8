// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
)

// DataStore defines the persistence boundary for the hedge engine:
// positions, the premium spend ledger, the safety gate, lifecycle records,
// and the idempotency table for at-least-once cycle invocations.
type DataStore interface {
	// Positions
	SavePosition(ctx context.Context, position *models.HedgePosition) error
	UpdatePosition(ctx context.Context, position *models.HedgePosition) error
	GetPosition(ctx context.Context, id string) (*models.HedgePosition, error)
	ListPositions(ctx context.Context, filter PositionFilter) ([]models.HedgePosition, error)

	// Premium ledger (append-only, expiry-only)
	AppendSpend(ctx context.Context, record *models.PremiumSpendRecord) error
	SumSpendSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
	ListSpendSince(ctx context.Context, since time.Time) ([]models.PremiumSpendRecord, error)
	DeleteSpendBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Safety gate
	GetSafetyGate(ctx context.Context) (*models.SafetyGate, error)
	SetSafetyGate(ctx context.Context, gate *models.SafetyGate) error

	// Lifecycle records
	SaveRollTrigger(ctx context.Context, record *models.RollTriggerRecord) error
	SaveAssignment(ctx context.Context, record *models.AssignmentRecord) error
	SaveUnwind(ctx context.Context, record *models.UnwindRecord) error
	SaveDiscrepancy(ctx context.Context, d *models.ReconciliationDiscrepancy) error
	ListDiscrepancies(ctx context.Context, unwindID string) ([]models.ReconciliationDiscrepancy, error)

	// Idempotency. MarkInvocation records a correlation id and reports
	// whether it was first seen now; a false result means the invocation
	// is a redelivery and must not re-spend or re-roll.
	MarkInvocation(ctx context.Context, correlationID, kind string, at time.Time) (bool, error)

	// Lifecycle
	Close() error
}

// PositionFilter represents filters for querying hedge positions.
type PositionFilter struct {
	Underlying string
	State      models.PositionState
	Template   models.HedgeTemplate
	SpreadOnly bool
	Limit      int
}
