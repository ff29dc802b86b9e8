package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
)

// MemoryStore implements DataStore in memory. Used by tests and paper
// evaluation runs; state does not survive the process.
type MemoryStore struct {
	mu            sync.RWMutex
	positions     map[string]models.HedgePosition
	spend         []models.PremiumSpendRecord
	gate          models.SafetyGate
	rollTriggers  []models.RollTriggerRecord
	assignments   []models.AssignmentRecord
	unwinds       map[string]models.UnwindRecord
	discrepancies []models.ReconciliationDiscrepancy
	invocations   map[string]time.Time
}

// NewMemoryStore creates an empty in-memory data store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions:   make(map[string]models.HedgePosition),
		unwinds:     make(map[string]models.UnwindRecord),
		invocations: make(map[string]time.Time),
	}
}

// SavePosition inserts a new hedge position.
func (m *MemoryStore) SavePosition(ctx context.Context, p *models.HedgePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[p.ID]; exists {
		return fmt.Errorf("position %s already exists", p.ID)
	}
	m.positions[p.ID] = clonePosition(p)
	return nil
}

// UpdatePosition replaces an existing hedge position.
func (m *MemoryStore) UpdatePosition(ctx context.Context, p *models.HedgePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.positions[p.ID]; !exists {
		return fmt.Errorf("position %s not found", p.ID)
	}
	m.positions[p.ID] = clonePosition(p)
	return nil
}

// GetPosition fetches a hedge position by id.
func (m *MemoryStore) GetPosition(ctx context.Context, id string) (*models.HedgePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, fmt.Errorf("position not found")
	}
	out := clonePosition(&p)
	return &out, nil
}

// ListPositions returns positions matching the filter, newest entry first.
func (m *MemoryStore) ListPositions(ctx context.Context, filter PositionFilter) ([]models.HedgePosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.HedgePosition
	for _, p := range m.positions {
		if filter.Underlying != "" && p.Underlying != filter.Underlying {
			continue
		}
		if filter.State != "" && p.State != filter.State {
			continue
		}
		if filter.Template != "" && p.Template != filter.Template {
			continue
		}
		if filter.SpreadOnly && !p.IsSpread {
			continue
		}
		out = append(out, clonePosition(&p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.After(out[j].EntryTime) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// AppendSpend appends a ledger entry.
func (m *MemoryStore) AppendSpend(ctx context.Context, r *models.PremiumSpendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spend = append(m.spend, *r)
	return nil
}

// SumSpendSince sums ledger amounts with timestamp >= since.
func (m *MemoryStore) SumSpendSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, r := range m.spend {
		if !r.Timestamp.Before(since) {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}

// ListSpendSince returns ledger entries with timestamp >= since.
func (m *MemoryStore) ListSpendSince(ctx context.Context, since time.Time) ([]models.PremiumSpendRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PremiumSpendRecord
	for _, r := range m.spend {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// DeleteSpendBefore removes ledger entries older than the cutoff.
func (m *MemoryStore) DeleteSpendBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.spend[:0]
	var removed int64
	for _, r := range m.spend {
		if r.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.spend = kept
	return removed, nil
}

// GetSafetyGate reads the gate record.
func (m *MemoryStore) GetSafetyGate(ctx context.Context) (*models.SafetyGate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gate := m.gate
	return &gate, nil
}

// SetSafetyGate writes the gate record.
func (m *MemoryStore) SetSafetyGate(ctx context.Context, gate *models.SafetyGate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = *gate
	return nil
}

// SaveRollTrigger persists a roll trigger record.
func (m *MemoryStore) SaveRollTrigger(ctx context.Context, r *models.RollTriggerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollTriggers = append(m.rollTriggers, *r)
	return nil
}

// SaveAssignment persists an assignment detection record.
func (m *MemoryStore) SaveAssignment(ctx context.Context, r *models.AssignmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, *r)
	return nil
}

// SaveUnwind persists an unwind record.
func (m *MemoryStore) SaveUnwind(ctx context.Context, r *models.UnwindRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unwinds[r.ID] = *r
	return nil
}

// SaveDiscrepancy persists a reconciliation discrepancy.
func (m *MemoryStore) SaveDiscrepancy(ctx context.Context, d *models.ReconciliationDiscrepancy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discrepancies = append(m.discrepancies, *d)
	return nil
}

// ListDiscrepancies returns discrepancies for an unwind, or all when the
// unwind id is empty.
func (m *MemoryStore) ListDiscrepancies(ctx context.Context, unwindID string) ([]models.ReconciliationDiscrepancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ReconciliationDiscrepancy
	for _, d := range m.discrepancies {
		if unwindID == "" || d.UnwindID == unwindID {
			out = append(out, d)
		}
	}
	return out, nil
}

// MarkInvocation records a correlation id, returning false on redelivery.
func (m *MemoryStore) MarkInvocation(ctx context.Context, correlationID, kind string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := kind + ":" + correlationID
	if _, seen := m.invocations[key]; seen {
		return false, nil
	}
	m.invocations[key] = at
	return true, nil
}

// RollTriggers returns all recorded roll triggers. Test helper.
func (m *MemoryStore) RollTriggers() []models.RollTriggerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RollTriggerRecord, len(m.rollTriggers))
	copy(out, m.rollTriggers)
	return out
}

// Assignments returns all recorded assignment events. Test helper.
func (m *MemoryStore) Assignments() []models.AssignmentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AssignmentRecord, len(m.assignments))
	copy(out, m.assignments)
	return out
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func clonePosition(p *models.HedgePosition) models.HedgePosition {
	out := *p
	out.Legs = make([]models.HedgeLeg, len(p.Legs))
	copy(out.Legs, p.Legs)
	return out
}
