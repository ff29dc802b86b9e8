package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/audit"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/broker"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/errors"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/store"
)

// recordingBroker wraps the paper broker and records the order in which
// close orders reach the venue.
type recordingBroker struct {
	*broker.PaperBroker
	mu      sync.Mutex
	symbols []string
}

func (r *recordingBroker) PlaceOrder(ctx context.Context, order *broker.Order) (*broker.OrderResult, error) {
	r.mu.Lock()
	r.symbols = append(r.symbols, order.Symbol)
	r.mu.Unlock()
	return r.PaperBroker.PlaceOrder(ctx, order)
}

func newUnwindFixture(t *testing.T) (*UnwindController, *store.MemoryStore, *recordingBroker) {
	t.Helper()
	mem := store.NewMemoryStore()
	rb := &recordingBroker{PaperBroker: broker.NewPaperBroker()}
	c := NewUnwindController(rb, mem, audit.NopRecorder{}, zerolog.Nop(), 100, 0.80, time.Second)
	return c, mem, rb
}

// seedPosition stores an active position and mirrors its legs at the
// broker so a clean unwind reconciles to zero.
func seedPosition(t *testing.T, mem *store.MemoryStore, paper *broker.PaperBroker, id string, contracts int, strike, shortDelta float64) *models.HedgePosition {
	t.Helper()
	pos := &models.HedgePosition{
		ID:         id,
		Underlying: "SPY",
		Template:   models.TemplateTailFirst,
		Legs: []models.HedgeLeg{
			{OptionSymbol: id + "-LONG", Side: models.OrderSideBuy, Strike: strike, Right: models.RightPut, EntryDelta: 0.25, CurrentDelta: 0.25},
		},
		Expiration: time.Now().AddDate(0, 3, 0),
		Contracts:  contracts,
		EntryTime:  time.Now().AddDate(0, 0, -10),
		State:      models.PositionActive,
		RollState:  models.RollHolding,
	}
	if shortDelta > 0 {
		pos.Template = models.TemplateSmoothing
		pos.IsSpread = true
		pos.Legs = append(pos.Legs, models.HedgeLeg{
			OptionSymbol: id + "-SHORT", Side: models.OrderSideSell, Strike: strike - 10,
			Right: models.RightPut, EntryDelta: 0.12, CurrentDelta: shortDelta,
		})
	}
	require.NoError(t, mem.SavePosition(context.Background(), pos))
	paper.SetAccountPosition(id+"-LONG", contracts)
	if pos.IsSpread {
		paper.SetAccountPosition(id+"-SHORT", -contracts)
	}
	return pos
}

func TestRankForUnwindHighRiskAlwaysFirst(t *testing.T) {
	c, _, _ := newUnwindFixture(t)

	hot := models.HedgePosition{ID: "hot", IsSpread: true, Contracts: 1, Legs: []models.HedgeLeg{
		{OptionSymbol: "h-l", Side: models.OrderSideBuy, Strike: 90},
		{OptionSymbol: "h-s", Side: models.OrderSideSell, Strike: 80, CurrentDelta: 0.85},
	}}
	big := models.HedgePosition{ID: "big", Contracts: 10, Legs: []models.HedgeLeg{
		{OptionSymbol: "b-l", Side: models.OrderSideBuy, Strike: 95},
	}}
	small := models.HedgePosition{ID: "small", Contracts: 1, Legs: []models.HedgeLeg{
		{OptionSymbol: "s-l", Side: models.OrderSideBuy, Strike: 90},
	}}

	orderings := [][]models.HedgePosition{
		{hot, big, small},
		{big, hot, small},
		{big, small, hot},
		{small, hot, big},
		{small, big, hot},
		{hot, small, big},
	}
	for _, input := range orderings {
		ranked := c.RankForUnwind(input)
		require.Len(t, ranked, 3)
		assert.Equal(t, "hot", ranked[0].ID, "high assignment risk closes first for any input order")
		assert.Equal(t, "big", ranked[1].ID, "larger notional closes before smaller")
		assert.Equal(t, "small", ranked[2].ID)
	}
}

func TestControlledUnwindClosesEverything(t *testing.T) {
	c, mem, rb := newUnwindFixture(t)
	ctx := context.Background()

	seedPosition(t, mem, rb.PaperBroker, "std", 2, 90, 0)
	seedPosition(t, mem, rb.PaperBroker, "risky", 1, 90, 0.85)

	record, err := c.Execute(ctx, models.SeverityOperational, "quote feed degraded")
	require.NoError(t, err, "clean unwind must reconcile without discrepancies")
	require.NotNil(t, record)

	assert.Equal(t, 2, record.PositionsSeen)
	assert.Equal(t, 2, record.Closed)
	assert.Equal(t, 0, record.Failed)
	assert.False(t, record.CompletedAt.IsZero())

	// The risky spread's legs reach the venue before the standard put.
	require.GreaterOrEqual(t, len(rb.symbols), 3)
	assert.Equal(t, "risky-LONG", rb.symbols[0])
	assert.Equal(t, "risky-SHORT", rb.symbols[1])
	assert.Equal(t, "std-LONG", rb.symbols[2])

	remaining, err := mem.ListPositions(ctx, store.PositionFilter{State: models.PositionActive})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRapidUnwindClosesAllInParallel(t *testing.T) {
	c, mem, rb := newUnwindFixture(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		seedPosition(t, mem, rb.PaperBroker, id, 1, 90, 0)
	}

	record, err := c.Execute(ctx, models.SeverityDislocation, "limit-down open")
	require.NoError(t, err)
	assert.Equal(t, 4, record.PositionsSeen)
	assert.Equal(t, 4, record.Closed)
	assert.Equal(t, 0, record.Failed)
}

func TestControlledUnwindCountsFailures(t *testing.T) {
	c, mem, rb := newUnwindFixture(t)
	ctx := context.Background()

	seedPosition(t, mem, rb.PaperBroker, "ok", 1, 90, 0)
	bad := seedPosition(t, mem, rb.PaperBroker, "bad", 1, 90, 0)
	rb.RejectSymbol(bad.Legs[0].OptionSymbol)

	record, err := c.Execute(ctx, models.SeverityOperational, "venue flaky")
	// The rejected position stays open both locally and at the broker, so
	// reconciliation is consistent and the failure is reported on the record.
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 1, record.Closed)
	assert.Equal(t, 1, record.Failed)

	still, getErr := mem.GetPosition(ctx, bad.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.PositionActive, still.State)

	found, listErr := mem.ListDiscrepancies(ctx, record.ID)
	require.NoError(t, listErr)
	assert.Empty(t, found)
}

func TestBrokerAssistedUnwindRecordsConfirmedState(t *testing.T) {
	c, mem, rb := newUnwindFixture(t)
	ctx := context.Background()

	done := seedPosition(t, mem, rb.PaperBroker, "done", 1, 90, 0)
	held := seedPosition(t, mem, rb.PaperBroker, "held", 1, 90, 0)
	// The broker has already liquidated "done" out-of-band.
	rb.SetAccountPosition("done-LONG", 0)

	record, err := c.Execute(ctx, models.SeverityAccountRisk, "margin call")
	require.NoError(t, err, "the held position is open on both sides, so reconciliation is consistent")
	require.NotNil(t, record)
	assert.Equal(t, 1, record.Closed)
	assert.Equal(t, 1, record.Failed)
	assert.Empty(t, rb.symbols, "broker-assisted unwind places no orders")

	closed, getErr := mem.GetPosition(ctx, done.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.PositionClosed, closed.State)

	still, getErr := mem.GetPosition(ctx, held.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.PositionActive, still.State)
}

func TestReconcileFlagsMismatch(t *testing.T) {
	c, mem, rb := newUnwindFixture(t)
	ctx := context.Background()

	pos := seedPosition(t, mem, rb.PaperBroker, "p1", 3, 90, 0)
	// Local says 3 contracts held; broker reports 1.
	rb.SetAccountPosition("p1-LONG", 1)

	err := c.Reconcile(ctx, "unwind-test")
	require.Error(t, err)
	var recErr *errors.ReconciliationError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, 1, recErr.Discrepancies)

	found, listErr := mem.ListDiscrepancies(ctx, "unwind-test")
	require.NoError(t, listErr)
	require.Len(t, found, 1)
	assert.Equal(t, pos.ID, found[0].PositionID)
	assert.Contains(t, found[0].Expected, "3 contracts")
	assert.Contains(t, found[0].Reported, "1 contracts")
}
