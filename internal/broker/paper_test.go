package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/errors"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
)

func chainWith(symbol string, bid, ask float64) *models.OptionChain {
	return &models.OptionChain{
		Underlying: "SPY",
		SpotPrice:  100,
		AsOf:       time.Now(),
		Quotes: []models.OptionQuote{
			{Symbol: symbol, Underlying: "SPY", Right: models.RightPut,
				Strike: 90, Expiration: time.Now().AddDate(0, 3, 0), Bid: bid, Ask: ask},
		},
	}
}

// Property: market orders always fill at the bid/ask midpoint of the
// installed snapshot, for either side.
func TestProperty_MarketOrdersFillAtMid(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Market order fill price equals mid", prop.ForAll(
		func(bid, spread float64, sell bool) bool {
			ctx := context.Background()
			p := NewPaperBroker()
			p.SetChain(chainWith("SPY-P90", bid, bid+spread))

			side := models.OrderSideBuy
			if sell {
				side = models.OrderSideSell
			}
			result, err := p.PlaceOrder(ctx, &Order{
				Symbol: "SPY-P90", Underlying: "SPY", Side: side,
				Type: models.OrderTypeMarket, Contracts: 1,
			})
			if err != nil {
				t.Logf("PlaceOrder failed: %v", err)
				return false
			}
			if result.Status != OrderFilled {
				t.Logf("Expected fill, got %s", result.Status)
				return false
			}
			want := bid + spread/2
			diff := result.FillPrice - want
			if diff < 0 {
				diff = -diff
			}
			return diff < 1e-9
		},
		gen.Float64Range(0.10, 50),
		gen.Float64Range(0.01, 0.50),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestPaperBrokerSignedPositions(t *testing.T) {
	ctx := context.Background()
	p := NewPaperBroker()
	p.SetChain(chainWith("SPY-P90", 1.95, 2.05))

	_, err := p.PlaceOrder(ctx, &Order{Symbol: "SPY-P90", Underlying: "SPY",
		Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Contracts: 3})
	require.NoError(t, err)

	held, err := p.GetAccountPositions(ctx)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, 3, held[0].Contracts)

	_, err = p.PlaceOrder(ctx, &Order{Symbol: "SPY-P90", Underlying: "SPY",
		Side: models.OrderSideSell, Type: models.OrderTypeMarket, Contracts: 3})
	require.NoError(t, err)

	held, err = p.GetAccountPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, held, "a flat book drops the symbol entirely")
}

func TestPaperBrokerExerciseRequiresHolding(t *testing.T) {
	ctx := context.Background()
	p := NewPaperBroker()
	p.SetAccountPosition("SPY-P90", 2)

	assert.Error(t, p.ExerciseOption(ctx, "SPY-P90", 3))
	require.NoError(t, p.ExerciseOption(ctx, "SPY-P90", 2))

	held, err := p.GetAccountPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestPaperBrokerFailNextOrdersOnlyAffectsPlacement(t *testing.T) {
	ctx := context.Background()
	p := NewPaperBroker()
	p.SetChain(chainWith("SPY-P90", 1.95, 2.05))
	p.FailNextOrders(1)

	// Chain lookups are unaffected by the simulated outage.
	_, err := p.GetOptionChain(ctx, "SPY")
	require.NoError(t, err)

	_, err = p.PlaceOrder(ctx, &Order{Symbol: "SPY-P90", Underlying: "SPY",
		Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Contracts: 1})
	assert.Error(t, err)

	// The outage is consumed; the next placement succeeds.
	result, err := p.PlaceOrder(ctx, &Order{Symbol: "SPY-P90", Underlying: "SPY",
		Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Contracts: 1})
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, result.Status)
}

func TestResilientBrokerRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	p := NewPaperBroker()
	p.SetChain(chainWith("SPY-P90", 1.95, 2.05))
	p.FailNextOrders(2)

	r := NewResilientBroker(p, time.Second, zerolog.Nop())
	result, err := r.PlaceOrder(ctx, &Order{Symbol: "SPY-P90", Underlying: "SPY",
		Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Contracts: 1})
	require.NoError(t, err, "two transient failures fit inside three attempts")
	assert.Equal(t, OrderFilled, result.Status)
}

func TestResilientBrokerSurfacesExhaustedRetries(t *testing.T) {
	ctx := context.Background()
	p := NewPaperBroker()
	p.SetChain(chainWith("SPY-P90", 1.95, 2.05))
	p.FailNextOrders(3)

	r := NewResilientBroker(p, time.Second, zerolog.Nop())
	_, err := r.PlaceOrder(ctx, &Order{Symbol: "SPY-P90", Underlying: "SPY",
		Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Contracts: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBrokerUnavailable))
	var brokerErr *errors.BrokerError
	assert.True(t, errors.As(err, &brokerErr))
}

func TestResilientBrokerChainTimeout(t *testing.T) {
	r := NewResilientBroker(&slowBroker{delay: 200 * time.Millisecond}, 50*time.Millisecond, zerolog.Nop())
	_, err := r.GetOptionChain(context.Background(), "SPY")
	require.Error(t, err, "a slow chain lookup must time out instead of blocking the cycle")
}

// slowBroker never answers chain lookups inside the quote timeout.
type slowBroker struct {
	Broker
	delay time.Duration
}

func (s *slowBroker) GetOptionChain(ctx context.Context, underlying string) (*models.OptionChain, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
		return nil, fmt.Errorf("too late")
	}
}
