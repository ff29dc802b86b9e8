package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/errors"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/resilience"
	"github.com/Josh-moreton/alchemiser-quant-sub008/pkg/utils"
)

// ResilientBroker wraps a Broker with a circuit breaker, bounded retry
// with backoff, and a per-call timeout on chain lookups. On chain timeout
// the caller degrades to a skip; the call never blocks indefinitely.
type ResilientBroker struct {
	inner        Broker
	breaker      *resilience.CircuitBreaker
	retry        utils.RetryConfig
	quoteTimeout time.Duration
	logger       zerolog.Logger
}

// NewResilientBroker wraps the given broker.
func NewResilientBroker(inner Broker, quoteTimeout time.Duration, logger zerolog.Logger) *ResilientBroker {
	if quoteTimeout <= 0 {
		quoteTimeout = 5 * time.Second
	}
	return &ResilientBroker{
		inner:        inner,
		breaker:      resilience.NewCircuitBreaker("broker", resilience.DefaultCircuitBreakerConfig()),
		retry:        utils.DefaultRetryConfig(),
		quoteTimeout: quoteTimeout,
		logger:       logger,
	}
}

// GetOptionChain fetches a chain snapshot under the quote timeout.
func (r *ResilientBroker) GetOptionChain(ctx context.Context, underlying string) (*models.OptionChain, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.quoteTimeout)
	defer cancel()

	var chain *models.OptionChain
	err := r.breaker.Execute(callCtx, func() error {
		var err error
		chain, err = r.inner.GetOptionChain(callCtx, underlying)
		return err
	})
	if err != nil {
		return nil, errors.NewBrokerError("option_chain", underlying, "chain lookup failed", err)
	}
	return chain, nil
}

// PlaceOrder submits an order with bounded retry and backoff. Exhausted
// retries surface as a BrokerError wrapping ErrBrokerUnavailable for the
// caller to escalate.
func (r *ResilientBroker) PlaceOrder(ctx context.Context, order *Order) (*OrderResult, error) {
	result, err := utils.RetryWithResult(ctx, r.retry, func() (*OrderResult, error) {
		var res *OrderResult
		execErr := r.breaker.Execute(ctx, func() error {
			var err error
			res, err = r.inner.PlaceOrder(ctx, order)
			return err
		})
		return res, execErr
	})
	if err != nil {
		r.logger.Error().Err(err).Str("symbol", order.Symbol).Msg("Order placement exhausted retries")
		return nil, errors.NewBrokerError("place_order", order.Symbol, "placement failed",
			errors.Wrap(errors.ErrBrokerUnavailable, err.Error()))
	}
	return result, nil
}

// GetOrderStatus polls an order with bounded retry.
func (r *ResilientBroker) GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error) {
	return utils.RetryWithResult(ctx, r.retry, func() (*OrderResult, error) {
		return r.inner.GetOrderStatus(ctx, orderID)
	})
}

// CancelOrder cancels an order.
func (r *ResilientBroker) CancelOrder(ctx context.Context, orderID string) error {
	return r.inner.CancelOrder(ctx, orderID)
}

// ExerciseOption exercises a long position with bounded retry.
func (r *ResilientBroker) ExerciseOption(ctx context.Context, symbol string, contracts int) error {
	err := utils.Retry(ctx, r.retry, func() error {
		return r.breaker.Execute(ctx, func() error {
			return r.inner.ExerciseOption(ctx, symbol, contracts)
		})
	})
	if err != nil {
		return errors.NewBrokerError("exercise", symbol, "exercise failed", err)
	}
	return nil
}

// GetAccountPositions fetches broker-reported positions with retry.
func (r *ResilientBroker) GetAccountPositions(ctx context.Context) ([]AccountPosition, error) {
	return utils.RetryWithResult(ctx, r.retry, func() ([]AccountPosition, error) {
		return r.inner.GetAccountPositions(ctx)
	})
}
