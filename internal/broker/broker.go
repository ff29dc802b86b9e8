// Package broker provides the order and market-data boundary of the
// hedge engine. The engine consumes quotes and reports orders through
// these interfaces; it never owns broker connectivity itself.
package broker

import (
	"context"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
)

// OrderStatus represents the lifecycle status of a submitted order.
type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
	OrderCanceled OrderStatus = "CANCELED"
)

// Order is a single option order request.
type Order struct {
	Symbol     string
	Underlying string
	Side       models.OrderSide
	Type       models.OrderType
	Contracts  int
	LimitPrice float64
	// CorrelationID ties the order back to the evaluation or unwind
	// that produced it.
	CorrelationID string
}

// OrderResult represents the result of an order submission or poll.
type OrderResult struct {
	OrderID   string
	Status    OrderStatus
	FillPrice float64
	Message   string
}

// AccountPosition is a broker-reported option position, used for
// post-unwind reconciliation.
type AccountPosition struct {
	Symbol    string
	Contracts int
}

// Broker defines the operations the engine requires from the order and
// market-data layer.
type Broker interface {
	// GetOptionChain returns a chain snapshot for one underlying. The
	// call is externally bounded; callers pass a deadline context.
	GetOptionChain(ctx context.Context, underlying string) (*models.OptionChain, error)

	// Orders
	PlaceOrder(ctx context.Context, order *Order) (*OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error

	// ExerciseOption exercises a long option position immediately.
	ExerciseOption(ctx context.Context, symbol string, contracts int) error

	// GetAccountPositions returns broker-reported option positions.
	GetAccountPositions(ctx context.Context) ([]AccountPosition, error)
}
