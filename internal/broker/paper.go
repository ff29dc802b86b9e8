package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/Josh-moreton/alchemiser-quant-sub008/internal/models"
)

// PaperBroker implements the Broker interface against a supplied chain
// snapshot, filling orders at mid. Used for dry-run evaluation cycles and
// tests.
type PaperBroker struct {
	mu sync.RWMutex

	chains    map[string]*models.OptionChain
	orders    map[string]*OrderResult
	positions map[string]int // option symbol -> contracts (signed)

	orderCounter int

	// FailNextOrders forces the next n order placements to fail,
	// simulating broker unavailability.
	failNextOrders int
	// rejectSymbols forces rejections for specific option symbols.
	rejectSymbols map[string]bool
}

// NewPaperBroker creates a paper broker with no chain data.
func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		chains:        make(map[string]*models.OptionChain),
		orders:        make(map[string]*OrderResult),
		positions:     make(map[string]int),
		rejectSymbols: make(map[string]bool),
	}
}

// SetChain installs a chain snapshot for an underlying.
func (p *PaperBroker) SetChain(chain *models.OptionChain) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chains[chain.Underlying] = chain
}

// FailNextOrders makes the next n order placements return an error.
func (p *PaperBroker) FailNextOrders(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNextOrders = n
}

// RejectSymbol makes placements for the given option symbol be rejected.
func (p *PaperBroker) RejectSymbol(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectSymbols[symbol] = true
}

// GetOptionChain returns the installed snapshot for the underlying.
func (p *PaperBroker) GetOptionChain(ctx context.Context, underlying string) (*models.OptionChain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	chain, ok := p.chains[underlying]
	if !ok {
		return nil, fmt.Errorf("no chain snapshot for %s", underlying)
	}
	return chain, nil
}

// PlaceOrder fills the order immediately at mid, or at the limit price for
// limit orders.
func (p *PaperBroker) PlaceOrder(ctx context.Context, order *Order) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failNextOrders > 0 {
		p.failNextOrders--
		return nil, fmt.Errorf("paper broker: simulated outage")
	}

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER-%06d", p.orderCounter)

	if p.rejectSymbols[order.Symbol] {
		result := &OrderResult{OrderID: orderID, Status: OrderRejected, Message: "rejected by venue"}
		p.orders[orderID] = result
		return result, nil
	}

	price := order.LimitPrice
	if order.Type == models.OrderTypeMarket {
		price = p.midFor(order.Underlying, order.Symbol)
	}

	delta := order.Contracts
	if order.Side == models.OrderSideSell {
		delta = -delta
	}
	p.positions[order.Symbol] += delta
	if p.positions[order.Symbol] == 0 {
		delete(p.positions, order.Symbol)
	}

	result := &OrderResult{OrderID: orderID, Status: OrderFilled, FillPrice: price}
	p.orders[orderID] = result
	return result, nil
}

// GetOrderStatus returns the recorded result for an order id.
func (p *PaperBroker) GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	return result, nil
}

// CancelOrder cancels a pending order. Paper fills are immediate, so this
// only flips unknown ids to an error.
func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	result, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	if result.Status == OrderPending {
		result.Status = OrderCanceled
	}
	return nil
}

// ExerciseOption removes a long position immediately.
func (p *PaperBroker) ExerciseOption(ctx context.Context, symbol string, contracts int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	held := p.positions[symbol]
	if held < contracts {
		return fmt.Errorf("cannot exercise %d contracts of %s, holding %d", contracts, symbol, held)
	}
	p.positions[symbol] = held - contracts
	if p.positions[symbol] == 0 {
		delete(p.positions, symbol)
	}
	return nil
}

// GetAccountPositions returns the simulated account positions.
func (p *PaperBroker) GetAccountPositions(ctx context.Context) ([]AccountPosition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AccountPosition, 0, len(p.positions))
	for symbol, contracts := range p.positions {
		out = append(out, AccountPosition{Symbol: symbol, Contracts: contracts})
	}
	return out, nil
}

// SetAccountPosition force-sets a position, for reconciliation tests.
func (p *PaperBroker) SetAccountPosition(symbol string, contracts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if contracts == 0 {
		delete(p.positions, symbol)
		return
	}
	p.positions[symbol] = contracts
}

func (p *PaperBroker) midFor(underlying, symbol string) float64 {
	chain, ok := p.chains[underlying]
	if !ok {
		return 0
	}
	for i := range chain.Quotes {
		if chain.Quotes[i].Symbol == symbol {
			return chain.Quotes[i].Mid()
		}
	}
	return 0
}
