// Package execution turns actionable signals into orders.
//
// The trading loop hands an Executor one Directive per BUY/SELL tick and
// waits for the result under a bounded context. Only paper execution is
// provided; a broker client plugs in behind the same interface.
package execution

import (
	"context"
	"errors"
	"fmt"

	"signalbot/internal/strategy"
)

// ErrInvalidDirective is returned for HOLD directives or non-positive sizes.
var ErrInvalidDirective = errors.New("execution: invalid directive")

// Directive is an instruction to trade derived from a Signal.
type Directive struct {
	Kind     strategy.Kind `json:"kind"`
	Size     float64       `json:"size"` // notional, account currency
	Asset    string        `json:"asset"`
	Price    float64       `json:"price"` // reference price (latest close)
	Strength float64       `json:"strength"`
}

// Validate checks that d describes a tradable order.
func (d Directive) Validate() error {
	if d.Kind != strategy.KindBuy && d.Kind != strategy.KindSell {
		return fmt.Errorf("%w: kind %q", ErrInvalidDirective, d.Kind)
	}
	if d.Size <= 0 {
		return fmt.Errorf("%w: size %v", ErrInvalidDirective, d.Size)
	}
	return nil
}

// OrderResult represents the outcome of an order placement.
type OrderResult struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"` // FILLED, REJECTED
	Message   string    `json:"message"`
	FillPrice float64   `json:"fill_price"`
	Directive Directive `json:"directive"`
}

// Executor places orders for directives.
type Executor interface {
	Submit(ctx context.Context, d Directive) (OrderResult, error)
}
