// Package orderbook implements §4.3: the in-memory order book, the
// position ledger, account state, and the transaction log. Grounded on the
// teacher's trader.go (Position/Trader bookkeeping, cash accounting) and
// broker.go (PlacedOrder, OrderSide), generalized from the teacher's single
// always-one-lot-per-side model into the spec's full lifecycle/ledger.
package orderbook

import (
	"fmt"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
)

// Status is an order's lifecycle state. Transitions are monotone:
// Open -> Filled, Open -> Cancelled, Open -> Rejected. No other transition
// is legal.
type Status string

const (
	StatusOpen      Status = "open"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// ErrIllegalTransition is returned when a caller tries to move an order out
// of a terminal status, or to a status other than the three legal targets.
var ErrIllegalTransition = fmt.Errorf("orderbook: illegal order status transition")

// Order is §3's Order record.
type Order struct {
	ID             string
	Symbol         candle.Symbol
	Side           candle.Side
	AssetClass     candle.AssetClass
	Quantity       float64
	LimitPrice     float64
	TimeInForce    string
	Status         Status
	FilledQuantity float64
	FilledPrice    float64
	FilledTime     time.Time
	PlacedTime     time.Time
}

// transition applies a status change, enforcing monotonicity.
func (o *Order) transition(to Status) error {
	if o.Status != StatusOpen {
		return fmt.Errorf("%w: order %s already %s", ErrIllegalTransition, o.ID, o.Status)
	}
	switch to {
	case StatusFilled, StatusCancelled, StatusRejected:
		o.Status = to
		return nil
	default:
		return fmt.Errorf("%w: cannot transition to %s", ErrIllegalTransition, to)
	}
}

// Fill marks the order filled at the given quantity/price/time.
func (o *Order) Fill(quantity, price float64, at time.Time) error {
	if err := o.transition(StatusFilled); err != nil {
		return err
	}
	o.FilledQuantity = quantity
	o.FilledPrice = price
	o.FilledTime = at
	return nil
}

// Cancel marks the order cancelled.
func (o *Order) Cancel() error { return o.transition(StatusCancelled) }

// Reject marks the order rejected.
func (o *Order) Reject() error { return o.transition(StatusRejected) }
