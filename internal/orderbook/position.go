package orderbook

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ksuh/tradekernel/internal/candle"
)

// PositionEpsilon is the quantity threshold below which a position is
// considered flat and dropped from the ledger, per §3/§4.3.
const PositionEpsilon = 1e-8

// Position is §3's Position record. Multiplier is 1 for stock/crypto and
// the contract multiplier (typically 100) for options.
type Position struct {
	Symbol       candle.Symbol
	AssetClass   candle.AssetClass
	Quantity     float64
	AvgPrice     float64
	CurrentPrice float64
	Multiplier   float64
}

// Value returns quantity * current price * multiplier.
func (p Position) Value() float64 {
	return p.Quantity * p.CurrentPrice * p.Multiplier
}

// Ledger is the per-symbol position ledger of §4.3. Internally it
// accumulates with decimal.Decimal to keep the weighted-average-cost
// formula exact across many fills, as required by the accounting
// invariant in spec.md §8; the public Position/Account views stay float64
// to match the data model in §3.
type Ledger struct {
	mu        sync.Mutex
	positions map[candle.Symbol]*ledgerEntry
}

type ledgerEntry struct {
	assetClass   candle.AssetClass
	quantity     decimal.Decimal
	avgPrice     decimal.Decimal
	currentPrice decimal.Decimal
	multiplier   decimal.Decimal
}

func NewLedger() *Ledger {
	return &Ledger{positions: make(map[candle.Symbol]*ledgerEntry)}
}

// ApplyFill reacts to an order transitioning to Filled, per §4.3: a buy
// fill moves avg_price to the weighted mean and increases quantity; a sell
// fill decreases quantity and, once it crosses zero within
// PositionEpsilon, the position is dropped.
func (l *Ledger) ApplyFill(symbol candle.Symbol, assetClass candle.AssetClass, side candle.Side, fillQty, fillPrice, multiplier float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	qty := decimal.NewFromFloat(fillQty)
	price := decimal.NewFromFloat(fillPrice)
	mult := decimal.NewFromFloat(multiplier)
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}

	e, ok := l.positions[symbol]
	if !ok {
		e = &ledgerEntry{assetClass: assetClass, multiplier: mult}
		l.positions[symbol] = e
	}

	switch side {
	case candle.SideBuy:
		newQty := e.quantity.Add(qty)
		if newQty.IsPositive() {
			// weighted mean: (old_avg*old_qty + fill_price*fill_qty) / (old_qty+fill_qty)
			numerator := e.avgPrice.Mul(e.quantity).Add(price.Mul(qty))
			e.avgPrice = numerator.Div(newQty)
		}
		e.quantity = newQty
	case candle.SideSell:
		e.quantity = e.quantity.Sub(qty)
		// avg_price is left untouched on a sell per §3.
	}

	if e.quantity.Abs().LessThan(decimal.NewFromFloat(PositionEpsilon)) {
		delete(l.positions, symbol)
	}
}

// MarkPrice updates the current_price used for Value()/unrealized PnL.
func (l *Ledger) MarkPrice(symbol candle.Symbol, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.positions[symbol]; ok {
		e.currentPrice = decimal.NewFromFloat(price)
	}
}

// Get returns the current Position for symbol, if one is open.
func (l *Ledger) Get(symbol candle.Symbol) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return entryToPosition(symbol, e), true
}

// All returns every open position, grouped implicitly by asset class via
// Position.AssetClass.
func (l *Ledger) All() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.positions))
	for sym, e := range l.positions {
		out = append(out, entryToPosition(sym, e))
	}
	return out
}

// ByClass returns open positions filtered to one asset class, matching
// §4.4's fetch_positions() -> {stock[], crypto[], option[]} shape.
func (l *Ledger) ByClass(class candle.AssetClass) []Position {
	var out []Position
	for _, p := range l.All() {
		if p.AssetClass == class {
			out = append(out, p)
		}
	}
	return out
}

func entryToPosition(symbol candle.Symbol, e *ledgerEntry) Position {
	mult, _ := e.multiplier.Float64()
	qty, _ := e.quantity.Float64()
	avg, _ := e.avgPrice.Float64()
	cur, _ := e.currentPrice.Float64()
	return Position{
		Symbol:       symbol,
		AssetClass:   e.assetClass,
		Quantity:     qty,
		AvgPrice:     avg,
		CurrentPrice: cur,
		Multiplier:   mult,
	}
}
