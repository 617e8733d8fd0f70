package orderbook

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Commission models the three shapes named in §4.3: a flat per-fill value,
// a percentage string ("0.1%"), or an explicit {buy, sell} pair. Buy/Sell
// are stored as fractions (0.001 == 0.1%).
type Commission struct {
	Buy  float64
	Sell float64
}

// FlatCommission applies the same fractional rate to both sides.
func FlatCommission(rate float64) Commission { return Commission{Buy: rate, Sell: rate} }

// ParseCommissionPercent parses a percentage string like "0.1%" into a
// symmetric Commission.
func ParseCommissionPercent(s string) (Commission, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return Commission{}, fmt.Errorf("commission percent %q must end with %%", s)
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return Commission{}, fmt.Errorf("commission percent %q: %w", s, err)
	}
	return FlatCommission(v / 100.0), nil
}

// Account is §3's Account record: equity, cash, buying power, margin
// multiplier, backed by a Ledger for positions.
type Account struct {
	mu          sync.Mutex
	Cash        float64
	BuyingPower float64
	Multiplier  float64
	Ledger      *Ledger
}

func NewAccount(startingCash float64, multiplier float64) *Account {
	if multiplier <= 0 {
		multiplier = 1
	}
	return &Account{
		Cash:        startingCash,
		BuyingPower: startingCash * multiplier,
		Multiplier:  multiplier,
		Ledger:      NewLedger(),
	}
}

// Equity returns cash + sum(position value), the derived invariant of §3.
func (a *Account) Equity() float64 {
	a.mu.Lock()
	cash := a.Cash
	a.mu.Unlock()
	total := decimal.NewFromFloat(cash)
	for _, p := range a.Ledger.All() {
		total = total.Add(decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(p.CurrentPrice)).Mul(decimal.NewFromFloat(p.Multiplier)))
	}
	f, _ := total.Float64()
	return f
}

// ApplyBuyCash debits cash and buying power by fillPrice*fillQty*multiplier*(1+commission),
// per §4.3's cash accounting formula.
func (a *Account) ApplyBuyCash(fillPrice, fillQty, multiplier, commissionRate float64) float64 {
	cost := decimal.NewFromFloat(fillPrice).Mul(decimal.NewFromFloat(fillQty)).Mul(decimal.NewFromFloat(multiplier))
	total := cost.Mul(decimal.NewFromFloat(1 + commissionRate))
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Cash = decimal.NewFromFloat(a.Cash).Sub(total).InexactFloat64()
	a.BuyingPower = decimal.NewFromFloat(a.BuyingPower).Sub(total).InexactFloat64()
	f, _ := total.Float64()
	return f
}

// ApplySellCash credits cash and buying power by fillPrice*fillQty*multiplier*(1-commission).
func (a *Account) ApplySellCash(fillPrice, fillQty, multiplier, commissionRate float64) float64 {
	proceeds := decimal.NewFromFloat(fillPrice).Mul(decimal.NewFromFloat(fillQty)).Mul(decimal.NewFromFloat(multiplier))
	total := proceeds.Mul(decimal.NewFromFloat(1 - commissionRate))
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Cash = decimal.NewFromFloat(a.Cash).Add(total).InexactFloat64()
	a.BuyingPower = decimal.NewFromFloat(a.BuyingPower).Add(total).InexactFloat64()
	f, _ := total.Float64()
	return f
}

// HasBuyingPower reports whether notional (price*qty*multiplier, before
// commission) fits within the current buying power.
func (a *Account) HasBuyingPower(price, qty, multiplier float64) bool {
	notional := price * qty * multiplier
	a.mu.Lock()
	defer a.mu.Unlock()
	return notional <= a.BuyingPower || math.Abs(notional-a.BuyingPower) < 1e-9
}

// Snapshot returns a read of cash/buying power without racing ApplyBuy/SellCash.
func (a *Account) Snapshot() (cash, buyingPower, multiplier float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Cash, a.BuyingPower, a.Multiplier
}
