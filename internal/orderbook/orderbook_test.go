package orderbook

import (
	"math"
	"testing"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
)

func TestOrderLifecycleMonotone(t *testing.T) {
	o := &Order{ID: "1", Status: StatusOpen}
	if err := o.Fill(1, 10, time.Now()); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := o.Cancel(); err == nil {
		t.Fatal("expected error cancelling an already-filled order")
	}
}

func TestBookPlaceAssignsMonotonicLocalIDs(t *testing.T) {
	b := NewBook()
	id1, err := b.Place(&Order{Symbol: "X", Status: StatusOpen})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := b.Place(&Order{Symbol: "X", Status: StatusOpen})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != "LOCAL-1" || id2 != "LOCAL-2" {
		t.Fatalf("expected monotonic ids LOCAL-1, LOCAL-2; got %s, %s", id1, id2)
	}
	pending := b.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending orders, got %d", len(pending))
	}
}

func TestLedgerWeightedAverageOnBuys(t *testing.T) {
	l := NewLedger()
	l.ApplyFill("X", candle.AssetStock, candle.SideBuy, 10, 10, 1)
	l.ApplyFill("X", candle.AssetStock, candle.SideBuy, 10, 20, 1)
	pos, ok := l.Get("X")
	if !ok {
		t.Fatal("expected open position")
	}
	if pos.Quantity != 20 {
		t.Fatalf("quantity = %v, want 20", pos.Quantity)
	}
	if math.Abs(pos.AvgPrice-15) > 1e-9 {
		t.Fatalf("avg price = %v, want 15", pos.AvgPrice)
	}
}

func TestLedgerDropsPositionBelowEpsilon(t *testing.T) {
	l := NewLedger()
	l.ApplyFill("X", candle.AssetStock, candle.SideBuy, 5, 10, 1)
	l.ApplyFill("X", candle.AssetStock, candle.SideSell, 5, 12, 1)
	if _, ok := l.Get("X"); ok {
		t.Fatal("expected position to be dropped once flat")
	}
}

func TestAccountingInvariantAfterFillSequence(t *testing.T) {
	acct := NewAccount(1000, 1)
	commission := 0.001

	buyCost := acct.ApplyBuyCash(20, 4, 1, commission)
	acct.Ledger.ApplyFill("A", candle.AssetStock, candle.SideBuy, 4, 20, 1)
	acct.Ledger.MarkPrice("A", 20)

	sellProceeds := acct.ApplySellCash(25, 2, 1, commission)
	acct.Ledger.ApplyFill("A", candle.AssetStock, candle.SideSell, 2, 25, 1)
	acct.Ledger.MarkPrice("A", 25)

	pos, _ := acct.Ledger.Get("A")
	cash, _, _ := acct.Snapshot()
	left := cash + pos.Quantity*pos.AvgPrice*pos.Multiplier

	totalBuyNotional := 20.0 * 4
	totalSellNotional := 25.0 * 2
	totalCommission := totalBuyNotional*commission + totalSellNotional*commission
	realizedPnL := (25.0 - 20.0) * 2
	right := 1000 + realizedPnL - totalCommission

	if math.Abs(left-right) > 1e-6 {
		t.Fatalf("accounting invariant violated: cash+position=%v, want %v (buyCost=%v sellProceeds=%v)", left, right, buyCost, sellProceeds)
	}
}

func TestInsufficientBuyingPowerRejectsExplicitQuantity(t *testing.T) {
	acct := NewAccount(100, 1)
	if acct.HasBuyingPower(21, 10, 1) {
		t.Fatal("expected 10 shares at markup 21 to exceed $100 buying power")
	}
	if !acct.HasBuyingPower(21, 4, 1) {
		t.Fatal("expected 4 shares at markup 21 to fit $100 buying power")
	}
}

func TestTransactionLogRetention(t *testing.T) {
	log := NewTransactionLog(time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	log.Append(Transaction{Timestamp: base, Symbol: "X", Quantity: 1})
	log.Append(Transaction{Timestamp: base.Add(2 * time.Minute), Symbol: "X", Quantity: 1})
	all := log.All()
	if len(all) != 1 {
		t.Fatalf("expected retention to prune the old entry, got %d entries", len(all))
	}
}
