package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/ksuh/tradekernel/internal/broker"
	"github.com/ksuh/tradekernel/internal/candle"
)

func TestMarkUpMarkDownRoundToCents(t *testing.T) {
	if got := MarkUp(100); got != 105 {
		t.Fatalf("MarkUp(100) = %v, want 105", got)
	}
	if got := MarkDown(100); got != 95 {
		t.Fatalf("MarkDown(100) = %v, want 95", got)
	}
	if got := MarkUp(19.995); math.Abs(got-20.99) > 0.01 {
		t.Fatalf("MarkUp(19.995) = %v", got)
	}
}

func TestMaxAffordableWholeUnitsForStock(t *testing.T) {
	got := maxAffordable(100, 33, candle.AssetStock)
	if got != 3 {
		t.Fatalf("maxAffordable = %v, want 3", got)
	}
}

func TestMaxAffordableFractionalForCrypto(t *testing.T) {
	got := maxAffordable(100, 33, candle.AssetCrypto)
	want := math.Floor(100.0/33.0*1e5) / 1e5
	if got != want {
		t.Fatalf("maxAffordable crypto = %v, want %v", got, want)
	}
}

func TestFilterChainSortsByStrikeThenExpiration(t *testing.T) {
	e1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	contracts := map[candle.Symbol]broker.ChainContract{
		"B": {Strike: 50, Type: candle.Call, Expiration: e1},
		"A": {Strike: 40, Type: candle.Call, Expiration: e2},
		"C": {Strike: 50, Type: candle.Call, Expiration: e2},
		"D": {Strike: 60, Type: candle.Put, Expiration: e1},
	}
	got := FilterChain(contracts, candle.Call, 0, 0, time.Time{}, time.Time{})
	want := []candle.Symbol{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FilterChain[%d] = %s, want %s (%v)", i, got[i], want[i], got)
		}
	}
}
