package strategy

import (
	"math"
	"testing"
)

func TestSMAReturnsEmptyWhenShorterThanPeriod(t *testing.T) {
	if got := SMA([]float64{1, 2}, 5); got != nil {
		t.Fatalf("expected nil for short input, got %v", got)
	}
}

func TestSMALastValue(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	got := SMA(prices, 3)
	want := (3.0 + 4.0 + 5.0) / 3.0
	if math.Abs(got[len(got)-1]-want) > 1e-9 {
		t.Fatalf("SMA tail = %v, want %v", got[len(got)-1], want)
	}
}

func TestEMASeedsWithSMA(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	got := EMA(prices, 3)
	wantSeed := 2.0 // SMA(1,2,3)
	if math.Abs(got[2]-wantSeed) > 1e-9 {
		t.Fatalf("EMA seed = %v, want %v", got[2], wantSeed)
	}
}

func TestRSIAllGainsSaturatesAt100(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	got := RSI(prices, 5)
	if got[len(got)-1] != 100 {
		t.Fatalf("RSI = %v, want 100 for all-gains series", got[len(got)-1])
	}
}

func TestBollingerBandsStraddleSMA(t *testing.T) {
	prices := []float64{10, 11, 9, 12, 8, 13, 7}
	mid, upper, lower := BollingerBands(prices, 4, 2)
	for i := 3; i < len(prices); i++ {
		if !(lower[i] <= mid[i] && mid[i] <= upper[i]) {
			t.Fatalf("bands out of order at %d: lower=%v mid=%v upper=%v", i, lower[i], mid[i], upper[i])
		}
	}
}
