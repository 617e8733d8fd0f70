package pricestore

import (
	"testing"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
)

func mkCandle(ts time.Time, v float64) candle.Candle {
	return candle.Candle{Time: ts, Open: v, High: v, Low: v, Close: v, Volume: 1}
}

func TestStoreIdempotentInsert(t *testing.T) {
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := []candle.Candle{mkCandle(base, 1), mkCandle(base.Add(time.Minute), 2)}

	if err := s.StoreCandles("X", interval.Min1, c); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if err := s.StoreCandles("X", interval.Min1, c); err != nil {
		t.Fatalf("second store: %v", err)
	}
	got, err := s.Load("X", ptr(interval.Min1), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candles after idempotent re-store, got %d", len(got))
	}
}

func TestStoreOverwriteOnDuplicateTimestamp(t *testing.T) {
	s := New()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.StoreCandles("X", interval.Min1, []candle.Candle{mkCandle(ts, 1)}); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreCandles("X", interval.Min1, []candle.Candle{mkCandle(ts, 99)}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Load("X", ptr(interval.Min1), time.Time{}, time.Time{})
	if len(got) != 1 || got[0].Close != 99 {
		t.Fatalf("expected overwrite to last-write-wins, got %+v", got)
	}
}

func TestStoreRejectsMisalignedBoundary(t *testing.T) {
	s := New()
	ts := time.Date(2024, 1, 1, 0, 1, 30, 0, time.UTC) // not on a 5-min boundary
	err := s.StoreCandles("X", interval.Min5, []candle.Candle{mkCandle(ts, 1)})
	if err == nil {
		t.Fatal("expected BadCandle for misaligned timestamp")
	}
}

func TestLoadEmptyOnInvertedRange(t *testing.T) {
	s := New()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = s.StoreCandles("X", interval.Min1, []candle.Candle{mkCandle(ts, 1)})
	got, err := s.Load("X", ptr(interval.Min1), ts.Add(time.Hour), ts)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result for start > end, got %d", len(got))
	}
}

func TestLoadResamplesOnDemandWhenCoarserMissing(t *testing.T) {
	s := New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var candles []candle.Candle
	for i := 0; i < 60; i++ {
		candles = append(candles, mkCandle(start.Add(time.Duration(i)*time.Minute), float64(i)))
	}
	if err := s.StoreCandles("Y", interval.Min1, candles); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load("Y", ptr(interval.Hour1), time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one on-demand resampled hour, got %d", len(got))
	}
}

func TestAggregateMergesIntoTargetSeries(t *testing.T) {
	s := New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var candles []candle.Candle
	for i := 0; i < 60; i++ {
		candles = append(candles, mkCandle(start.Add(time.Duration(i)*time.Minute), float64(i)))
	}
	if err := s.StoreCandles("Z", interval.Min1, candles); err != nil {
		t.Fatal(err)
	}
	if err := s.Aggregate("Z", interval.Min1, interval.Hour1); err != nil {
		t.Fatal(err)
	}
	first, last, ok := s.RangeOf("Z", interval.Hour1)
	if !ok {
		t.Fatal("expected hourly series to exist after aggregate")
	}
	if !first.Equal(start) || !last.Equal(start) {
		t.Fatalf("unexpected range %v..%v", first, last)
	}
}

func TestResetDropsSeries(t *testing.T) {
	s := New()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = s.StoreCandles("X", interval.Min1, []candle.Candle{mkCandle(ts, 1)})
	s.Reset("X", interval.Min1)
	if _, _, ok := s.RangeOf("X", interval.Min1); ok {
		t.Fatal("expected series to be gone after Reset")
	}
}

func ptr(i interval.Interval) *interval.Interval { return &i }
