package interval

import (
	"testing"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
)

func TestParseCanonicalStrings(t *testing.T) {
	for _, iv := range All {
		s := iv.String()
		parsed, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if parsed != iv {
			t.Errorf("Parse(%q) = %v, want %v", s, parsed, iv)
		}
	}
}

func TestIsBoundary(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	if !IsBoundary(base, Min1) {
		t.Error("every minute is a 1MIN boundary")
	}
	if !IsBoundary(base, Min5) {
		t.Error("14:30 should be a 5MIN boundary")
	}
	if IsBoundary(base.Add(time.Minute), Min5) {
		t.Error("14:31 should not be a 5MIN boundary")
	}
	dailyBoundary := time.Date(2024, 3, 1, 19, 50, 0, 0, time.UTC)
	if !IsBoundary(dailyBoundary, Day1) {
		t.Error("19:50 UTC should be the 1DAY boundary")
	}
}

func TestResampleHourFromMinutes(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var series []candle.Candle
	var totalVol float64
	for i := 0; i < 60; i++ {
		v := float64(i)
		series = append(series, candle.Candle{
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   v,
			High:   v,
			Low:    v,
			Close:  v,
			Volume: 1,
		})
		totalVol += 1
	}

	out, err := Resample(series, Min1, Hour1)
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 complete hourly bucket, got %d", len(out))
	}
	got := out[0]
	if got.Open != 0 || got.High != 59 || got.Low != 0 || got.Close != 59 {
		t.Errorf("unexpected OHLC: %+v", got)
	}
	if got.Volume != totalVol {
		t.Errorf("volume = %v, want %v", got.Volume, totalVol)
	}
	if !got.Time.Equal(start) {
		t.Errorf("bucket time = %v, want %v", got.Time, start)
	}
}

func TestResampleDropsIncompleteTrailingBucket(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var series []candle.Candle
	for i := 0; i < 65; i++ { // 1 full hour + 5 extra minutes
		series = append(series, candle.Candle{Time: start.Add(time.Duration(i) * time.Minute), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	}
	out, err := Resample(series, Min1, Hour1)
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected only the complete hour, got %d buckets", len(out))
	}
}

func TestResampleRejectsNonCoarserTarget(t *testing.T) {
	if _, err := Resample(nil, Hour1, Min1); err == nil {
		t.Fatal("expected error resampling to a finer interval")
	}
}
