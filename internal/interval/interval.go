// Package interval implements the canonical time cadences of §4.1: a total
// order over durations, boundary predicates, and OHLCV resampling.
// Grounded on the original source's harvest/utils.py (Interval IntEnum,
// is_freq, expand_interval, interval_to_timedelta) and adapted to the
// teacher's style of small, table-driven helper functions (indicators.go).
package interval

import (
	"fmt"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
)

// Interval is a closed, ordered enumeration of trading cadences. Declared in
// increasing duration order so plain int comparison gives the total order
// the spec requires ("every aggregation is reachable by resampling from
// interval", "interval <= min(aggregations)").
type Interval int

const (
	Sec15 Interval = iota
	Min1
	Min5
	Min15
	Min30
	Hour1
	Day1
)

// All lists every interval in increasing order.
var All = []Interval{Sec15, Min1, Min5, Min15, Min30, Hour1, Day1}

// canonicalStrings is the §6 user-facing encoding.
var canonicalStrings = map[Interval]string{
	Sec15: "15SEC",
	Min1:  "1MIN",
	Min5:  "5MIN",
	Min15: "15MIN",
	Min30: "30MIN",
	Hour1: "1HR",
	Day1:  "1DAY",
}

// String returns the canonical interval string.
func (i Interval) String() string {
	if s, ok := canonicalStrings[i]; ok {
		return s
	}
	return fmt.Sprintf("Interval(%d)", int(i))
}

// Parse canonicalizes a user-facing interval string into the enum.
func Parse(s string) (Interval, error) {
	for iv, str := range canonicalStrings {
		if str == s {
			return iv, nil
		}
	}
	return 0, fmt.Errorf("invalid interval string %q", s)
}

// Duration returns the fixed-length duration of one interval period. Day1 is
// nominal (24h) for arithmetic purposes; its firing boundary is governed by
// DailyBoundaryUTC, not by adding 24h to midnight.
func (i Interval) Duration() time.Duration {
	switch i {
	case Sec15:
		return 15 * time.Second
	case Min1:
		return time.Minute
	case Min5:
		return 5 * time.Minute
	case Min15:
		return 15 * time.Minute
	case Min30:
		return 30 * time.Minute
	case Hour1:
		return time.Hour
	case Day1:
		return 24 * time.Hour
	default:
		return 0
	}
}

// DailyBoundaryUTC is the fixed UTC minute-of-day at which the 1-day
// interval fires, pinned from the original source's harvest/utils.py:
// is_freq (`minutes == 50 and hours == 19`), i.e. 19:50 UTC. Per the
// REDESIGN open question in spec.md §9, this keeps the source's
// simplification instead of deriving it from an exchange calendar, but
// exposes it as an overridable variable rather than a buried literal.
var DailyBoundaryUTC = struct{ Hour, Minute int }{Hour: 19, Minute: 50}

// IsBoundary reports whether ts is a firing boundary of interval i. Must
// agree with Resample: a candle at timestamp t in interval i exists iff
// IsBoundary(t, i) holds.
func IsBoundary(ts time.Time, i Interval) bool {
	ts = ts.UTC()
	switch i {
	case Sec15:
		return ts.Second()%15 == 0
	case Min1:
		return true
	case Min5:
		return ts.Minute()%5 == 0 && ts.Second() == 0
	case Min15:
		return ts.Minute()%15 == 0 && ts.Second() == 0
	case Min30:
		return ts.Minute()%30 == 0 && ts.Second() == 0
	case Hour1:
		return ts.Minute() == 0 && ts.Second() == 0
	case Day1:
		return ts.Hour() == DailyBoundaryUTC.Hour && ts.Minute() == DailyBoundaryUTC.Minute && ts.Second() == 0
	default:
		return false
	}
}

// Less reports whether i has a strictly shorter duration than other, i.e.
// the total order the spec requires over intervals.
func (i Interval) Less(other Interval) bool { return i < other }

// BucketStart returns the boundary timestamp of interval i that ts falls
// into: the latest boundary <= ts. Used by Resample to group finer candles
// into coarser buckets.
func BucketStart(ts time.Time, i Interval) time.Time {
	ts = ts.UTC()
	switch i {
	case Sec15:
		sec := (ts.Second() / 15) * 15
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), sec, 0, time.UTC)
	case Min1:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), 0, 0, time.UTC)
	case Min5:
		m := (ts.Minute() / 5) * 5
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), m, 0, 0, time.UTC)
	case Min15:
		m := (ts.Minute() / 15) * 15
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), m, 0, 0, time.UTC)
	case Min30:
		m := (ts.Minute() / 30) * 30
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), m, 0, 0, time.UTC)
	case Hour1:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, time.UTC)
	case Day1:
		boundary := time.Date(ts.Year(), ts.Month(), ts.Day(), DailyBoundaryUTC.Hour, DailyBoundaryUTC.Minute, 0, 0, time.UTC)
		if ts.Before(boundary) {
			boundary = boundary.AddDate(0, 0, -1)
		}
		return boundary
	default:
		return ts
	}
}

// Resample aggregates a series at interval from into interval to: open is
// the first candle's open, high the max, low the min, close the last
// candle's close, volume the sum, per bucket. Every incomplete bucket
// (one that has not accumulated a full period's worth of base candles) is
// dropped, whether it's the trailing bucket or a gap mid-series, since
// the spec requires is_boundary(ts, to) to agree with which candles
// Resample actually emits and a partial bucket's high/low/volume would
// otherwise be silently wrong.
func Resample(series []candle.Candle, from, to Interval) ([]candle.Candle, error) {
	if !from.Less(to) {
		return nil, fmt.Errorf("resample target %s must be coarser than base %s", to, from)
	}
	if len(series) == 0 {
		return nil, nil
	}

	type bucket struct {
		start   time.Time
		candles []candle.Candle
	}
	var buckets []*bucket
	byStart := map[time.Time]*bucket{}
	for _, c := range series {
		start := BucketStart(c.Time, to)
		b, ok := byStart[start]
		if !ok {
			b = &bucket{start: start}
			byStart[start] = b
			buckets = append(buckets, b)
		}
		b.candles = append(b.candles, c)
	}

	expected := 0
	if fromDur, toDur := from.Duration(), to.Duration(); fromDur > 0 {
		expected = int(toDur / fromDur)
	}

	out := make([]candle.Candle, 0, len(buckets))
	for _, b := range buckets {
		if expected > 0 && len(b.candles) < expected {
			// Incomplete bucket, whether it's short because it hasn't
			// closed yet or because of a gap in the base series — either
			// way it does not have every base candle it should, so it is
			// dropped rather than aggregated from partial data.
			continue
		}
		agg := candle.Candle{
			Time:   b.start,
			Open:   b.candles[0].Open,
			High:   b.candles[0].High,
			Low:    b.candles[0].Low,
			Close:  b.candles[len(b.candles)-1].Close,
			Volume: 0,
		}
		for _, c := range b.candles {
			if c.High > agg.High {
				agg.High = c.High
			}
			if c.Low < agg.Low {
				agg.Low = c.Low
			}
			agg.Volume += c.Volume
		}
		out = append(out, agg)
	}
	return out, nil
}
