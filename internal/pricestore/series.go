package pricestore

import (
	"sort"
	"sync"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
)

// series is a time-indexed, append-only (modulo overwrite) sequence of
// candles for one (symbol, interval) pair. Invariants enforced by insert:
// strictly increasing timestamps and last-write-wins on duplicate
// timestamps. Interval alignment is not checked here; Store.StoreCandles
// checks it before calling insert.
type series struct {
	mu       sync.RWMutex
	candles  []candle.Candle
	capacity int // 0 = unbounded
}

func newSeries(capacity int) *series {
	return &series{capacity: capacity}
}

// insert adds or overwrites candles, keeping the slice sorted ascending by
// time. Returns the number of candles actually applied (informational).
func (s *series) insert(cs []candle.Candle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := 0
	for _, c := range cs {
		idx := sort.Search(len(s.candles), func(i int) bool { return !s.candles[i].Time.Before(c.Time) })
		if idx < len(s.candles) && s.candles[idx].Time.Equal(c.Time) {
			s.candles[idx] = c // last-write-wins overwrite
		} else {
			s.candles = append(s.candles, candle.Candle{})
			copy(s.candles[idx+1:], s.candles[idx:])
			s.candles[idx] = c
		}
		applied++
	}
	if s.capacity > 0 && len(s.candles) > s.capacity {
		excess := len(s.candles) - s.capacity
		s.candles = s.candles[excess:]
	}
	return applied
}

// snapshot returns a copy of the candles in [start, end]; zero time bounds
// are treated as unbounded.
func (s *series) snapshot(start, end time.Time) []candle.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return nil
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return nil
	}
	lo := 0
	if !start.IsZero() {
		lo = sort.Search(len(s.candles), func(i int) bool { return !s.candles[i].Time.Before(start) })
	}
	hi := len(s.candles)
	if !end.IsZero() {
		hi = sort.Search(len(s.candles), func(i int) bool { return s.candles[i].Time.After(end) })
	}
	if lo >= hi {
		return nil
	}
	out := make([]candle.Candle, hi-lo)
	copy(out, s.candles[lo:hi])
	return out
}

// all returns a copy of every stored candle.
func (s *series) all() []candle.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]candle.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// timeRange returns the first and last stored timestamps.
func (s *series) timeRange() (first, last time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s.candles[0].Time, s.candles[len(s.candles)-1].Time, true
}
