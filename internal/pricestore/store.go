// Package pricestore implements §4.2: a time-indexed OHLCV container keyed
// by (symbol, interval), with insert/query/aggregate and optional durable
// persistence. Grounded on the teacher's backtest.go (CSV candle loading)
// generalized from a single hard-coded symbol into a concurrent multi-symbol
// store, and on the storage-backend abstraction named in spec.md §9.
package pricestore

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
	"github.com/ksuh/tradekernel/internal/metrics"
)

// Persister snapshots and restores one series by (symbol, interval). A store
// can be constructed with or without one; see persist_file.go and
// persist_sql.go for concrete backends.
type Persister interface {
	SaveSeries(symbol candle.Symbol, iv interval.Interval, candles []candle.Candle) error
	LoadSeries(symbol candle.Symbol, iv interval.Interval) ([]candle.Candle, error)
}

type key struct {
	symbol candle.Symbol
	iv     interval.Interval
}

// Store is the concurrency-safe OHLCV container. Writers are streamer
// threads delivering new candles; readers are strategy invocations. Each
// series guards itself with its own lock so one symbol's writer never
// blocks another symbol's reader.
type Store struct {
	mu         sync.RWMutex
	series     map[key]*series
	capacity   int // default per-series cap; 0 = unbounded
	persist    Persister
	logger     *log.Logger
}

// Option configures a Store at construction.
type Option func(*Store)

// WithCapacity sets the default length cap applied to every series created
// from this point on (existing series are unaffected).
func WithCapacity(n int) Option {
	return func(s *Store) { s.capacity = n }
}

// WithPersister attaches a durable backend snapshotted/restored per series.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// WithLogger overrides the default logger (os.Stderr via log.Default()).
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(opts ...Option) *Store {
	s := &Store{series: make(map[key]*series), logger: log.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) get(k key) (*series, bool) {
	s.mu.RLock()
	ser, ok := s.series[k]
	s.mu.RUnlock()
	return ser, ok
}

func (s *Store) getOrCreate(k key) *series {
	if ser, ok := s.get(k); ok {
		return ser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ser, ok := s.series[k]; ok {
		return ser
	}
	ser := newSeries(s.capacity)
	s.series[k] = ser
	return ser
}

// StoreCandles inserts candles into (symbol, iv), creating the series if needed.
// Each candle must pass candle.Validate and be aligned to iv's boundary;
// the whole call fails with the first BadCandle encountered and nothing is
// applied (never partially).
func (s *Store) StoreCandles(symbol candle.Symbol, iv interval.Interval, candles []candle.Candle) error {
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return err
		}
		if !interval.IsBoundary(c.Time, iv) {
			return &candle.BadCandle{Reason: fmt.Sprintf("timestamp %v not aligned to %s boundary", c.Time, iv)}
		}
	}
	ser := s.getOrCreate(key{symbol, iv})
	ser.insert(candles)
	metrics.StoreSize.WithLabelValues(string(symbol), iv.String()).Set(float64(len(ser.all())))
	if s.persist != nil {
		if err := s.persist.SaveSeries(symbol, iv, ser.all()); err != nil {
			s.logger.Printf("[STORE] persist %s@%s failed: %v", symbol, iv, err)
		}
	}
	return nil
}

// Load returns the contiguous [start, end] range for (symbol, iv). A zero
// start/end is unbounded on that side. If iv is nil, the finest stored
// interval with at least one candle in the range is used; whether that
// series covers the whole range is not checked. If iv is not stored
// but a finer interval is, the finer series is resampled on demand and the
// result is NOT persisted back into iv (callers needing that call
// Aggregate explicitly).
func (s *Store) Load(symbol candle.Symbol, iv *interval.Interval, start, end time.Time) ([]candle.Candle, error) {
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return nil, nil
	}
	if iv != nil {
		if ser, ok := s.get(key{symbol, *iv}); ok {
			if out := ser.snapshot(start, end); len(out) > 0 {
				return out, nil
			}
		}
		return s.resampleOnDemand(symbol, *iv, start, end)
	}

	// No interval specified: pick the finest stored interval with coverage.
	for _, candidate := range interval.All {
		if ser, ok := s.get(key{symbol, candidate}); ok {
			if out := ser.snapshot(start, end); len(out) > 0 {
				return out, nil
			}
		}
	}
	return nil, nil
}

// resampleOnDemand finds the finest interval finer than target that has
// data and resamples it, without mutating the store.
func (s *Store) resampleOnDemand(symbol candle.Symbol, target interval.Interval, start, end time.Time) ([]candle.Candle, error) {
	for _, finer := range interval.All {
		if !finer.Less(target) {
			continue
		}
		ser, ok := s.get(key{symbol, finer})
		if !ok {
			continue
		}
		base := ser.all()
		if len(base) == 0 {
			continue
		}
		resampled, err := interval.Resample(base, finer, target)
		if err != nil {
			continue
		}
		return filterRange(resampled, start, end), nil
	}
	return nil, nil
}

func filterRange(cs []candle.Candle, start, end time.Time) []candle.Candle {
	var out []candle.Candle
	for _, c := range cs {
		if !start.IsZero() && c.Time.Before(start) {
			continue
		}
		if !end.IsZero() && c.Time.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Aggregate explicitly resamples base into target and merges the result
// into the target series (creating it if absent). This is how the
// scheduler materializes a strategy's declared aggregation intervals.
func (s *Store) Aggregate(symbol candle.Symbol, base, target interval.Interval) error {
	baseSer, ok := s.get(key{symbol, base})
	if !ok {
		return fmt.Errorf("no base series for %s@%s", symbol, base)
	}
	resampled, err := interval.Resample(baseSer.all(), base, target)
	if err != nil {
		return err
	}
	if len(resampled) == 0 {
		return nil
	}
	return s.StoreCandles(symbol, target, resampled)
}

// Reset drops the series for (symbol, iv) entirely.
func (s *Store) Reset(symbol candle.Symbol, iv interval.Interval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.series, key{symbol, iv})
}

// RangeOf returns the first and last stored timestamps for (symbol, iv).
func (s *Store) RangeOf(symbol candle.Symbol, iv interval.Interval) (first, last time.Time, ok bool) {
	ser, exists := s.get(key{symbol, iv})
	if !exists {
		return time.Time{}, time.Time{}, false
	}
	return ser.timeRange()
}

// LastCandle returns the most recent candle for (symbol, iv), if any. Used
// by the multiplexer for carry-forward substitution and by the strategy
// host for last-price queries.
func (s *Store) LastCandle(symbol candle.Symbol, iv interval.Interval) (candle.Candle, bool) {
	ser, ok := s.get(key{symbol, iv})
	if !ok {
		return candle.Candle{}, false
	}
	first, _, exists := ser.timeRange()
	_ = first
	all := ser.all()
	if len(all) == 0 || !exists {
		return candle.Candle{}, false
	}
	return all[len(all)-1], true
}

// RestoreFromPersister reloads every (symbol, iv) series known to the
// attached Persister. Called once at startup.
func (s *Store) RestoreFromPersister(pairs []struct {
	Symbol candle.Symbol
	Iv     interval.Interval
}) error {
	if s.persist == nil {
		return nil
	}
	for _, p := range pairs {
		cs, err := s.persist.LoadSeries(p.Symbol, p.Iv)
		if err != nil {
			return fmt.Errorf("restore %s@%s: %w", p.Symbol, p.Iv, err)
		}
		if len(cs) == 0 {
			continue
		}
		ser := s.getOrCreate(key{p.Symbol, p.Iv})
		ser.insert(cs)
	}
	return nil
}
