// Package multiplexer implements §4.5: gathering per-symbol candle
// deliveries from one or more push/pull broker adapters into a single,
// timestamp-consistent snapshot the scheduler can hand to a strategy.
// Grounded on the teacher's step.go, which waits for a single OHLC row
// per tick; generalized here into a quorum-wait-with-timeout across an
// arbitrary watchlist, following the state machine spec.md §4.5 describes.
package multiplexer

import (
	"log"
	"sync"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
	"github.com/ksuh/tradekernel/internal/metrics"
)

// DefaultTimeout is the flush-timeout T named in §4.5.
const DefaultTimeout = 1 * time.Second

// LastCandleSource supplies the carry-forward substitute for a symbol that
// never delivered before the flush-timeout fired.
type LastCandleSource interface {
	LastCandle(symbol candle.Symbol, iv interval.Interval) (candle.Candle, bool)
}

// Multiplexer accumulates one tick's worth of per-symbol candles and flushes
// a complete snapshot either when every needed symbol has delivered, or when
// the flush-timeout fires and carry-forward fills the rest.
type Multiplexer struct {
	mu sync.Mutex

	watchlist []candle.Symbol
	baseInterval interval.Interval
	timeout   time.Duration
	source    LastCandleSource
	onFlush   func(tickTime time.Time, snapshot map[candle.Symbol]candle.Candle)
	logger    *log.Logger

	needed    map[candle.Symbol]bool
	snapshot  map[candle.Symbol]candle.Candle
	tickTime  time.Time
	flushed   bool
	timerSet  bool
	timer     *time.Timer
}

// New builds a Multiplexer over watchlist. onFlush is invoked (off the
// multiplexer's lock) once per tick with the completed snapshot; source
// supplies carry-forward candles when the timeout fires before every symbol
// has delivered. timeout<=0 uses DefaultTimeout.
func New(watchlist []candle.Symbol, baseInterval interval.Interval, source LastCandleSource, onFlush func(time.Time, map[candle.Symbol]candle.Candle), timeout time.Duration, logger *log.Logger) *Multiplexer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Multiplexer{
		watchlist:    watchlist,
		baseInterval: baseInterval,
		timeout:      timeout,
		source:       source,
		onFlush:      onFlush,
		logger:       logger,
	}
}

// Deliver feeds one per-symbol candle into the current tick, per §4.5's
// numbered algorithm. It is safe for concurrent use by multiple adapter
// producer goroutines.
func (m *Multiplexer) Deliver(symbol candle.Symbol, c candle.Candle) {
	m.mu.Lock()

	if m.needed == nil {
		m.startTick(c.Time)
	}

	m.snapshot[symbol] = c
	delete(m.needed, symbol)

	if len(m.needed) == 0 {
		snap, tickTime := m.drainLocked()
		m.mu.Unlock()
		m.flush(tickTime, snap)
		return
	}

	if !m.timerSet {
		m.timerSet = true
		m.timer = time.AfterFunc(m.timeout, m.onTimeout)
	}
	m.mu.Unlock()
}

// startTick must be called with mu held; it computes `needed` from the
// watchlist for a freshly-observed tick timestamp.
func (m *Multiplexer) startTick(tickTime time.Time) {
	m.needed = make(map[candle.Symbol]bool, len(m.watchlist))
	for _, s := range m.watchlist {
		m.needed[s] = true
	}
	m.snapshot = make(map[candle.Symbol]candle.Candle, len(m.watchlist))
	m.tickTime = tickTime
	m.flushed = false
	m.timerSet = false
}

// drainLocked must be called with mu held; it captures and clears the
// completed tick's state so the next Deliver starts a fresh tick.
func (m *Multiplexer) drainLocked() (map[candle.Symbol]candle.Candle, time.Time) {
	snap := m.snapshot
	tickTime := m.tickTime
	m.flushed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.needed = nil
	m.snapshot = nil
	m.timer = nil
	m.timerSet = false
	return snap, tickTime
}

// onTimeout is the flush-timeout task of §4.5 step 5/6: any symbol still
// outstanding is carry-forwarded from the price store with its timestamp
// rewritten to the tick timestamp.
func (m *Multiplexer) onTimeout() {
	m.mu.Lock()
	if m.flushed || m.needed == nil {
		m.mu.Unlock()
		return
	}
	metrics.MultiplexerTimeouts.Inc()
	for symbol := range m.needed {
		if last, ok := m.source.LastCandle(symbol, m.baseInterval); ok {
			carried := last
			carried.Time = m.tickTime
			m.snapshot[symbol] = carried
			m.logger.Printf("[MUX] carry-forward %s at tick %s", symbol, m.tickTime)
		} else {
			m.logger.Printf("[MUX] no candle available to carry-forward for %s at tick %s", symbol, m.tickTime)
		}
	}
	snap, tickTime := m.drainLocked()
	m.mu.Unlock()
	m.flush(tickTime, snap)
}

func (m *Multiplexer) flush(tickTime time.Time, snapshot map[candle.Symbol]candle.Candle) {
	if m.onFlush != nil {
		m.onFlush(tickTime, snapshot)
	}
}
