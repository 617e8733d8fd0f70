// Package scheduler implements §4.6: the single tick loop that drives
// every strategy binding, backed by the multiplexer for cross-symbol
// consistency and by a Clock abstraction shared between live and replay
// drivers. Grounded on the teacher's live.go (ticker-driven poll loop,
// context-cancellation shutdown) generalized from one hard-coded product
// into an arbitrary set of strategy bindings.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ksuh/tradekernel/internal/broker"
	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
	"github.com/ksuh/tradekernel/internal/metrics"
	"github.com/ksuh/tradekernel/internal/multiplexer"
	"github.com/ksuh/tradekernel/internal/orderbook"
	"github.com/ksuh/tradekernel/internal/pricestore"
	"github.com/ksuh/tradekernel/internal/strategy"
)

// StrategyBinding pairs a strategy with its declared config and tracks
// whether it is still live (a crash removes it per §4.6).
type StrategyBinding struct {
	Strategy strategy.Strategy
	Config   strategy.Config
	crashed  bool
}

// Scheduler is the single tick-loop owner of §4.6. One Scheduler drives one
// broker/streamer; every bound strategy shares its store, order book,
// ledger, and account.
type Scheduler struct {
	mu sync.Mutex

	clock  Clock
	store  *pricestore.Store
	br     broker.Broker
	ledger *orderbook.Ledger
	acct   *orderbook.Account
	mux    *multiplexer.Multiplexer
	logger *log.Logger

	bindings     []*StrategyBinding
	watchlist    []candle.Symbol
	baseInterval interval.Interval

	pendingOrders map[string]pendingOrder // orderRef -> placement details, for the §4.6 step-4 poll

	tickErr chan error // surfaces errors raised inside the multiplexer's onFlush callback to Run
}

// pendingOrder is what the scheduler needs to apply a fill to the ledger
// once the broker reports one, since OrderStatusRecord itself carries no
// side or asset class.
type pendingOrder struct {
	symbol     candle.Symbol
	side       candle.Side
	assetClass candle.AssetClass
}

// New constructs a Scheduler. watchlist/baseInterval describe the finest
// cadence the multiplexer waits on; strategies may additionally declare
// coarser aggregation intervals via their Config.
func New(clock Clock, store *pricestore.Store, br broker.Broker, account *orderbook.Account, watchlist []candle.Symbol, baseInterval interval.Interval, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	s := &Scheduler{
		clock:         clock,
		store:         store,
		br:            br,
		ledger:        account.Ledger,
		acct:          account,
		logger:        logger,
		watchlist:     watchlist,
		baseInterval:  baseInterval,
		pendingOrders: make(map[string]pendingOrder),
		tickErr:       make(chan error, 1),
	}
	s.mux = multiplexer.New(watchlist, baseInterval, store, s.onFlush, multiplexer.DefaultTimeout, logger)
	return s
}

// Bind adds a strategy, finalizing its binding immediately (Setup is
// deferred to Run, once the clock is known).
func (s *Scheduler) Bind(strat strategy.Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = append(s.bindings, &StrategyBinding{Strategy: strat, Config: strat.Config()})
}

// trackOrder records an order reference placed by a strategy so the next
// tick's order-book poll picks up its fill status. Strategies reach this
// indirectly through RuntimeContext.Buy/Sell; the scheduler wraps the
// broker handed to RuntimeContext so every placed ref is captured here.
func (s *Scheduler) trackOrder(ref string, symbol candle.Symbol, side candle.Side, class candle.AssetClass) {
	if ref == "" {
		return
	}
	s.mu.Lock()
	s.pendingOrders[ref] = pendingOrder{symbol: symbol, side: side, assetClass: class}
	s.mu.Unlock()
}

// Deliver feeds one per-symbol candle into the multiplexer; it is the
// callback a broker adapter's SnapshotCallback should be wired to for
// push-mode streaming.
func (s *Scheduler) Deliver(symbol candle.Symbol, c candle.Candle) {
	s.mux.Deliver(symbol, c)
}

// onFlush is the multiplexer's completion callback and the entry point into
// one scheduler tick (§4.6 steps 3-5; steps 1-2 already happened in the
// multiplexer). Errors are handed back to Run over tickErr rather than
// returned, since the multiplexer's onFlush signature has no error return.
func (s *Scheduler) onFlush(tickTime time.Time, snapshot map[candle.Symbol]candle.Candle) {
	if err := s.tick(context.Background(), tickTime, snapshot); err != nil {
		select {
		case s.tickErr <- err:
		default:
		}
	}
}

// Run drives the scheduler loop per §4.6 until ctx is cancelled or every
// strategy binding has crashed. Setup is called once per binding before the
// first tick. Run is pull-mode: it advances the clock itself and fetches a
// snapshot directly from the broker each step, which is the shape both the
// wall-clock live loop and the replay (backtest) loop share. Push-mode
// adapters should instead wire their SnapshotCallback to Deliver and rely on
// onFlush to drive ticks; in that mode callers run their own adapter
// read-loop instead of calling Run.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	for _, b := range s.bindings {
		rc := strategy.NewRuntimeContext(s.clock.Now(), s.store, s.ledger, s.acct, s.br, s.logger)
		if err := b.Strategy.Setup(rc); err != nil {
			s.logger.Printf("[SCHED] setup failed for %s: %v", b.Config.Name, err)
			b.crashed = true
		}
	}
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("[SCHED] shutdown: draining current tick")
			return s.shutdown()
		case err := <-s.tickErr:
			s.logger.Printf("[SCHED] tick error from push-mode delivery: %v", err)
			return err
		default:
		}

		t, ok := s.clock.Advance()
		if !ok {
			s.logger.Printf("[SCHED] clock exhausted")
			return s.shutdown()
		}

		snapshot, err := s.br.FetchLatestSnapshot(ctx, s.watchlist)
		if err != nil {
			s.logger.Printf("[SCHED] snapshot fetch failed at %s: %v", t, err)
			continue
		}

		if err := s.tick(ctx, t, snapshot); err != nil {
			return err
		}

		if s.allCrashed() {
			s.logger.Printf("[SCHED] every strategy binding crashed; stopping")
			return nil
		}
	}
}

// tick implements §4.6 steps 3-5 for one already-gathered snapshot.
func (s *Scheduler) tick(ctx context.Context, t time.Time, snapshot map[candle.Symbol]candle.Candle) error {
	s.mu.Lock()
	bindings := append([]*StrategyBinding(nil), s.bindings...)
	s.mu.Unlock()

	// Step 3: store writes + declared aggregations.
	for symbol, c := range snapshot {
		if err := s.store.StoreCandles(symbol, s.baseInterval, []candle.Candle{c}); err != nil {
			s.logger.Printf("[STORE] reject %s@%s: %v", symbol, s.baseInterval, err)
			continue
		}
		s.ledger.MarkPrice(symbol, c.Close)
	}
	for _, b := range bindings {
		if b.crashed {
			continue
		}
		for _, agg := range b.Config.Aggregations {
			if !interval.IsBoundary(t, agg) {
				continue
			}
			for _, symbol := range b.Config.Watchlist {
				if err := s.store.Aggregate(symbol, s.baseInterval, agg); err != nil {
					s.logger.Printf("[STORE] aggregate %s %s->%s: %v", symbol, s.baseInterval, agg, err)
				}
			}
		}
	}

	// Step 4: poll the order book, applying fills to the position ledger.
	// Cash and the order's own terminal status remain authoritative at the
	// broker (the paper broker self-settles on every snapshot it forwards);
	// this step keeps the scheduler's ledger view of positions current so
	// strategies never need a broker round-trip to see their own fills.
	s.pollOrders(ctx)

	// Step 5: sequential strategy invocation, in binding order, for every
	// strategy whose own interval boundary fires at t.
	for _, b := range bindings {
		if b.crashed {
			continue
		}
		if !interval.IsBoundary(t, b.Config.Interval) {
			continue
		}
		s.invoke(ctx, b, t)
	}
	metrics.SchedulerTicks.Inc()
	metrics.SetEquity("default", s.acct.Equity())
	return nil
}

// invoke runs one strategy's Main, converting a panic into a logged crash
// and unbinding the strategy, per §4.6's "a strategy that panics is removed
// from the active set; the scheduler logs the crash and continues with the
// remaining bindings" behavior.
func (s *Scheduler) invoke(ctx context.Context, b *StrategyBinding, t time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("[SCHED] strategy %s crashed: %v", b.Config.Name, r)
			metrics.StrategyCrashes.WithLabelValues(b.Config.Name).Inc()
			s.mu.Lock()
			b.crashed = true
			s.mu.Unlock()
		}
	}()
	metrics.StrategyInvocations.WithLabelValues(b.Config.Name).Inc()
	rc := strategy.NewRuntimeContext(t, s.store, s.ledger, s.acct, &trackingBroker{Broker: s.br, sched: s}, s.logger)
	if err := b.Strategy.Main(rc); err != nil {
		s.logger.Printf("[SCHED] strategy %s returned error, unbinding: %v", b.Config.Name, err)
		s.mu.Lock()
		b.crashed = true
		s.mu.Unlock()
	}
}

// pollOrders asks the broker for updated status on every order a strategy
// has placed this run and applies fills to the local position ledger.
func (s *Scheduler) pollOrders(ctx context.Context) {
	s.mu.Lock()
	pending := make(map[string]pendingOrder, len(s.pendingOrders))
	for ref, po := range s.pendingOrders {
		pending[ref] = po
	}
	s.mu.Unlock()

	for ref, po := range pending {
		status, err := s.br.FetchOrderStatus(ctx, ref)
		if err != nil {
			s.logger.Printf("[SCHED] order status %s: %v", ref, err)
			continue
		}
		switch orderbook.Status(status.Status) {
		case orderbook.StatusFilled:
			mult := 1.0
			if po.assetClass == candle.AssetOption {
				mult = 100
			}
			s.ledger.ApplyFill(po.symbol, po.assetClass, po.side, status.FilledQuantity, status.FilledPrice, mult)
			metrics.ObserveOrderFilled(string(po.side), po.assetClass.String())
			s.logger.Printf("[SCHED] order %s (%s) filled %.4f@%.4f", ref, po.symbol, status.FilledQuantity, status.FilledPrice)
			s.mu.Lock()
			delete(s.pendingOrders, ref)
			s.mu.Unlock()
		case orderbook.StatusCancelled, orderbook.StatusRejected:
			if orderbook.Status(status.Status) == orderbook.StatusRejected {
				metrics.ObserveOrderRejected("broker_rejected")
			}
			s.mu.Lock()
			delete(s.pendingOrders, ref)
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) allCrashed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		if !b.crashed {
			return false
		}
	}
	return len(s.bindings) > 0
}

// shutdown stops the broker, per §4.6's cancellation contract. The store
// persists synchronously on every StoreCandles call, so no separate flush
// step is needed here.
func (s *Scheduler) shutdown() error {
	if err := s.br.Stop(); err != nil {
		return fmt.Errorf("scheduler shutdown: stopping broker: %w", err)
	}
	return nil
}

// trackingBroker wraps the scheduler's broker so every order a strategy
// places through RuntimeContext is registered with pollOrders, without
// requiring RuntimeContext itself to know about the scheduler.
type trackingBroker struct {
	broker.Broker
	sched *Scheduler
}

func (t *trackingBroker) PlaceLimit(ctx context.Context, side candle.Side, symbol candle.Symbol, quantity, limitPrice float64, timeInForce string, extendedHours bool) (string, error) {
	ref, err := t.Broker.PlaceLimit(ctx, side, symbol, quantity, limitPrice, timeInForce, extendedHours)
	if err == nil {
		t.sched.trackOrder(ref, symbol, side, symbol.Class())
		metrics.ObserveOrderPlaced(string(side), symbol.Class().String())
	}
	return ref, err
}

func (t *trackingBroker) PlaceOptionLimit(ctx context.Context, side candle.Side, symbol candle.Symbol, quantity, limitPrice float64, timeInForce string) (string, error) {
	ref, err := t.Broker.PlaceOptionLimit(ctx, side, symbol, quantity, limitPrice, timeInForce)
	if err == nil {
		t.sched.trackOrder(ref, symbol, side, candle.AssetOption)
		metrics.ObserveOrderPlaced(string(side), candle.AssetOption.String())
	}
	return ref, err
}
