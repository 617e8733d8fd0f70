package scheduler

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/ksuh/tradekernel/internal/broker"
	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
	"github.com/ksuh/tradekernel/internal/orderbook"
	"github.com/ksuh/tradekernel/internal/pricestore"
	"github.com/ksuh/tradekernel/internal/strategy"
)

// fakeBroker serves a fixed sequence of snapshots to Run's pull loop and
// fills orders immediately on placement at their limit price, so the
// scheduler's next order poll already sees them filled.
type fakeBroker struct {
	snapshots []map[candle.Symbol]candle.Candle
	idx       int
	orders    map[string]broker.OrderStatusRecord
	nextID    int
	stopped   bool
}

func newFakeBroker(snapshots []map[candle.Symbol]candle.Candle) *fakeBroker {
	return &fakeBroker{snapshots: snapshots, orders: map[string]broker.OrderStatusRecord{}}
}

func (f *fakeBroker) Configure([]candle.Symbol, []interval.Interval, broker.SnapshotCallback) error {
	return nil
}
func (f *fakeBroker) Start(ctx context.Context) error { return nil }
func (f *fakeBroker) Stop() error                     { f.stopped = true; return nil }
func (f *fakeBroker) SupportedIntervals() []interval.Interval {
	return []interval.Interval{interval.Min1}
}
func (f *fakeBroker) FetchPriceHistory(ctx context.Context, symbol candle.Symbol, iv interval.Interval, start, end time.Time) ([]candle.Candle, error) {
	return nil, nil
}
func (f *fakeBroker) FetchLatestSnapshot(ctx context.Context, watchlist []candle.Symbol) (map[candle.Symbol]candle.Candle, error) {
	if f.idx >= len(f.snapshots) {
		return map[candle.Symbol]candle.Candle{}, nil
	}
	snap := f.snapshots[f.idx]
	f.idx++
	return snap, nil
}
func (f *fakeBroker) FetchChainInfo(ctx context.Context, underlying candle.Symbol) (broker.ChainInfo, error) {
	return broker.ChainInfo{}, nil
}
func (f *fakeBroker) FetchChainData(ctx context.Context, underlying candle.Symbol, expiration time.Time) (map[candle.Symbol]broker.ChainContract, error) {
	return nil, nil
}
func (f *fakeBroker) FetchOptionMarketData(ctx context.Context, occSymbol candle.Symbol) (broker.OptionMarketData, error) {
	return broker.OptionMarketData{}, nil
}
func (f *fakeBroker) FetchAccount(ctx context.Context) (broker.AccountInfo, error) {
	return broker.AccountInfo{}, nil
}
func (f *fakeBroker) FetchPositions(ctx context.Context) (broker.PositionSet, error) {
	return broker.PositionSet{}, nil
}
func (f *fakeBroker) PlaceLimit(ctx context.Context, side candle.Side, symbol candle.Symbol, quantity, limitPrice float64, tif string, extended bool) (string, error) {
	f.nextID++
	id := "ord-" + string(rune('0'+f.nextID))
	f.orders[id] = broker.OrderStatusRecord{Status: string(orderbook.StatusFilled), FilledQuantity: quantity, FilledPrice: limitPrice, FilledTime: time.Now().UTC()}
	return id, nil
}
func (f *fakeBroker) PlaceOptionLimit(ctx context.Context, side candle.Side, occSymbol candle.Symbol, quantity, limitPrice float64, tif string) (string, error) {
	return f.PlaceLimit(ctx, side, occSymbol, quantity, limitPrice, tif, false)
}
func (f *fakeBroker) FetchOrderStatus(ctx context.Context, orderRef string) (broker.OrderStatusRecord, error) {
	return f.orders[orderRef], nil
}
func (f *fakeBroker) CancelOrder(ctx context.Context, orderRef string) error { return nil }
func (f *fakeBroker) PendingOrders(ctx context.Context) ([]string, error)   { return nil, nil }
func (f *fakeBroker) Name() string                                          { return "fake" }

// countingStrategy records every Main invocation and optionally places an
// order on its first call.
type countingStrategy struct {
	cfg      strategy.Config
	calls    int
	buyOnce  bool
	bought   bool
	panicked bool
}

func (c *countingStrategy) Config() strategy.Config { return c.cfg }
func (c *countingStrategy) Setup(rc *strategy.RuntimeContext) error { return nil }
func (c *countingStrategy) Main(rc *strategy.RuntimeContext) error {
	c.calls++
	if c.panicked {
		panic("boom")
	}
	if c.buyOnce && !c.bought {
		c.bought = true
		rc.Buy(context.Background(), "X", interval.Min1, 1)
	}
	return nil
}

func newTestScheduler(snapshots []map[candle.Symbol]candle.Candle) (*Scheduler, *fakeBroker) {
	fb := newFakeBroker(snapshots)
	store := pricestore.New()
	acct := orderbook.NewAccount(10000, 1)
	clock := NewReplayClock(time.Unix(0, 0).UTC(), time.Unix(0, 0).UTC().Add(time.Duration(len(snapshots))*time.Minute), time.Minute)
	sched := New(clock, store, fb, acct, []candle.Symbol{"X"}, interval.Min1, log.New(discard{}, "", 0))
	return sched, fb
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestSchedulerInvokesBoundStrategyEveryTick(t *testing.T) {
	snaps := []map[candle.Symbol]candle.Candle{
		{"X": {Time: time.Unix(60, 0).UTC(), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}},
		{"X": {Time: time.Unix(120, 0).UTC(), Open: 2, High: 2, Low: 2, Close: 2, Volume: 1}},
	}
	sched, _ := newTestScheduler(snaps)
	cs := &countingStrategy{cfg: strategy.Config{Name: "c", Watchlist: []candle.Symbol{"X"}, Interval: interval.Min1}}
	sched.Bind(cs)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_ = sched.Run(ctx)

	if cs.calls < 2 {
		t.Fatalf("calls = %d, want at least 2", cs.calls)
	}
}

func TestSchedulerUnbindsOnPanic(t *testing.T) {
	snaps := []map[candle.Symbol]candle.Candle{
		{"X": {Time: time.Unix(60, 0).UTC(), Close: 1}},
		{"X": {Time: time.Unix(120, 0).UTC(), Close: 2}},
		{"X": {Time: time.Unix(180, 0).UTC(), Close: 3}},
	}
	sched, _ := newTestScheduler(snaps)
	cs := &countingStrategy{cfg: strategy.Config{Name: "c", Watchlist: []candle.Symbol{"X"}, Interval: interval.Min1}, panicked: true}
	sched.Bind(cs)

	err := sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if cs.calls != 1 {
		t.Fatalf("calls = %d, want exactly 1 (crash on first tick unbinds)", cs.calls)
	}
}

func TestSchedulerTracksPlacedOrdersAndMarksLedgerOnFill(t *testing.T) {
	snaps := []map[candle.Symbol]candle.Candle{
		{"X": {Time: time.Unix(60, 0).UTC(), Close: 10}},
		{"X": {Time: time.Unix(120, 0).UTC(), Close: 11}},
	}
	sched, _ := newTestScheduler(snaps)
	cs := &countingStrategy{cfg: strategy.Config{Name: "c", Watchlist: []candle.Symbol{"X"}, Interval: interval.Min1}, buyOnce: true}
	sched.Bind(cs)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_ = sched.Run(ctx)

	if !cs.bought {
		t.Fatal("expected strategy to have placed a buy order")
	}
	pos, ok := sched.ledger.Get("X")
	if !ok || pos.Quantity <= 0 {
		t.Fatalf("expected a tracked position after fill, got %+v ok=%v", pos, ok)
	}
}
