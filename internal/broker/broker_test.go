package broker

import (
	"context"
	"testing"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
	"github.com/ksuh/tradekernel/internal/orderbook"
)

// fakeStreamer is a minimal Broker used as PaperBroker's upstream data
// source in tests; only Configure/FetchLatestSnapshot are exercised.
type fakeStreamer struct {
	cb SnapshotCallback
}

func (f *fakeStreamer) Configure(watchlist []candle.Symbol, intervals []interval.Interval, cb SnapshotCallback) error {
	f.cb = cb
	return nil
}
func (f *fakeStreamer) Start(ctx context.Context) error { return nil }
func (f *fakeStreamer) Stop() error                     { return nil }
func (f *fakeStreamer) SupportedIntervals() []interval.Interval {
	return []interval.Interval{interval.Min1}
}
func (f *fakeStreamer) FetchPriceHistory(ctx context.Context, symbol candle.Symbol, iv interval.Interval, start, end time.Time) ([]candle.Candle, error) {
	return nil, nil
}
func (f *fakeStreamer) FetchLatestSnapshot(ctx context.Context, watchlist []candle.Symbol) (map[candle.Symbol]candle.Candle, error) {
	return nil, nil
}
func (f *fakeStreamer) FetchChainInfo(ctx context.Context, underlying candle.Symbol) (ChainInfo, error) {
	return ChainInfo{}, nil
}
func (f *fakeStreamer) FetchChainData(ctx context.Context, underlying candle.Symbol, expiration time.Time) (map[candle.Symbol]ChainContract, error) {
	return nil, nil
}
func (f *fakeStreamer) FetchOptionMarketData(ctx context.Context, occSymbol candle.Symbol) (OptionMarketData, error) {
	return OptionMarketData{}, nil
}
func (f *fakeStreamer) FetchAccount(ctx context.Context) (AccountInfo, error) { return AccountInfo{}, nil }
func (f *fakeStreamer) FetchPositions(ctx context.Context) (PositionSet, error) {
	return PositionSet{}, nil
}
func (f *fakeStreamer) PlaceLimit(ctx context.Context, side candle.Side, symbol candle.Symbol, quantity, limitPrice float64, tif string, extended bool) (string, error) {
	return "", nil
}
func (f *fakeStreamer) PlaceOptionLimit(ctx context.Context, side candle.Side, occSymbol candle.Symbol, quantity, limitPrice float64, tif string) (string, error) {
	return "", nil
}
func (f *fakeStreamer) FetchOrderStatus(ctx context.Context, orderRef string) (OrderStatusRecord, error) {
	return OrderStatusRecord{}, nil
}
func (f *fakeStreamer) CancelOrder(ctx context.Context, orderRef string) error { return nil }
func (f *fakeStreamer) PendingOrders(ctx context.Context) ([]string, error)   { return nil, nil }
func (f *fakeStreamer) Name() string                                          { return "fake" }

func (f *fakeStreamer) push(symbol candle.Symbol, c candle.Candle) {
	if f.cb != nil {
		f.cb(symbol, c)
	}
}

func TestPaperBrokerFillsBuyWhenLimitAtOrAboveClose(t *testing.T) {
	fs := &fakeStreamer{}
	pb := NewPaperBroker(fs, 1000, 1, orderbook.FlatCommission(0), "", nil)
	if err := pb.Configure([]candle.Symbol{"X"}, []interval.Interval{interval.Min1}, nil); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	orderID, err := pb.PlaceLimit(ctx, candle.SideBuy, "X", 10, 15, "gtc", false)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	fs.push("X", candle.Candle{Time: time.Now().UTC(), Open: 14, High: 15, Low: 13, Close: 14, Volume: 100})

	status, err := pb.FetchOrderStatus(ctx, orderID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != string(orderbook.StatusFilled) {
		t.Fatalf("status = %s, want filled", status.Status)
	}
	if status.FilledPrice != 14 {
		t.Fatalf("filled price = %v, want 14", status.FilledPrice)
	}
}

func TestPaperBrokerKeepsOrderOpenWhenLimitBelowClose(t *testing.T) {
	fs := &fakeStreamer{}
	pb := NewPaperBroker(fs, 1000, 1, orderbook.FlatCommission(0), "", nil)
	pb.Configure([]candle.Symbol{"X"}, []interval.Interval{interval.Min1}, nil)

	ctx := context.Background()
	orderID, _ := pb.PlaceLimit(ctx, candle.SideBuy, "X", 10, 10, "gtc", false)
	fs.push("X", candle.Candle{Time: time.Now().UTC(), Open: 14, High: 15, Low: 13, Close: 14, Volume: 100})

	status, _ := pb.FetchOrderStatus(ctx, orderID)
	if status.Status != string(orderbook.StatusOpen) {
		t.Fatalf("status = %s, want open", status.Status)
	}
}

func TestPaperBrokerRejectsInsufficientBuyingPowerAtPlacement(t *testing.T) {
	fs := &fakeStreamer{}
	pb := NewPaperBroker(fs, 100, 1, orderbook.FlatCommission(0), "", nil)
	pb.Configure([]candle.Symbol{"X"}, []interval.Interval{interval.Min1}, nil)

	_, err := pb.PlaceLimit(context.Background(), candle.SideBuy, "X", 100, 50, "gtc", false)
	if err == nil {
		t.Fatal("expected insufficient funds error")
	}
	var insufficient *InsufficientFunds
	if !asInsufficientFunds(err, &insufficient) {
		t.Fatalf("expected *InsufficientFunds, got %T: %v", err, err)
	}
}

func asInsufficientFunds(err error, target **InsufficientFunds) bool {
	if e, ok := err.(*InsufficientFunds); ok {
		*target = e
		return true
	}
	return false
}

func TestRetrierRetriesRetryableErrorsAndRefreshesAuth(t *testing.T) {
	refreshed := 0
	r := NewRetrier(func(ctx context.Context) error {
		refreshed++
		return nil
	}, 1000)

	attempts := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &Error{Kind: KindAuth, Op: "op"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if refreshed != 2 {
		t.Fatalf("refreshed = %d, want 2", refreshed)
	}
}

func TestRetrierDoesNotRetryUnretryableErrors(t *testing.T) {
	r := NewRetrier(nil, 1000)
	attempts := 0
	err := r.Do(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		return &Error{Kind: KindRejected, Op: "op"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on Rejected)", attempts)
	}
}

func TestBrokerErrorRetryableByKind(t *testing.T) {
	cases := map[ErrorKind]bool{
		KindAuth:        true,
		KindNetwork:     true,
		KindRateLimit:   true,
		KindRejected:    false,
		KindUnsupported: false,
	}
	for kind, want := range cases {
		e := &Error{Kind: kind}
		if got := e.Retryable(); got != want {
			t.Errorf("Retryable(%s) = %v, want %v", kind, got, want)
		}
	}
}
