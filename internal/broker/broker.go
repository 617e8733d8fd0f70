// Package broker implements §4.4: the uniform broker adapter contract
// implemented by every venue (live or paper), plus the retry/backoff
// policy of §7 and the one fully in-scope implementation, PaperBroker
// (§4.8). Grounded on the teacher's broker.go (the Broker interface itself)
// and broker_paper.go (PaperBroker), generalized from a single-product
// market-order bot into the spec's multi-symbol limit-order contract.
package broker

import (
	"context"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
)

// SnapshotCallback is the "one function-pointer field" named in spec.md §9:
// an adapter running in push mode invokes it once per symbol as candles
// arrive; an adapter in pull mode invokes it once per symbol after each
// fetch. The tick multiplexer is always the callback's ultimate consumer.
type SnapshotCallback func(symbol candle.Symbol, c candle.Candle)

// ChainInfo is the per-underlying metadata returned by FetchChainInfo.
type ChainInfo struct {
	Expirations []time.Time
	Multiplier  float64
}

// ChainContract is one OCC contract's static data, keyed by OCC symbol in
// FetchChainData's result map.
type ChainContract struct {
	Strike     float64
	Type       candle.OptionType
	Expiration time.Time
}

// OptionMarketData is the live quote for one OCC contract.
type OptionMarketData struct {
	Price float64
	Ask   float64
	Bid   float64
}

// AccountInfo is the broker-reported account snapshot.
type AccountInfo struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
	Multiplier  float64
}

// PositionSet groups broker-reported positions by asset class, matching
// §4.4's fetch_positions() -> {stock[], crypto[], option[]}.
type PositionSet struct {
	Stock  []PositionInfo
	Crypto []PositionInfo
	Option []PositionInfo
}

// PositionInfo is one broker-reported position line.
type PositionInfo struct {
	Symbol     candle.Symbol
	Quantity   float64
	AvgPrice   float64
	Multiplier float64
}

// OrderStatusRecord is what FetchOrderStatus returns for a live order ref.
type OrderStatusRecord struct {
	Status         string
	FilledQuantity float64
	FilledPrice    float64
	FilledTime     time.Time
}

// Broker is the minimal surface every adapter — live or paper — must
// implement, per §4.4.
type Broker interface {
	// --- Lifecycle ---

	// Configure is called once before streaming begins. The adapter records
	// which symbols/intervals it must produce and the callback it will
	// invoke with each snapshot.
	Configure(watchlist []candle.Symbol, intervals []interval.Interval, cb SnapshotCallback) error
	// Start begins data production (pull-mode polling or push-mode
	// subscription) and returns once the adapter is actively producing, or
	// with an error if it could not start.
	Start(ctx context.Context) error
	// Stop halts production and releases connections.
	Stop() error

	// --- Data operations (read-only) ---

	SupportedIntervals() []interval.Interval
	FetchPriceHistory(ctx context.Context, symbol candle.Symbol, iv interval.Interval, start, end time.Time) ([]candle.Candle, error)
	FetchLatestSnapshot(ctx context.Context, watchlist []candle.Symbol) (map[candle.Symbol]candle.Candle, error)
	FetchChainInfo(ctx context.Context, underlying candle.Symbol) (ChainInfo, error)
	FetchChainData(ctx context.Context, underlying candle.Symbol, expiration time.Time) (map[candle.Symbol]ChainContract, error)
	FetchOptionMarketData(ctx context.Context, occSymbol candle.Symbol) (OptionMarketData, error)

	// --- Trading operations ---

	FetchAccount(ctx context.Context) (AccountInfo, error)
	FetchPositions(ctx context.Context) (PositionSet, error)
	PlaceLimit(ctx context.Context, side candle.Side, symbol candle.Symbol, quantity, limitPrice float64, tif string, extended bool) (orderRef string, err error)
	PlaceOptionLimit(ctx context.Context, side candle.Side, occSymbol candle.Symbol, quantity, limitPrice float64, tif string) (orderRef string, err error)
	FetchOrderStatus(ctx context.Context, orderRef string) (OrderStatusRecord, error)
	CancelOrder(ctx context.Context, orderRef string) error
	PendingOrders(ctx context.Context) ([]string, error)

	// Name identifies the adapter for logging and metrics labels.
	Name() string
}
