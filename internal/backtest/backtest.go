// Package backtest implements §4.9: the replay driver that runs the same
// scheduler loop as live trading, reading candles pre-loaded into the price
// store instead of from an upstream streamer. Grounded on the teacher's
// backtest.go (loadCSV's flexible timestamp parsing, train/test style CSV
// ingestion) generalized from one hard-coded CSV and model into a
// multi-symbol, multi-interval candle loader feeding the same Broker
// contract every other adapter implements.
package backtest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ksuh/tradekernel/internal/broker"
	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
	"github.com/ksuh/tradekernel/internal/orderbook"
	"github.com/ksuh/tradekernel/internal/pricestore"
	"github.com/ksuh/tradekernel/internal/scheduler"
	"github.com/ksuh/tradekernel/internal/strategy"
)

// InsufficientHistory is returned by NewDriver when the loaded candle files
// do not cover the requested [start, end] window for every symbol or
// declared aggregation, per §4.9.
type InsufficientHistory struct {
	Symbol   candle.Symbol
	Interval interval.Interval
	Want     [2]time.Time
	Have     [2]time.Time
}

func (e *InsufficientHistory) Error() string {
	return fmt.Sprintf("backtest: insufficient history for %s@%s: want [%s, %s], have [%s, %s]",
		e.Symbol, e.Interval, e.Want[0], e.Want[1], e.Have[0], e.Have[1])
}

// LoadCandleFile reads one (symbol, interval) candle file per §6's column
// schema (timestamp, open, high, low, close, volume), accepting either
// RFC3339 or epoch-second timestamps. Adapted from the teacher's loadCSV.
func LoadCandleFile(path string) ([]candle.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []candle.Candle
	var headers []string
	rowIdx := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if rowIdx == 0 {
			headers = rec
			rowIdx++
			continue
		}
		row := map[string]string{}
		for j, h := range headers {
			k := strings.ToLower(strings.TrimSpace(h))
			if j < len(rec) {
				row[k] = strings.TrimSpace(rec[j])
			}
		}
		ts := firstNonEmpty(row, "time", "timestamp")
		op, hp, lp, cp := row["open"], row["high"], row["low"], row["close"]
		vp := firstNonEmpty(row, "volume", "vol")
		if ts == "" || op == "" || cp == "" {
			continue
		}
		tt, err := parseTimeFlexible(ts)
		if err != nil {
			continue
		}
		o, _ := strconv.ParseFloat(op, 64)
		h, _ := strconv.ParseFloat(hp, 64)
		l, _ := strconv.ParseFloat(lp, 64)
		c, _ := strconv.ParseFloat(cp, 64)
		v, _ := strconv.ParseFloat(vp, 64)
		out = append(out, candle.Candle{Time: tt, Open: o, High: h, Low: l, Close: c, Volume: v})
		rowIdx++
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func parseTimeFlexible(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("backtest: bad timestamp %q", s)
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

// candleFileName follows §6's file pattern: <SYMBOL>@<INTERVAL>.<ext>.
func candleFileName(symbol candle.Symbol, iv interval.Interval, ext string) string {
	return fmt.Sprintf("%s@%s.%s", symbol, iv, ext)
}

// Config describes one backtest run.
type Config struct {
	DataDir      string
	Ext          string // file extension, default "csv"
	Symbols      []candle.Symbol
	BaseInterval interval.Interval
	Aggregations []interval.Interval
	Start, End   time.Time
	StartingCash float64
	Multiplier   float64
	Commission   orderbook.Commission
}

// Driver runs a backtest: it pre-loads and windows candle history, then
// drives the same scheduler.Scheduler live trading uses, backed by a
// ReplayClock and a replayStreamer fed from the store.
type Driver struct {
	sched *scheduler.Scheduler
	store *pricestore.Store
}

// NewDriver loads every symbol's base-interval history from cfg.DataDir,
// pre-computes every declared aggregation, intersects the available
// coverage across all symbols and aggregations with [cfg.Start, cfg.End],
// and fails with *InsufficientHistory if the window cannot be satisfied.
func NewDriver(cfg Config, logger *log.Logger) (*Driver, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Ext == "" {
		cfg.Ext = "csv"
	}

	store := pricestore.New(pricestore.WithLogger(logger))

	for _, symbol := range cfg.Symbols {
		path := cfg.DataDir + "/" + candleFileName(symbol, cfg.BaseInterval, cfg.Ext)
		rows, err := LoadCandleFile(path)
		if err != nil {
			return nil, fmt.Errorf("backtest: loading %s: %w", path, err)
		}
		if err := store.StoreCandles(symbol, cfg.BaseInterval, rows); err != nil {
			return nil, fmt.Errorf("backtest: storing %s@%s: %w", symbol, cfg.BaseInterval, err)
		}
	}

	// Pre-compute every declared aggregation once at setup, per §4.9, rather
	// than resampling on demand inside the tick loop.
	for _, symbol := range cfg.Symbols {
		for _, agg := range cfg.Aggregations {
			if err := store.Aggregate(symbol, cfg.BaseInterval, agg); err != nil {
				return nil, fmt.Errorf("backtest: aggregating %s %s->%s: %w", symbol, cfg.BaseInterval, agg, err)
			}
		}
	}

	start, end := cfg.Start, cfg.End
	for _, symbol := range cfg.Symbols {
		ivs := append([]interval.Interval{cfg.BaseInterval}, cfg.Aggregations...)
		for _, iv := range ivs {
			first, last, ok := store.RangeOf(symbol, iv)
			if !ok {
				return nil, &InsufficientHistory{Symbol: symbol, Interval: iv, Want: [2]time.Time{start, end}, Have: [2]time.Time{}}
			}
			if first.After(start) || last.Before(end) {
				return nil, &InsufficientHistory{Symbol: symbol, Interval: iv, Want: [2]time.Time{start, end}, Have: [2]time.Time{first, last}}
			}
		}
	}

	account := orderbook.NewAccount(cfg.StartingCash, cfg.Multiplier)
	replay := newReplayStreamer(store, cfg.Symbols, cfg.BaseInterval, start, end)
	pb := broker.NewPaperBroker(replay, cfg.StartingCash, cfg.Multiplier, cfg.Commission, "", logger)
	if err := pb.Configure(cfg.Symbols, append([]interval.Interval{cfg.BaseInterval}, cfg.Aggregations...), nil); err != nil {
		return nil, fmt.Errorf("backtest: configuring paper broker: %w", err)
	}

	clock := scheduler.NewReplayClock(start, end, cfg.BaseInterval.Duration())
	sched := scheduler.New(clock, store, pb, account, cfg.Symbols, cfg.BaseInterval, logger)

	return &Driver{sched: sched, store: store}, nil
}

// Bind adds a strategy to the underlying scheduler.
func (d *Driver) Bind(strat strategy.Strategy) { d.sched.Bind(strat) }

// Run drives the replay to completion (or until ctx is cancelled).
func (d *Driver) Run(ctx context.Context) error { return d.sched.Run(ctx) }

// Store exposes the backing price store, e.g. for a caller to inspect
// post-run equity curves built from ledger marks.
func (d *Driver) Store() *pricestore.Store { return d.store }

// replayStreamer is the Broker a Driver hands to PaperBroker as its upstream
// data source: a deterministic, single-threaded cursor over pre-loaded
// candles, with no network calls and no trading support of its own (all
// trading is handled by the wrapping PaperBroker).
type replayStreamer struct {
	store    *pricestore.Store
	symbols  []candle.Symbol
	iv       interval.Interval
	start    time.Time
	end      time.Time
	cursor   map[candle.Symbol]int
	rows     map[candle.Symbol][]candle.Candle
}

func newReplayStreamer(store *pricestore.Store, symbols []candle.Symbol, iv interval.Interval, start, end time.Time) *replayStreamer {
	r := &replayStreamer{store: store, symbols: symbols, iv: iv, start: start, end: end, cursor: map[candle.Symbol]int{}, rows: map[candle.Symbol][]candle.Candle{}}
	for _, s := range symbols {
		rows, _ := store.Load(s, &iv, start, end)
		r.rows[s] = rows
	}
	return r
}

func (r *replayStreamer) Configure(watchlist []candle.Symbol, intervals []interval.Interval, cb broker.SnapshotCallback) error {
	return nil
}
func (r *replayStreamer) Start(ctx context.Context) error { return nil }
func (r *replayStreamer) Stop() error                     { return nil }
func (r *replayStreamer) SupportedIntervals() []interval.Interval {
	return []interval.Interval{r.iv}
}
func (r *replayStreamer) FetchPriceHistory(ctx context.Context, symbol candle.Symbol, iv interval.Interval, start, end time.Time) ([]candle.Candle, error) {
	return r.store.Load(symbol, &iv, start, end)
}

// FetchLatestSnapshot advances every symbol's cursor by one candle and
// returns the batch, per §4.9's deterministic single-step replay.
func (r *replayStreamer) FetchLatestSnapshot(ctx context.Context, watchlist []candle.Symbol) (map[candle.Symbol]candle.Candle, error) {
	out := make(map[candle.Symbol]candle.Candle, len(watchlist))
	for _, symbol := range watchlist {
		rows := r.rows[symbol]
		idx := r.cursor[symbol]
		if idx >= len(rows) {
			continue
		}
		out[symbol] = rows[idx]
		r.cursor[symbol] = idx + 1
	}
	return out, nil
}
func (r *replayStreamer) FetchChainInfo(ctx context.Context, underlying candle.Symbol) (broker.ChainInfo, error) {
	return broker.ChainInfo{}, &broker.Error{Kind: broker.KindUnsupported, Op: "FetchChainInfo"}
}
func (r *replayStreamer) FetchChainData(ctx context.Context, underlying candle.Symbol, expiration time.Time) (map[candle.Symbol]broker.ChainContract, error) {
	return nil, &broker.Error{Kind: broker.KindUnsupported, Op: "FetchChainData"}
}
func (r *replayStreamer) FetchOptionMarketData(ctx context.Context, occSymbol candle.Symbol) (broker.OptionMarketData, error) {
	return broker.OptionMarketData{}, &broker.Error{Kind: broker.KindUnsupported, Op: "FetchOptionMarketData"}
}
func (r *replayStreamer) FetchAccount(ctx context.Context) (broker.AccountInfo, error) {
	return broker.AccountInfo{}, &broker.Error{Kind: broker.KindUnsupported, Op: "FetchAccount"}
}
func (r *replayStreamer) FetchPositions(ctx context.Context) (broker.PositionSet, error) {
	return broker.PositionSet{}, &broker.Error{Kind: broker.KindUnsupported, Op: "FetchPositions"}
}
func (r *replayStreamer) PlaceLimit(ctx context.Context, side candle.Side, symbol candle.Symbol, quantity, limitPrice float64, tif string, extended bool) (string, error) {
	return "", &broker.Error{Kind: broker.KindUnsupported, Op: "PlaceLimit"}
}
func (r *replayStreamer) PlaceOptionLimit(ctx context.Context, side candle.Side, occSymbol candle.Symbol, quantity, limitPrice float64, tif string) (string, error) {
	return "", &broker.Error{Kind: broker.KindUnsupported, Op: "PlaceOptionLimit"}
}
func (r *replayStreamer) FetchOrderStatus(ctx context.Context, orderRef string) (broker.OrderStatusRecord, error) {
	return broker.OrderStatusRecord{}, &broker.Error{Kind: broker.KindUnsupported, Op: "FetchOrderStatus"}
}
func (r *replayStreamer) CancelOrder(ctx context.Context, orderRef string) error {
	return &broker.Error{Kind: broker.KindUnsupported, Op: "CancelOrder"}
}
func (r *replayStreamer) PendingOrders(ctx context.Context) ([]string, error) { return nil, nil }
func (r *replayStreamer) Name() string                                       { return "replay" }
