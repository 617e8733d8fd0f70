package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
	"github.com/ksuh/tradekernel/internal/orderbook"
)

// PaperBroker implements §4.8: the full Broker contract backed by an
// upstream streamer for prices and an in-memory order book/ledger/account
// for trading, optionally snapshotted to disk. Grounded on the teacher's
// broker_paper.go, generalized from its single BTC-USD market-order model
// to multi-symbol limit orders evaluated against the most recent candle.
type PaperBroker struct {
	mu sync.Mutex

	streamer Broker // upstream data source; Configure/Start/Stop are delegated to it
	book     *orderbook.Book
	account  *orderbook.Account
	txlog    *orderbook.TransactionLog
	commission orderbook.Commission

	persistPath string
	logger      *log.Logger

	latest map[candle.Symbol]candle.Candle
}

// NewPaperBroker constructs a paper broker. streamer supplies price data
// (FetchPriceHistory/FetchChainInfo/FetchChainData/FetchOptionMarketData
// are delegated to it verbatim; FetchLatestSnapshot is delegated and its
// result also evaluated against open orders); persistPath, if
// non-empty, is where the {account, positions, orders} blob is written on
// every mutation.
func NewPaperBroker(streamer Broker, startingCash, multiplier float64, commission orderbook.Commission, persistPath string, logger *log.Logger) *PaperBroker {
	if logger == nil {
		logger = log.Default()
	}
	pb := &PaperBroker{
		streamer:    streamer,
		book:        orderbook.NewBook(),
		account:     orderbook.NewAccount(startingCash, multiplier),
		txlog:       orderbook.NewTransactionLog(0),
		commission:  commission,
		persistPath: persistPath,
		logger:      logger,
		latest:      make(map[candle.Symbol]candle.Candle),
	}
	if persistPath != "" {
		pb.restore()
	}
	return pb
}

func (p *PaperBroker) Name() string { return "paper" }

// --- Lifecycle: delegated to the streamer, with snapshot interception so
// the paper broker always has the most recent candle per symbol to fill
// against (§4.8's "evaluated against the most recent candle").

func (p *PaperBroker) Configure(watchlist []candle.Symbol, intervals []interval.Interval, cb SnapshotCallback) error {
	wrapped := func(symbol candle.Symbol, c candle.Candle) {
		p.mu.Lock()
		p.latest[symbol] = c
		p.mu.Unlock()
		p.pollOpenOrders()
		if cb != nil {
			cb(symbol, c)
		}
	}
	return p.streamer.Configure(watchlist, intervals, wrapped)
}

func (p *PaperBroker) Start(ctx context.Context) error { return p.streamer.Start(ctx) }
func (p *PaperBroker) Stop() error                     { return p.streamer.Stop() }

func (p *PaperBroker) SupportedIntervals() []interval.Interval { return p.streamer.SupportedIntervals() }

func (p *PaperBroker) FetchPriceHistory(ctx context.Context, symbol candle.Symbol, iv interval.Interval, start, end time.Time) ([]candle.Candle, error) {
	return p.streamer.FetchPriceHistory(ctx, symbol, iv, start, end)
}

// FetchLatestSnapshot is the pull-mode counterpart to Configure's
// wrapped-callback interception: a caller (e.g. the scheduler's replay
// loop) fetching a snapshot directly, instead of receiving one through a
// push-mode callback, still needs every returned candle folded into
// p.latest and every open order evaluated against it, per §4.8.
func (p *PaperBroker) FetchLatestSnapshot(ctx context.Context, watchlist []candle.Symbol) (map[candle.Symbol]candle.Candle, error) {
	snapshot, err := p.streamer.FetchLatestSnapshot(ctx, watchlist)
	if err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		p.mu.Lock()
		for symbol, c := range snapshot {
			p.latest[symbol] = c
		}
		p.mu.Unlock()
		p.pollOpenOrders()
	}
	return snapshot, nil
}

func (p *PaperBroker) FetchChainInfo(ctx context.Context, underlying candle.Symbol) (ChainInfo, error) {
	return p.streamer.FetchChainInfo(ctx, underlying)
}

func (p *PaperBroker) FetchChainData(ctx context.Context, underlying candle.Symbol, expiration time.Time) (map[candle.Symbol]ChainContract, error) {
	return p.streamer.FetchChainData(ctx, underlying, expiration)
}

func (p *PaperBroker) FetchOptionMarketData(ctx context.Context, occSymbol candle.Symbol) (OptionMarketData, error) {
	return p.streamer.FetchOptionMarketData(ctx, occSymbol)
}

// --- Trading operations: fully local. ---

func (p *PaperBroker) FetchAccount(ctx context.Context) (AccountInfo, error) {
	cash, power, mult := p.account.Snapshot()
	return AccountInfo{Equity: p.account.Equity(), Cash: cash, BuyingPower: power, Multiplier: mult}, nil
}

func (p *PaperBroker) FetchPositions(ctx context.Context) (PositionSet, error) {
	toInfo := func(ps []orderbook.Position) []PositionInfo {
		out := make([]PositionInfo, len(ps))
		for i, pos := range ps {
			out[i] = PositionInfo{Symbol: pos.Symbol, Quantity: pos.Quantity, AvgPrice: pos.AvgPrice, Multiplier: pos.Multiplier}
		}
		return out
	}
	return PositionSet{
		Stock:  toInfo(p.account.Ledger.ByClass(candle.AssetStock)),
		Crypto: toInfo(p.account.Ledger.ByClass(candle.AssetCrypto)),
		Option: toInfo(p.account.Ledger.ByClass(candle.AssetOption)),
	}, nil
}

func (p *PaperBroker) PlaceLimit(ctx context.Context, side candle.Side, symbol candle.Symbol, quantity, limitPrice float64, tif string, extended bool) (string, error) {
	return p.place(symbol, symbol.Class(), side, quantity, limitPrice, tif, 1)
}

func (p *PaperBroker) PlaceOptionLimit(ctx context.Context, side candle.Side, occSymbol candle.Symbol, quantity, limitPrice float64, tif string) (string, error) {
	return p.place(occSymbol, candle.AssetOption, side, quantity, limitPrice, tif, 100)
}

func (p *PaperBroker) place(symbol candle.Symbol, class candle.AssetClass, side candle.Side, quantity, limitPrice float64, tif string, multiplier float64) (string, error) {
	if side == candle.SideBuy && !p.account.HasBuyingPower(limitPrice, quantity, multiplier) {
		cash, power, _ := p.account.Snapshot()
		err := &InsufficientFunds{Symbol: string(symbol), Notional: limitPrice * quantity * multiplier, Power: power}
		p.logger.Printf("[PAPER] reject %s: %v (cash=%.2f)", symbol, err, cash)
		return "", err
	}
	o := &orderbook.Order{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		AssetClass:  class,
		Quantity:    quantity,
		LimitPrice:  limitPrice,
		TimeInForce: tif,
		Status:      orderbook.StatusOpen,
		PlacedTime:  time.Now().UTC(),
	}
	id, err := p.book.Place(o)
	if err != nil {
		return "", err
	}
	p.logger.Printf("[PAPER] placed %s %s x%.4f @ %.4f (id=%s)", side, symbol, quantity, limitPrice, id)
	p.persist()
	return id, nil
}

func (p *PaperBroker) FetchOrderStatus(ctx context.Context, orderRef string) (OrderStatusRecord, error) {
	o, ok := p.book.Get(orderRef)
	if !ok {
		return OrderStatusRecord{}, fmt.Errorf("paper: unknown order %s", orderRef)
	}
	return OrderStatusRecord{
		Status:         string(o.Status),
		FilledQuantity: o.FilledQuantity,
		FilledPrice:    o.FilledPrice,
		FilledTime:     o.FilledTime,
	}, nil
}

func (p *PaperBroker) CancelOrder(ctx context.Context, orderRef string) error {
	err := p.book.Mutate(orderRef, func(o *orderbook.Order) error { return o.Cancel() })
	if err == nil {
		p.persist()
	}
	return err
}

func (p *PaperBroker) PendingOrders(ctx context.Context) ([]string, error) {
	pending := p.book.Pending()
	ids := make([]string, len(pending))
	for i, o := range pending {
		ids[i] = o.ID
	}
	return ids, nil
}

// pollOpenOrders implements §4.8's per-tick fill evaluation against the
// most recent candle: a buy fills once limit_price >= close, a sell fills
// once limit_price <= close.
func (p *PaperBroker) pollOpenOrders() {
	for _, o := range p.book.Pending() {
		p.mu.Lock()
		c, ok := p.latest[o.Symbol]
		p.mu.Unlock()
		if !ok {
			continue
		}

		var shouldFill bool
		switch o.Side {
		case candle.SideBuy:
			shouldFill = o.LimitPrice >= c.Close
		case candle.SideSell:
			shouldFill = o.LimitPrice <= c.Close
		}
		if !shouldFill {
			continue
		}

		rate := p.commission.Buy
		if o.Side == candle.SideSell {
			rate = p.commission.Sell
		}
		mult := 1.0
		if o.AssetClass == candle.AssetOption {
			mult = 100
		}

		if o.Side == candle.SideBuy && !p.account.HasBuyingPower(c.Close, o.Quantity, mult) {
			err := p.book.Mutate(o.ID, func(ord *orderbook.Order) error { return ord.Reject() })
			if err == nil {
				_, power, _ := p.account.Snapshot()
				p.logger.Printf("[PAPER] %v", &InsufficientFunds{Symbol: string(o.Symbol), Notional: c.Close * o.Quantity * mult, Power: power})
				p.persist()
			}
			continue
		}

		err := p.book.Mutate(o.ID, func(ord *orderbook.Order) error { return ord.Fill(ord.Quantity, c.Close, c.Time) })
		if err != nil {
			continue
		}

		if o.Side == candle.SideBuy {
			p.account.ApplyBuyCash(c.Close, o.Quantity, mult, rate)
		} else {
			p.account.ApplySellCash(c.Close, o.Quantity, mult, rate)
		}
		p.account.Ledger.ApplyFill(o.Symbol, o.AssetClass, o.Side, o.Quantity, c.Close, mult)
		p.account.Ledger.MarkPrice(o.Symbol, c.Close)

		p.txlog.Append(orderbook.Transaction{
			Timestamp: c.Time,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Quantity:  o.Quantity,
			Price:     c.Close,
		})
		p.logger.Printf("[PAPER] filled %s %s x%.4f @ %.4f", o.Side, o.Symbol, o.Quantity, c.Close)
		p.persist()
	}
}

// --- Disk persistence: on each change the {account, positions, orders}
// blob is snapshotted to persistPath. Only open orders are written;
// filled, cancelled and rejected orders are not kept in the snapshot. ---

type paperSnapshot struct {
	Cash        float64               `json:"cash"`
	BuyingPower float64               `json:"buying_power"`
	Multiplier  float64               `json:"multiplier"`
	Positions   []orderbook.Position  `json:"positions"`
	Orders      []orderbook.Order     `json:"orders"`
}

func (p *PaperBroker) persist() {
	if p.persistPath == "" {
		return
	}
	cash, power, mult := p.account.Snapshot()
	snap := paperSnapshot{
		Cash:        cash,
		BuyingPower: power,
		Multiplier:  mult,
		Positions:   p.account.Ledger.All(),
	}
	for _, o := range p.book.Pending() {
		snap.Orders = append(snap.Orders, *o)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		p.logger.Printf("[PAPER] snapshot marshal failed: %v", err)
		return
	}
	tmp := p.persistPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		p.logger.Printf("[PAPER] snapshot write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, p.persistPath); err != nil {
		p.logger.Printf("[PAPER] snapshot rename failed: %v", err)
	}
}

func (p *PaperBroker) restore() {
	data, err := os.ReadFile(p.persistPath)
	if err != nil {
		return
	}
	var snap paperSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		p.logger.Printf("[PAPER] snapshot restore failed: %v", err)
		return
	}
	p.account = orderbook.NewAccount(snap.Cash, snap.Multiplier)
	p.account.BuyingPower = snap.BuyingPower
	for _, pos := range snap.Positions {
		p.account.Ledger.ApplyFill(pos.Symbol, pos.AssetClass, candle.SideBuy, pos.Quantity, pos.AvgPrice, pos.Multiplier)
		p.account.Ledger.MarkPrice(pos.Symbol, pos.CurrentPrice)
	}
	for _, o := range snap.Orders {
		ord := o
		_, _ = p.book.Place(&ord)
	}
	p.logger.Printf("[PAPER] restored snapshot from %s", p.persistPath)
}
