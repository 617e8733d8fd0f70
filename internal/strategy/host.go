package strategy

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/ksuh/tradekernel/internal/broker"
	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
	"github.com/ksuh/tradekernel/internal/orderbook"
	"github.com/ksuh/tradekernel/internal/pricestore"
)

// Config is a strategy's declared binding, overriding scheduler defaults
// per §4.7.
type Config struct {
	Name         string
	Watchlist    []candle.Symbol
	Interval     interval.Interval
	Aggregations []interval.Interval
}

// Strategy is the lifecycle contract every strategy implements, per §4.7:
// Setup is called once after bindings are finalized, Main on every firing.
type Strategy interface {
	Config() Config
	Setup(rc *RuntimeContext) error
	Main(rc *RuntimeContext) error
}

// RuntimeContext is what the scheduler hands a strategy on each firing: a
// read/trade surface backed by the shared store/ledger/broker. It does not
// restrict queries or orders to the strategy's own watchlist or interval.
type RuntimeContext struct {
	Now time.Time

	store   *pricestore.Store
	ledger  *orderbook.Ledger
	account *orderbook.Account
	br      broker.Broker
	logger  *log.Logger

	plugins map[string]Plugin
}

// NewRuntimeContext constructs a context for one firing.
func NewRuntimeContext(now time.Time, store *pricestore.Store, ledger *orderbook.Ledger, account *orderbook.Account, br broker.Broker, logger *log.Logger) *RuntimeContext {
	if logger == nil {
		logger = log.Default()
	}
	return &RuntimeContext{Now: now, store: store, ledger: ledger, account: account, br: br, logger: logger, plugins: map[string]Plugin{}}
}

// --- Price queries ---

func (rc *RuntimeContext) LastCandle(symbol candle.Symbol, iv interval.Interval) (candle.Candle, bool) {
	return rc.store.LastCandle(symbol, iv)
}

func (rc *RuntimeContext) LastPrice(symbol candle.Symbol, iv interval.Interval) (float64, bool) {
	c, ok := rc.store.LastCandle(symbol, iv)
	if !ok {
		return 0, false
	}
	return c.Close, true
}

func (rc *RuntimeContext) CandleList(symbol candle.Symbol, iv interval.Interval, start, end time.Time) []candle.Candle {
	rows, err := rc.store.Load(symbol, &iv, start, end)
	if err != nil {
		rc.logger.Printf("[STRATEGY] candle list %s@%s: %v", symbol, iv, err)
		return nil
	}
	return rows
}

func (rc *RuntimeContext) PriceList(symbol candle.Symbol, iv interval.Interval, start, end time.Time) []float64 {
	rows := rc.CandleList(symbol, iv, start, end)
	out := make([]float64, len(rows))
	for i, c := range rows {
		out[i] = c.Close
	}
	return out
}

// --- Account queries ---

func (rc *RuntimeContext) BuyingPower() float64 {
	_, power, _ := rc.account.Snapshot()
	return power
}

func (rc *RuntimeContext) Equity() float64 { return rc.account.Equity() }

func (rc *RuntimeContext) PositionsByClass(class candle.AssetClass) []orderbook.Position {
	return rc.ledger.ByClass(class)
}

func (rc *RuntimeContext) Position(symbol candle.Symbol) (orderbook.Position, bool) {
	return rc.ledger.Get(symbol)
}

// --- Mark up/down (§9 supplemented feature, harvest/utils.py: mark_up/mark_down) ---

// MarkUp returns price marked up 5%, rounded to the cent.
func MarkUp(price float64) float64 { return math.Round(price*1.05*100) / 100 }

// MarkDown returns price marked down 5%, to the cent.
func MarkDown(price float64) float64 { return math.Round(price*0.95*100) / 100 }

// maxAffordable implements harvest/algo.py: get_asset_max_quantity. Crypto
// supports fractional sizing to 5 decimals; stock/option are whole units.
func maxAffordable(power, price float64, class candle.AssetClass) float64 {
	if price <= 0 {
		return 0
	}
	raw := power / price
	if class == candle.AssetCrypto {
		return math.Floor(raw*1e5) / 1e5
	}
	return math.Floor(raw)
}

// --- Orders ---

// Buy places a limit buy at mark-up of the last close, defaulting quantity
// to max-affordable, per §4.7. quantity<=0 triggers the default.
func (rc *RuntimeContext) Buy(ctx context.Context, symbol candle.Symbol, iv interval.Interval, quantity float64) (string, error) {
	last, ok := rc.LastPrice(symbol, iv)
	if !ok {
		return "", fmt.Errorf("strategy: no price available for %s", symbol)
	}
	limit := MarkUp(last)
	class := symbol.Class()
	if quantity <= 0 {
		quantity = maxAffordable(rc.BuyingPower(), limit, class)
	}
	if quantity <= 0 {
		rc.logger.Printf("[STRATEGY] buy %s refused: zero affordable quantity", symbol)
		return "", nil
	}
	var (
		ref string
		err error
	)
	if class == candle.AssetOption {
		ref, err = rc.br.PlaceOptionLimit(ctx, candle.SideBuy, symbol, quantity, limit, "gtc")
	} else {
		ref, err = rc.br.PlaceLimit(ctx, candle.SideBuy, symbol, quantity, limit, "gtc", false)
	}
	if err != nil {
		rc.logger.Printf("[STRATEGY] buy %s refused: %v", symbol, err)
		return "", nil
	}
	return ref, nil
}

// Sell places a limit sell at mark-down of the last close, defaulting
// quantity to the full current position.
func (rc *RuntimeContext) Sell(ctx context.Context, symbol candle.Symbol, iv interval.Interval, quantity float64) (string, error) {
	last, ok := rc.LastPrice(symbol, iv)
	if !ok {
		return "", fmt.Errorf("strategy: no price available for %s", symbol)
	}
	limit := MarkDown(last)
	if quantity <= 0 {
		pos, ok := rc.Position(symbol)
		if !ok || pos.Quantity <= 0 {
			rc.logger.Printf("[STRATEGY] sell %s refused: no open position", symbol)
			return "", nil
		}
		quantity = pos.Quantity
	}
	var (
		ref string
		err error
	)
	if symbol.Class() == candle.AssetOption {
		ref, err = rc.br.PlaceOptionLimit(ctx, candle.SideSell, symbol, quantity, limit, "gtc")
	} else {
		ref, err = rc.br.PlaceLimit(ctx, candle.SideSell, symbol, quantity, limit, "gtc", false)
	}
	if err != nil {
		rc.logger.Printf("[STRATEGY] sell %s refused: %v", symbol, err)
		return "", nil
	}
	return ref, nil
}

// --- Option helpers ---

// FilterChain implements harvest/algo.py: filter_chain — candidates
// restricted by type/strike-range/expiration-range, sorted by
// (strike, expiration).
func FilterChain(contracts map[candle.Symbol]broker.ChainContract, optType candle.OptionType, minStrike, maxStrike float64, minExp, maxExp time.Time) []candle.Symbol {
	type row struct {
		sym candle.Symbol
		c   broker.ChainContract
	}
	var rows []row
	for sym, c := range contracts {
		if c.Type != optType {
			continue
		}
		if minStrike > 0 && c.Strike < minStrike {
			continue
		}
		if maxStrike > 0 && c.Strike > maxStrike {
			continue
		}
		if !minExp.IsZero() && c.Expiration.Before(minExp) {
			continue
		}
		if !maxExp.IsZero() && c.Expiration.After(maxExp) {
			continue
		}
		rows = append(rows, row{sym, c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].c.Strike != rows[j].c.Strike {
			return rows[i].c.Strike < rows[j].c.Strike
		}
		return rows[i].c.Expiration.Before(rows[j].c.Expiration)
	})
	out := make([]candle.Symbol, len(rows))
	for i, r := range rows {
		out[i] = r.sym
	}
	return out
}

// --- Time queries ---

// NowIn returns the firing timestamp converted to loc, per §4.7's "current
// UTC timestamp, converted to the configured local/exchange timezone".
func (rc *RuntimeContext) NowIn(loc *time.Location) time.Time {
	if loc == nil {
		return rc.Now
	}
	return rc.Now.In(loc)
}

// --- Plugins (§9 supplemented feature, harvest/algo.py: add_plugin) ---

// Plugin is a named auxiliary helper a strategy can attach to its
// RuntimeContext, for extensibility that doesn't belong in the core
// Strategy interface.
type Plugin interface {
	Name() string
}

// AttachPlugin registers p under its own name on this RuntimeContext. The
// scheduler builds a new context for every firing, so an attached plugin
// is not carried over to later firings.
func (rc *RuntimeContext) AttachPlugin(p Plugin) { rc.plugins[p.Name()] = p }

// GetPlugin returns a previously attached plugin by name.
func (rc *RuntimeContext) GetPlugin(name string) (Plugin, bool) {
	p, ok := rc.plugins[name]
	return p, ok
}
