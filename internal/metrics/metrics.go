// Package metrics exposes the kernel's Prometheus instrumentation.
// Grounded on the teacher's metrics.go (one package-level CounterVec/
// GaugeVec per concern, registered in init(), thin setter helpers),
// generalized from one hard-coded trading bot's metric names into the
// multi-strategy, multi-symbol surface of the scheduler, multiplexer,
// order book, and broker adapters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SchedulerTicks counts completed scheduler ticks.
	SchedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradekernel_scheduler_ticks_total",
			Help: "Completed scheduler ticks.",
		},
	)

	// StrategyInvocations counts Main() invocations per strategy.
	StrategyInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekernel_strategy_invocations_total",
			Help: "Strategy Main() invocations.",
		},
		[]string{"strategy"},
	)

	// StrategyCrashes counts panics/unbind events per strategy.
	StrategyCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekernel_strategy_crashes_total",
			Help: "Strategy crashes that caused an unbind.",
		},
		[]string{"strategy"},
	)

	// MultiplexerTimeouts counts ticks that flushed via carry-forward
	// timeout instead of full quorum.
	MultiplexerTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradekernel_multiplexer_timeouts_total",
			Help: "Ticks that flushed on the multiplexer timeout rather than full quorum.",
		},
	)

	// StoreSize reports the candle count held per (symbol, interval) series.
	StoreSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradekernel_store_candles",
			Help: "Candles held in the price store per symbol/interval.",
		},
		[]string{"symbol", "interval"},
	)

	// BrokerErrors counts broker errors by adapter and kind.
	BrokerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekernel_broker_errors_total",
			Help: "Broker errors by adapter and error kind.",
		},
		[]string{"broker", "kind"},
	)

	// BrokerRetries counts retry attempts issued by the Retrier.
	BrokerRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekernel_broker_retries_total",
			Help: "Retry attempts issued for a broker operation.",
		},
		[]string{"op"},
	)

	// OrdersPlaced counts orders placed by side and asset class.
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekernel_orders_placed_total",
			Help: "Orders placed, by side and asset class.",
		},
		[]string{"side", "class"},
	)

	// OrdersFilled counts fills by side and asset class.
	OrdersFilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekernel_orders_filled_total",
			Help: "Orders filled, by side and asset class.",
		},
		[]string{"side", "class"},
	)

	// OrdersRejected counts rejections by reason.
	OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradekernel_orders_rejected_total",
			Help: "Orders rejected, by reason.",
		},
		[]string{"reason"},
	)

	// Equity reports the account equity snapshot per account label (usually
	// the strategy or run name).
	Equity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradekernel_equity_usd",
			Help: "Account equity in USD.",
		},
		[]string{"account"},
	)
)

func init() {
	prometheus.MustRegister(
		SchedulerTicks,
		StrategyInvocations,
		StrategyCrashes,
		MultiplexerTimeouts,
		StoreSize,
		BrokerErrors,
		BrokerRetries,
		OrdersPlaced,
		OrdersFilled,
		OrdersRejected,
		Equity,
	)
}

// ObserveBrokerError increments BrokerErrors for adapter/kind.
func ObserveBrokerError(adapter, kind string) { BrokerErrors.WithLabelValues(adapter, kind).Inc() }

// ObserveOrderPlaced increments OrdersPlaced for side/class.
func ObserveOrderPlaced(side, class string) { OrdersPlaced.WithLabelValues(side, class).Inc() }

// ObserveOrderFilled increments OrdersFilled for side/class.
func ObserveOrderFilled(side, class string) { OrdersFilled.WithLabelValues(side, class).Inc() }

// ObserveOrderRejected increments OrdersRejected for reason.
func ObserveOrderRejected(reason string) { OrdersRejected.WithLabelValues(reason).Inc() }

// SetEquity sets the Equity gauge for account.
func SetEquity(account string, value float64) { Equity.WithLabelValues(account).Set(value) }
