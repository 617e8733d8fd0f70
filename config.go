// Package main – runtime configuration for the kernel's CLI host.
//
// Config is populated from flags, with environment variables (via env.go)
// supplying defaults so the same binary can be driven by .env in
// docker-compose style deployments or by explicit flags in ad-hoc runs.
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
	"github.com/ksuh/tradekernel/internal/orderbook"
)

// Config holds every knob the CLI host needs to wire a scheduler or
// backtest driver. The kernel packages themselves never read env or
// flags directly — everything flows through this struct.
type Config struct {
	Mode string // "live" or "backtest"

	Symbols      []candle.Symbol
	BaseInterval interval.Interval

	StartingCash float64
	Multiplier   float64
	Commission   orderbook.Commission

	Port int

	// Live-mode broker wiring.
	BrokerKind string // "example" for live mode; "paper" is rejected by buildBroker
	RestBase   string
	WireURL    string
	KeyName    string
	SecretsPath string

	// Persistence.
	PersistKind string // "none", "file", or "sql"
	PersistDir  string
	PostgresDSN string

	// Backtest-mode wiring.
	DataDir string
	Start   time.Time
	End     time.Time
}

func parseSymbols(s string) []candle.Symbol {
	parts := strings.Split(s, ",")
	out := make([]candle.Symbol, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, candle.Symbol(p))
		}
	}
	return out
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// loadConfigFromFlags builds a Config from already-parsed flag values. It
// reads no environment itself: main registers each flag with an
// environment-derived default, so an unset flag takes the environment
// value (or its built-in default), mirroring the teacher's env-first
// defaulting in loadConfigFromEnv.
func loadConfigFromFlags(mode, symbols, baseInterval, broker, restBase, wireURL, keyName, secretsPath, persistKind, persistDir, dsn, dataDir, start, end string, cash, multiplier, commissionPct float64, port int) (Config, error) {
	iv, err := interval.Parse(baseInterval)
	if err != nil {
		return Config{}, fmt.Errorf("base interval: %w", err)
	}
	commission := orderbook.FlatCommission(commissionPct / 100.0)
	startTime, err := parseTime(start)
	if err != nil {
		return Config{}, fmt.Errorf("start: %w", err)
	}
	endTime, err := parseTime(end)
	if err != nil {
		return Config{}, fmt.Errorf("end: %w", err)
	}
	return Config{
		Mode:         mode,
		Symbols:      parseSymbols(symbols),
		BaseInterval: iv,
		StartingCash: cash,
		Multiplier:   multiplier,
		Commission:   commission,
		Port:         port,
		BrokerKind:   broker,
		RestBase:     restBase,
		WireURL:      wireURL,
		KeyName:      keyName,
		SecretsPath:  secretsPath,
		PersistKind:  persistKind,
		PersistDir:   persistDir,
		PostgresDSN:  dsn,
		DataDir:      dataDir,
		Start:        startTime,
		End:          endTime,
	}, nil
}
