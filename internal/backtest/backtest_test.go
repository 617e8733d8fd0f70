package backtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
	"github.com/ksuh/tradekernel/internal/orderbook"
	"github.com/ksuh/tradekernel/internal/strategy"
)

func writeCandleCSV(t *testing.T, dir string, symbol candle.Symbol, iv interval.Interval, start time.Time, n int) {
	t.Helper()
	path := filepath.Join(dir, candleFileName(symbol, iv, "csv"))
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	fmt.Fprintln(f, "timestamp,open,high,low,close,volume")
	ts := start
	for i := 0; i < n; i++ {
		price := 10.0 + float64(i)*0.1
		fmt.Fprintf(f, "%d,%f,%f,%f,%f,%f\n", ts.Unix(), price, price+0.2, price-0.2, price, 100.0)
		ts = ts.Add(iv.Duration())
	}
}

func TestLoadCandleFileParsesEpochAndRFC3339(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mixed.csv")
	content := "timestamp,open,high,low,close,volume\n" +
		"0,1,1.5,0.5,1,10\n" +
		"1970-01-01T00:01:00Z,2,2.5,1.5,2,20\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	rows, err := LoadCandleFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("len = %d, want 2", len(rows))
	}
	if !rows[0].Time.Before(rows[1].Time) {
		t.Fatalf("expected ascending time order, got %v then %v", rows[0].Time, rows[1].Time)
	}
}

func TestNewDriverSucceedsWhenWindowCovered(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeCandleCSV(t, dir, "X", interval.Min1, start, 120)

	cfg := Config{
		DataDir:      dir,
		Symbols:      []candle.Symbol{"X"},
		BaseInterval: interval.Min1,
		Start:        start.Add(time.Minute),
		End:          start.Add(100 * time.Minute),
		StartingCash: 10000,
		Multiplier:   1,
		Commission:   orderbook.FlatCommission(0),
	}
	d, err := NewDriver(cfg, nil)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if d == nil {
		t.Fatal("expected non-nil driver")
	}
}

func TestNewDriverFailsWithInsufficientHistory(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeCandleCSV(t, dir, "X", interval.Min1, start, 10)

	cfg := Config{
		DataDir:      dir,
		Symbols:      []candle.Symbol{"X"},
		BaseInterval: interval.Min1,
		Start:        start,
		End:          start.Add(time.Hour), // well past the 10 minutes of data loaded
		StartingCash: 10000,
		Multiplier:   1,
		Commission:   orderbook.FlatCommission(0),
	}
	_, err := NewDriver(cfg, nil)
	if err == nil {
		t.Fatal("expected InsufficientHistory error")
	}
	var insufficient *InsufficientHistory
	if e, ok := err.(*InsufficientHistory); ok {
		insufficient = e
	}
	if insufficient == nil {
		t.Fatalf("expected *InsufficientHistory, got %T: %v", err, err)
	}
}

type buyOnceStrategy struct {
	bought bool
}

func (b *buyOnceStrategy) Config() strategy.Config {
	return strategy.Config{Name: "buy-once", Watchlist: []candle.Symbol{"X"}, Interval: interval.Min1}
}
func (b *buyOnceStrategy) Setup(rc *strategy.RuntimeContext) error { return nil }
func (b *buyOnceStrategy) Main(rc *strategy.RuntimeContext) error {
	if !b.bought {
		b.bought = true
		rc.Buy(context.Background(), "X", interval.Min1, 1)
	}
	return nil
}

func TestDriverRunsScheduleToCompletion(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeCandleCSV(t, dir, "X", interval.Min1, start, 60)

	cfg := Config{
		DataDir:      dir,
		Symbols:      []candle.Symbol{"X"},
		BaseInterval: interval.Min1,
		Start:        start,
		End:          start.Add(30 * time.Minute),
		StartingCash: 10000,
		Multiplier:   1,
		Commission:   orderbook.FlatCommission(0),
	}
	d, err := NewDriver(cfg, nil)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	strat := &buyOnceStrategy{}
	d.Bind(strat)

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strat.bought {
		t.Fatal("expected strategy to have placed a buy order during the run")
	}
}
