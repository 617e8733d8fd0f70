// Command migrate converts a legacy persisted bot state (a single aggregate
// list of Lots, one per open fill) into the kernel's orderbook.Ledger model
// (one weighted-average Position per symbol), then either writes the result
// as JSON or upserts it into Postgres via jackc/pgx/v5.
//
// Grounded on the teacher's tools/migrate_state.go (the legacy OldBotState
// shape, BUY/SELL book partitioning, -in/-out/-inplace flag surface),
// generalized from its SideBook{BUY,SELL} aggregate-by-side schema into a
// replay of each lot through orderbook.Ledger.ApplyFill so the migrated
// state carries exactly the weighted-average accounting the rest of the
// kernel expects, per §4.3.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/orderbook"
)

// legacyLot mirrors the teacher's Position shape in the old aggregate-Lots
// state file: one open fill with a side, open price, and size.
type legacyLot struct {
	OpenPrice float64   `json:"OpenPrice"`
	Side      string    `json:"Side"`
	SizeBase  float64   `json:"SizeBase"`
	OpenTime  time.Time `json:"OpenTime"`
}

type legacyState struct {
	EquityUSD float64     `json:"EquityUSD"`
	Lots      []legacyLot `json:"Lots"`
}

// migratedPosition is the new, ledger-derived record for one symbol.
type migratedPosition struct {
	Symbol     string  `json:"symbol"`
	AssetClass string  `json:"asset_class"`
	Quantity   float64 `json:"quantity"`
	AvgPrice   float64 `json:"avg_price"`
}

type migratedState struct {
	EquityUSD float64            `json:"equity_usd"`
	Positions []migratedPosition `json:"positions"`
}

func main() {
	in := flag.String("in", "", "path to legacy state JSON")
	out := flag.String("out", "", "path to write migrated state JSON (ignored if -dsn is set)")
	symbol := flag.String("symbol", "BTC-USD", "symbol the legacy Lots belong to (legacy state predates multi-symbol)")
	assetClass := flag.String("class", "crypto", "asset class for the migrated position: stock, crypto, or option")
	dsn := flag.String("dsn", "", "Postgres DSN; if set, upsert into the positions table instead of writing JSON")
	flag.Parse()

	if *in == "" {
		exitf("missing -in <file>")
	}

	raw, err := os.ReadFile(*in)
	if err != nil {
		exitf("read input: %v", err)
	}
	var old legacyState
	if err := json.Unmarshal(raw, &old); err != nil {
		exitf("parse legacy JSON: %v", err)
	}

	class, err := parseAssetClass(*assetClass)
	if err != nil {
		exitf("%v", err)
	}

	ledger := orderbook.NewLedger()
	sym := candle.Symbol(*symbol)
	for _, lot := range old.Lots {
		side, err := parseSide(lot.Side)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: skipping lot with unrecognized side %q\n", lot.Side)
			continue
		}
		ledger.ApplyFill(sym, class, side, lot.SizeBase, lot.OpenPrice, 1)
	}

	nb := migratedState{EquityUSD: old.EquityUSD}
	for _, p := range ledger.All() {
		nb.Positions = append(nb.Positions, migratedPosition{
			Symbol:     string(p.Symbol),
			AssetClass: p.AssetClass.String(),
			Quantity:   p.Quantity,
			AvgPrice:   p.AvgPrice,
		})
	}

	if *dsn != "" {
		if err := upsertPostgres(*dsn, nb); err != nil {
			exitf("postgres upsert: %v", err)
		}
		fmt.Printf("migrated %d position(s) into Postgres\n", len(nb.Positions))
		return
	}

	if *out == "" {
		exitf("either specify -out <file> or -dsn <postgres-url>")
	}
	outBytes, err := json.MarshalIndent(nb, "", "  ")
	if err != nil {
		exitf("marshal new JSON: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		exitf("ensure out dir: %v", err)
	}
	if err := os.WriteFile(*out, outBytes, 0o644); err != nil {
		exitf("write out: %v", err)
	}
	fmt.Printf("migrated state written to: %s\n", *out)
}

const upsertPositionSQL = `
	INSERT INTO positions (symbol, asset_class, quantity, avg_price)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (symbol) DO UPDATE SET
	  asset_class = EXCLUDED.asset_class, quantity = EXCLUDED.quantity, avg_price = EXCLUDED.avg_price`

func upsertPostgres(dsn string, nb migratedState) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, p := range nb.Positions {
		if _, err := tx.Exec(ctx, upsertPositionSQL, p.Symbol, p.AssetClass, p.Quantity, p.AvgPrice); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func parseSide(s string) (candle.Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return candle.SideBuy, nil
	case "SELL":
		return candle.SideSell, nil
	default:
		return "", fmt.Errorf("unrecognized side %q", s)
	}
}

func parseAssetClass(s string) (candle.AssetClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stock":
		return candle.AssetStock, nil
	case "crypto":
		return candle.AssetCrypto, nil
	case "option":
		return candle.AssetOption, nil
	default:
		return 0, fmt.Errorf("unrecognized asset class %q", s)
	}
}

func exitf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "migrate: "+format+"\n", a...)
	os.Exit(1)
}
