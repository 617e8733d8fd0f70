// Command backfill fetches historical candles from an upstream bridge's
// REST API and writes them into a pricestore.FilePersister series, ready
// for internal/backtest to load. Grounded on the teacher's
// tools/backfill_bridge.go (single-page fetch) and
// tools/backfill_bridge_paged.go (backward paging with start/end windows
// and dedupe) merged into one tool: -pages=1 (the default) behaves like
// the single-page fetch, -pages>1 pages backward like the paged one.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
	"github.com/ksuh/tradekernel/internal/pricestore"
)

type bridgeRow struct {
	Start  string `json:"start"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

func main() {
	var (
		symbol = flag.String("symbol", "BTC-USD", "symbol to fetch, e.g. BTC-USD")
		gran   = flag.String("granularity", "1MIN", "bridge granularity, one of 15SEC/1MIN/5MIN/15MIN/30MIN/1HR/1DAY")
		limit  = flag.Int("limit", 300, "candles requested per page")
		pages  = flag.Int("pages", 1, "how many pages to fetch, walking backward from now")
		outDir = flag.String("out", "data", "output directory for the FilePersister series")
	)
	flag.Parse()

	iv, err := interval.Parse(*gran)
	if err != nil {
		exitf("granularity: %v", err)
	}

	bridgeURL := getenv("BRIDGE_URL", "http://bridge:8787")
	rows, err := fetchPages(bridgeURL, string(*symbol), *gran, *limit, *pages, iv.Duration())
	if err != nil {
		exitf("%v", err)
	}
	if len(rows) == 0 {
		exitf("no candles returned")
	}

	candles := make([]candle.Candle, 0, len(rows))
	for _, r := range rows {
		c, err := r.toCandle()
		if err != nil {
			continue
		}
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })

	persister := pricestore.NewFilePersister(*outDir)
	if err := persister.SaveSeries(candle.Symbol(*symbol), iv, candles); err != nil {
		exitf("save series: %v", err)
	}
	fmt.Printf("wrote %d candles for %s@%s to %s\n", len(candles), *symbol, iv, *outDir)
}

// fetchPages walks backward from now in pages windows of [start, end),
// deduping by Start, stopping early once a page returns nothing.
func fetchPages(bridgeURL, symbol, granularity string, limit, pages int, step time.Duration) ([]bridgeRow, error) {
	end := time.Now().UTC()
	dedup := make(map[string]bridgeRow)

	for p := 0; p < pages; p++ {
		start := end.Add(-time.Duration(limit+5) * step)
		batch, err := fetchPage(bridgeURL, symbol, granularity, limit, start, end)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, r := range batch {
			if r.Start != "" {
				dedup[r.Start] = r
			}
		}
		end = start
	}

	out := make([]bridgeRow, 0, len(dedup))
	for _, r := range dedup {
		out = append(out, r)
	}
	return out, nil
}

func fetchPage(bridgeURL, symbol, granularity string, limit int, start, end time.Time) ([]bridgeRow, error) {
	url := fmt.Sprintf("%s/candles?product_id=%s&granularity=%s&limit=%d&start=%d&end=%d",
		trimRightSlash(bridgeURL), symbol, granularity, limit, start.Unix(), end.Unix())

	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bridge /candles status %d", resp.StatusCode)
	}

	var raw any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return normalizeList(raw), nil
}

func (r bridgeRow) toCandle() (candle.Candle, error) {
	sec, err := strconv.ParseInt(r.Start, 10, 64)
	if err != nil {
		return candle.Candle{}, err
	}
	o, _ := strconv.ParseFloat(r.Open, 64)
	h, _ := strconv.ParseFloat(r.High, 64)
	l, _ := strconv.ParseFloat(r.Low, 64)
	c, _ := strconv.ParseFloat(r.Close, 64)
	v, _ := strconv.ParseFloat(r.Volume, 64)
	return candle.Candle{Time: time.Unix(sec, 0).UTC(), Open: o, High: h, Low: l, Close: c, Volume: v}, nil
}

func normalizeList(raw any) []bridgeRow {
	switch v := raw.(type) {
	case []any:
		return toRows(v)
	case map[string]any:
		if c, ok := v["candles"]; ok {
			if arr, ok := c.([]any); ok {
				return toRows(arr)
			}
		}
	}
	return nil
}

func toRows(arr []any) []bridgeRow {
	out := make([]bridgeRow, 0, len(arr))
	for _, it := range arr {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, bridgeRow{
			Start:  asString(m["start"]),
			Open:   asString(m["open"]),
			High:   asString(m["high"]),
			Low:    asString(m["low"]),
			Close:  asString(m["close"]),
			Volume: asString(m["volume"]),
		})
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func trimRightSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func exitf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "backfill: "+format+"\n", a...)
	os.Exit(1)
}
