package pricestore

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
)

// FilePersister stores one CSV file per (symbol, interval), named per §6:
// "<SYMBOL>@<INTERVAL>.csv" with columns timestamp,open,high,low,close,volume.
// Grounded on the teacher's backtest.go loadCSV/parseTimeFlexible, adapted
// from a one-shot backtest loader into a round-trippable persistence
// backend.
type FilePersister struct {
	dir string
}

func NewFilePersister(dir string) *FilePersister {
	return &FilePersister{dir: dir}
}

func (f *FilePersister) pathFor(symbol candle.Symbol, iv interval.Interval) string {
	// '@' is also the crypto sigil; escape it in filenames so crypto and
	// equity symbols never collide on disk.
	safeSymbol := sanitizeForFilename(string(symbol))
	return filepath.Join(f.dir, fmt.Sprintf("%s@%s.csv", safeSymbol, iv))
}

func sanitizeForFilename(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '@':
			out = append(out, "AT_"...)
		case '/', '\\', ' ':
			out = append(out, '_')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

func (f *FilePersister) SaveSeries(symbol candle.Symbol, iv interval.Interval, candles []candle.Candle) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}
	tmp := f.pathFor(symbol, iv) + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := csv.NewWriter(out)
	if err := w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		out.Close()
		return err
	}
	for _, c := range candles {
		row := []string{
			c.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			out.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, f.pathFor(symbol, iv))
}

func (f *FilePersister) LoadSeries(symbol candle.Symbol, iv interval.Interval) ([]candle.Candle, error) {
	path := f.pathFor(symbol, iv)
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 1 {
		return nil, nil
	}
	var out []candle.Candle
	for _, rec := range rows[1:] { // skip header
		if len(rec) < 6 {
			continue
		}
		ts, err := parseFlexibleTime(rec[0])
		if err != nil {
			continue
		}
		o, _ := strconv.ParseFloat(rec[1], 64)
		h, _ := strconv.ParseFloat(rec[2], 64)
		l, _ := strconv.ParseFloat(rec[3], 64)
		cl, _ := strconv.ParseFloat(rec[4], 64)
		v, _ := strconv.ParseFloat(rec[5], 64)
		out = append(out, candle.Candle{Time: ts, Open: o, High: h, Low: l, Close: cl, Volume: v})
	}
	return out, nil
}

// parseFlexibleTime accepts RFC3339 or integer epoch seconds, per §6.
func parseFlexibleTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
