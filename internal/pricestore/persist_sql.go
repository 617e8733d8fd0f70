package pricestore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
)

// SQLPersister backs the price store with a Postgres table keyed on
// (timestamp, symbol, interval), per §6's alternative persistence shape.
// Grounded on the domain stack pulled from abdulloh5007-tradepl and
// Funky1981-jax-trading-assistant, both of which use jackc/pgx/v5 as their
// Postgres driver.
//
// Expected schema (created out of band by a migration, not by this type):
//
//	CREATE TABLE candles (
//	  ts       TIMESTAMPTZ NOT NULL,
//	  symbol   TEXT        NOT NULL,
//	  interval TEXT        NOT NULL,
//	  open, high, low, close, volume DOUBLE PRECISION NOT NULL,
//	  PRIMARY KEY (ts, symbol, interval)
//	);
type SQLPersister struct {
	pool *pgxpool.Pool
}

func NewSQLPersister(pool *pgxpool.Pool) *SQLPersister {
	return &SQLPersister{pool: pool}
}

const upsertCandleSQL = `
	INSERT INTO candles (ts, symbol, interval, open, high, low, close, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (ts, symbol, interval) DO UPDATE SET
	  open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
	  close = EXCLUDED.close, volume = EXCLUDED.volume`

func (p *SQLPersister) SaveSeries(symbol candle.Symbol, iv interval.Interval, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, c := range candles {
		if _, err := tx.Exec(ctx, upsertCandleSQL,
			c.Time.UTC(), string(symbol), iv.String(), c.Open, c.High, c.Low, c.Close, c.Volume,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *SQLPersister) LoadSeries(symbol candle.Symbol, iv interval.Interval) ([]candle.Candle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT ts, open, high, low, close, volume FROM candles
		 WHERE symbol = $1 AND interval = $2 ORDER BY ts ASC`,
		string(symbol), iv.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var c candle.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.Time = c.Time.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
