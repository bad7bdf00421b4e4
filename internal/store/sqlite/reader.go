package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/model"
)

// Reader provides read-only access to the archive. It implements
// model.HistorySource.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Reader{db: db}, nil
}

// FetchHistory returns archived candles of the given duration with start in
// [start, end), ordered by start ascending for correct replay order.
func (r *Reader) FetchHistory(ctx context.Context, symbol string, start, end time.Time, granularity time.Duration) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, duration_s, start, open, high, low, close, volume, trades
		FROM candles
		WHERE symbol = ? AND duration_s = ? AND start >= ? AND start < ?
		ORDER BY start ASC
	`, symbol, int64(granularity/time.Second), start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var (
			c                        model.Candle
			durS, startS             int64
			open, high, low, cl, vol string
			trades                   sql.NullInt64
		)
		if err := rows.Scan(&c.Symbol, &durS, &startS, &open, &high, &low, &cl, &vol, &trades); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.Start = time.Unix(startS, 0).UTC()
		c.End = c.Start.Add(time.Duration(durS) * time.Second)
		c.Trades = int(trades.Int64)
		dst := []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
		for i, v := range []string{open, high, low, cl, vol} {
			if *dst[i], err = decimal.NewFromString(v); err != nil {
				return nil, fmt.Errorf("sqlite decode candle %s@%d: %w", c.Symbol, startS, err)
			}
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Symbols lists the archived symbols for duration d.
func (r *Reader) Symbols(ctx context.Context, d time.Duration) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT symbol FROM candles WHERE duration_s = ? ORDER BY symbol`, int64(d/time.Second))
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
