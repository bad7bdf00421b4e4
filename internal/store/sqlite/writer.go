// Package sqlite archives completed candles and serves them back as history
// for indicator seeding and backtests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradecore/internal/model"
)

// WriterConfig configures the archive writer. Zero values take defaults.
type WriterConfig struct {
	DBPath     string
	BatchSize  int           // candles per transaction, default 100
	FlushEvery time.Duration // longest a candle waits for its batch, default 200ms
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 200 * time.Millisecond
	}
	return c
}

// Writer owns the only write connection to the archive.
type Writer struct {
	db  *sql.DB
	cfg WriterConfig
	log *zap.Logger

	// OnCommit reports every flushed batch (metrics).
	OnCommit func(n int, err error)
}

// DB exposes the connection for liveness checks.
func (w *Writer) DB() *sql.DB { return w.db }

func New(cfg WriterConfig, log *zap.Logger) (*Writer, error) {
	cfg = cfg.withDefaults()
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("sqlite")
	log.Info("archive opened", zap.String("path", cfg.DBPath), zap.Int("batch", cfg.BatchSize))
	return &Writer{db: db, cfg: cfg, log: log}, nil
}

// Run implements model.CandleSink. A batch is committed when it is full or
// FlushEvery after its first candle, and once more when the input ends.
func (w *Writer) Run(ctx context.Context, in <-chan model.CandleMessage) {
	pending := make([]model.Candle, 0, w.cfg.BatchSize)
	var deadline <-chan time.Time

	commit := func() {
		deadline = nil
		if len(pending) == 0 {
			return
		}
		started := time.Now()
		err := w.InsertBatch(pending)
		if err != nil {
			w.log.Error("batch insert failed", zap.Int("candles", len(pending)), zap.Error(err))
		} else {
			w.log.Debug("batch committed", zap.Int("candles", len(pending)), zap.Duration("took", time.Since(started)))
		}
		if w.OnCommit != nil {
			w.OnCommit(len(pending), err)
		}
		pending = pending[:0]
	}
	defer commit()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			commit()
		case msg, ok := <-in:
			if !ok {
				return
			}
			pending = append(pending, msg.Candle)
			if len(pending) >= w.cfg.BatchSize {
				commit()
			} else if deadline == nil {
				deadline = time.After(w.cfg.FlushEvery)
			}
		}
	}
}

// InsertBatch upserts candles in one transaction.
func (w *Writer) InsertBatch(candles []model.Candle) (err error) {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(upsertCandle)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err = stmt.Exec(c.Symbol, int64(c.End.Sub(c.Start)/time.Second), c.Start.Unix(),
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String(), c.Trades); err != nil {
			return fmt.Errorf("insert %s@%s: %w", c.Symbol, c.Start.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

// LastStart returns the start of the newest stored candle for symbol at
// duration d, or the zero time when there is none.
func (w *Writer) LastStart(symbol string, d time.Duration) (time.Time, error) {
	var ts sql.NullInt64
	if err := w.db.QueryRow(`SELECT MAX(start) FROM candles WHERE symbol = ? AND duration_s = ?`,
		symbol, int64(d/time.Second)).Scan(&ts); err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

func (w *Writer) Close() error {
	return w.db.Close()
}
