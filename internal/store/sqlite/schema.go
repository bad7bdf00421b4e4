package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// open uses WAL so the reader and the writer can share the file.
func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return db, nil
}

// Prices and volumes are decimal strings so nothing is lost to float
// rounding. One row per (symbol, duration, start); rewrites replace it.
const schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol     TEXT    NOT NULL,
	duration_s INTEGER NOT NULL,
	start      INTEGER NOT NULL,
	open       TEXT    NOT NULL,
	high       TEXT    NOT NULL,
	low        TEXT    NOT NULL,
	close      TEXT    NOT NULL,
	volume     TEXT    NOT NULL,
	trades     INTEGER,
	PRIMARY KEY (symbol, duration_s, start)
);`

const upsertCandle = `
INSERT INTO candles (symbol, duration_s, start, open, high, low, close, volume, trades)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (symbol, duration_s, start) DO UPDATE SET
	open = excluded.open, high = excluded.high, low = excluded.low,
	close = excluded.close, volume = excluded.volume, trades = excluded.trades`

func createSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
