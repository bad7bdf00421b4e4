package execution

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"tradecore/internal/model"
)

// Journal persists fills to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenJournal opens (or creates) a SQLite journal database.
func OpenJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", dbPath, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id        TEXT NOT NULL,
		client_order_id TEXT NOT NULL,
		symbol          TEXT NOT NULL,
		side            TEXT NOT NULL,
		price           TEXT NOT NULL,
		size            TEXT NOT NULL,
		fee             TEXT NOT NULL DEFAULT '0',
		realized        TEXT NOT NULL DEFAULT '0',
		reason          TEXT,
		filled_at       DATETIME NOT NULL,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_filled_at ON trades(filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	if err := addFeeColumn(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// addFeeColumn upgrades journals created before fees were recorded.
func addFeeColumn(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('trades') WHERE name = 'fee'`).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.Exec(`ALTER TABLE trades ADD COLUMN fee TEXT NOT NULL DEFAULT '0'`)
	return err
}

// RecordFill persists a fill with the reason that triggered it and the PnL
// it realized net of fees (zero for entries).
func (j *Journal) RecordFill(fill model.Fill, reason string, realized decimal.Decimal) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO trades (order_id, client_order_id, symbol, side, price, size, fee, realized, reason, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.OrderID,
		fill.ClientOrderID,
		fill.Symbol,
		string(fill.Side),
		fill.Price.String(),
		fill.Size.String(),
		fill.Fee.String(),
		realized.String(),
		reason,
		fill.Time.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// TradeRecord represents a row from the trades table.
type TradeRecord struct {
	ID            int64           `json:"id"`
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          model.Side      `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	Fee           decimal.Decimal `json:"fee"`
	Realized      decimal.Decimal `json:"realized"`
	Reason        string          `json:"reason"`
	FilledAt      string          `json:"filled_at"`
}

// Trades returns the last N trades, newest first.
func (j *Journal) Trades(limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, client_order_id, symbol, side, price, size, fee, realized, reason, filled_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var (
			t                          TradeRecord
			side                       string
			price, size, fee, realized string
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.ClientOrderID, &t.Symbol, &side,
			&price, &size, &fee, &realized, &t.Reason, &t.FilledAt); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.Price, _ = decimal.NewFromString(price)
		t.Size, _ = decimal.NewFromString(size)
		t.Fee, _ = decimal.NewFromString(fee)
		t.Realized, _ = decimal.NewFromString(realized)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
