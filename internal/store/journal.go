package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/efreitasn/papertrader/internal/domain"
)

// TradeJournal is an append-only audit log of executed trades, persisted to
// SQLite so fills survive process restarts. It is a sink only: live
// position/order state is rebuilt from memory, not from the journal.
type TradeJournal struct {
	db *sql.DB
}

// NewTradeJournal opens (or creates) the journal database at path and
// ensures the schema exists. Use ":memory:" for tests.
func NewTradeJournal(path string) (*TradeJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trade journal: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id    TEXT PRIMARY KEY,
	order_id    TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	quantity    INTEGER NOT NULL,
	price       TEXT NOT NULL,
	commission  TEXT NOT NULL,
	exchange    TEXT NOT NULL,
	executed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create trade journal schema: %w", err)
	}

	return &TradeJournal{db: db}, nil
}

// Append writes a trade record. Prices are stored as decimal strings to
// avoid float rounding in the audit trail.
func (j *TradeJournal) Append(ctx context.Context, t *domain.Trade) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO trades (trade_id, order_id, symbol, side, quantity, price, commission, exchange, executed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.OrderID, t.Symbol, string(t.Side), t.Quantity,
		t.Price.String(), t.Commission.String(), t.Exchange,
		t.ExecutedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal trade %s: %w", t.TradeID, err)
	}
	return nil
}

// ListByOrder reads back the journaled trades for an order, oldest first.
func (j *TradeJournal) ListByOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT trade_id, order_id, symbol, side, quantity, price, commission, exchange, executed_at
FROM trades WHERE order_id = ? ORDER BY executed_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query journal for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Count returns the number of journaled trades.
func (j *TradeJournal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal trades: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (j *TradeJournal) Close() error {
	return j.db.Close()
}

func scanTrade(rows *sql.Rows) (*domain.Trade, error) {
	var (
		t          domain.Trade
		side       string
		price      string
		commission string
		executedAt string
	)
	if err := rows.Scan(&t.TradeID, &t.OrderID, &t.Symbol, &side, &t.Quantity,
		&price, &commission, &t.Exchange, &executedAt); err != nil {
		return nil, fmt.Errorf("scan journal row: %w", err)
	}

	t.Side = domain.OrderSide(side)
	var err error
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse journal price %q: %w", price, err)
	}
	if t.Commission, err = decimal.NewFromString(commission); err != nil {
		return nil, fmt.Errorf("parse journal commission %q: %w", commission, err)
	}
	if t.ExecutedAt, err = time.Parse(time.RFC3339Nano, executedAt); err != nil {
		return nil, fmt.Errorf("parse journal timestamp %q: %w", executedAt, err)
	}
	return &t, nil
}
