// Package audit persists request-level audit rows in SQLite: who asked for
// prices, and every order that reached the trade engine. Writes are
// best-effort; request handling never fails on an audit error.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

// Log wraps the audit database. A nil *Log is a valid no-op sink, used
// when auditing is disabled.
type Log struct {
	sql *sql.DB
}

// Open opens (or creates) the audit database and runs migrations.
func Open(path string) (*Log, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	l := &Log{sql: sqlDB}
	if err := l.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return l, nil
}

func (l *Log) migrate() error {
	_, err := l.sql.Exec(`
		CREATE TABLE IF NOT EXISTS price_requests (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			uid         TEXT NOT NULL,
			email       TEXT,
			server_time INTEGER NOT NULL,
			markets     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_price_requests_time ON price_requests(server_time);

		CREATE TABLE IF NOT EXISTS orders (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			uid          TEXT NOT NULL,
			portfolio_id TEXT NOT NULL,
			market       TEXT NOT NULL,
			quantity     TEXT NOT NULL,
			price        REAL NOT NULL,
			agreed       INTEGER NOT NULL,
			server_time  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_time ON orders(server_time);
	`)
	return err
}

// Close closes the database connection.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.sql.Close()
}

// PriceRequest records one price query.
func (l *Log) PriceRequest(ctx context.Context, uid, email string, markets []string) error {
	if l == nil {
		return nil
	}
	_, err := l.sql.ExecContext(ctx,
		`INSERT INTO price_requests (uid, email, server_time, markets) VALUES (?, ?, ?, ?)`,
		uid, email, time.Now().Unix(), strings.Join(markets, ","))
	if err != nil {
		return fmt.Errorf("log price request: %w", err)
	}
	return nil
}

// Order is one audited purchase attempt.
type Order struct {
	UID         string
	PortfolioID string
	Market      string
	Quantity    types.Quantity
	Price       float64
	Agreed      bool
}

// RecordOrder records one order that reached the trade engine.
func (l *Log) RecordOrder(ctx context.Context, o Order) error {
	if l == nil {
		return nil
	}
	quantity, err := json.Marshal(o.Quantity)
	if err != nil {
		return fmt.Errorf("encode order quantity: %w", err)
	}
	_, err = l.sql.ExecContext(ctx,
		`INSERT INTO orders (uid, portfolio_id, market, quantity, price, agreed, server_time) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.UID, o.PortfolioID, o.Market, string(quantity), o.Price, o.Agreed, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("log order: %w", err)
	}
	return nil
}
