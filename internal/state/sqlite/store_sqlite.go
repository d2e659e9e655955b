// Package sqlite backs the key/value store and the cycle audit log with a
// local sqlite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS cycles (
			cycle_number INTEGER PRIMARY KEY,
			symbol TEXT NOT NULL,
			long_venue TEXT NOT NULL,
			short_venue TEXT NOT NULL,
			quantity TEXT NOT NULL,
			leverage INTEGER NOT NULL,
			notional_usd TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			close_reason TEXT NOT NULL,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CycleRecord is one completed open/close round trip.
type CycleRecord struct {
	CycleNumber int
	Symbol      string
	LongVenue   string
	ShortVenue  string
	Quantity    decimal.Decimal
	Leverage    int
	NotionalUSD decimal.Decimal
	RealizedPnL decimal.Decimal
	CloseReason string
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// AppendCycle records a finished cycle. Replaying the same cycle number
// overwrites the row, which keeps crash-retry paths idempotent.
func (s *Store) AppendCycle(ctx context.Context, rec CycleRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO cycles
		(cycle_number, symbol, long_venue, short_venue, quantity, leverage, notional_usd, realized_pnl, close_reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CycleNumber, rec.Symbol, rec.LongVenue, rec.ShortVenue,
		rec.Quantity.String(), rec.Leverage, rec.NotionalUSD.String(),
		rec.RealizedPnL.String(), rec.CloseReason, rec.OpenedAt.UTC(), rec.ClosedAt.UTC())
	return err
}

// Cycles returns completed cycles, newest first.
func (s *Store) Cycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT cycle_number, symbol, long_venue, short_venue, quantity, leverage, notional_usd, realized_pnl, close_reason, opened_at, closed_at
		FROM cycles ORDER BY cycle_number DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CycleRecord
	for rows.Next() {
		var (
			rec                CycleRecord
			qty, notional, pnl string
			openedAt, closedAt time.Time
		)
		if err := rows.Scan(&rec.CycleNumber, &rec.Symbol, &rec.LongVenue, &rec.ShortVenue,
			&qty, &rec.Leverage, &notional, &pnl, &rec.CloseReason, &openedAt, &closedAt); err != nil {
			return nil, err
		}
		if rec.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if rec.NotionalUSD, err = decimal.NewFromString(notional); err != nil {
			return nil, err
		}
		if rec.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, err
		}
		rec.OpenedAt = openedAt
		rec.ClosedAt = closedAt
		out = append(out, rec)
	}
	return out, rows.Err()
}
