// Package timescale streams funding-rate samples and position monitor rows
// into TimescaleDB for offline analysis. Writes are buffered and dropped
// when the queue backs up; history is best effort and never blocks trading.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hp-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// FundingSample is one venue's funding observation for a symbol.
type FundingSample struct {
	Time   time.Time
	Symbol string
	Venue  string
	Rate   decimal.Decimal
	APR    decimal.Decimal
}

// MonitorSample is one holding-loop observation of the open position.
type MonitorSample struct {
	Time        time.Time
	Symbol      string
	Phase       string
	LongVenue   string
	ShortVenue  string
	LongPnL     decimal.Decimal
	ShortPnL    decimal.Decimal
	WorstPnL    decimal.Decimal
	NotionalUSD decimal.Decimal
	StopLossPct decimal.Decimal
}

type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	fundings    chan FundingSample
	monitors    chan MonitorSample
	started     atomic.Bool
	dropFunding atomic.Uint64
	dropMonitor atomic.Uint64
}

// New returns nil when history is disabled; all methods are nil-safe.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:       db,
		log:      log,
		schema:   schema,
		fundings: make(chan FundingSample, queueSize),
		monitors: make(chan MonitorSample, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueFunding(sample FundingSample) {
	if w == nil {
		return
	}
	select {
	case w.fundings <- sample:
		return
	default:
		if w.dropFunding.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale funding queue full")
		}
	}
}

func (w *Writer) EnqueueMonitor(sample MonitorSample) {
	if w == nil {
		return
	}
	select {
	case w.monitors <- sample:
		return
	default:
		if w.dropMonitor.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale monitor queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-w.fundings:
			w.writeFunding(ctx, sample)
		case sample := <-w.monitors:
			w.writeMonitor(ctx, sample)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		venue TEXT NOT NULL,
		rate NUMERIC NOT NULL,
		apr NUMERIC NOT NULL,
		PRIMARY KEY (ts, symbol, venue)
	)`, w.table("funding_rates"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		phase TEXT NOT NULL,
		long_venue TEXT NOT NULL,
		short_venue TEXT NOT NULL,
		long_pnl NUMERIC NOT NULL,
		short_pnl NUMERIC NOT NULL,
		worst_pnl NUMERIC NOT NULL,
		notional_usd NUMERIC NOT NULL,
		stop_loss_pct NUMERIC NOT NULL
	)`, w.table("position_monitor"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("funding_rates"))); err != nil && w.log != nil {
		w.log.Warn("timescale funding_rates hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("position_monitor"))); err != nil && w.log != nil {
		w.log.Warn("timescale position_monitor hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeFunding(ctx context.Context, sample FundingSample) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, symbol, venue, rate, apr)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (ts, symbol, venue) DO UPDATE SET
		rate = EXCLUDED.rate,
		apr = EXCLUDED.apr`, w.table("funding_rates"))
	if _, err := w.db.ExecContext(ctx, query,
		sample.Time,
		sample.Symbol,
		sample.Venue,
		sample.Rate.String(),
		sample.APR.String(),
	); err != nil && w.log != nil {
		w.log.Warn("timescale funding insert failed", zap.Error(err))
	}
}

func (w *Writer) writeMonitor(ctx context.Context, sample MonitorSample) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, phase, long_venue, short_venue, long_pnl, short_pnl,
		worst_pnl, notional_usd, stop_loss_pct
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, w.table("position_monitor"))
	if _, err := w.db.ExecContext(ctx, query,
		sample.Time,
		sample.Symbol,
		sample.Phase,
		sample.LongVenue,
		sample.ShortVenue,
		sample.LongPnL.String(),
		sample.ShortPnL.String(),
		sample.WorstPnL.String(),
		sample.NotionalUSD.String(),
		sample.StopLossPct.String(),
	); err != nil && w.log != nil {
		w.log.Warn("timescale monitor insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
