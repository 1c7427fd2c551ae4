package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"pf-scalp-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type Candle struct {
	Symbol   string
	Interval string
	Start    time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// TradeEvent is one lifecycle transition of the active trade.
type TradeEvent struct {
	Time       time.Time
	Kind       string
	Phase      string
	Symbol     string
	Side       string
	PositionID string
	EntryPrice float64
	Size       float64
	Reason     string
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	trades     chan TradeEvent
	candles    chan Candle
	started    atomic.Bool
	dropTrade  atomic.Uint64
	dropCandle atomic.Uint64
}

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
		db:      db,
		log:     log,
		schema:  schema,
		trades:  make(chan TradeEvent, queueSize),
		candles: make(chan Candle, queueSize),
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

func (w *Writer) EnqueueTrade(event TradeEvent) {
	if w == nil {
		return
	}
	select {
	case w.trades <- event:
		return
	default:
		if w.dropTrade.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale trade event queue full")
		}
	}
}

func (w *Writer) EnqueueCandle(candle Candle) {
	if w == nil {
		return
	}
	select {
	case w.candles <- candle:
		return
	default:
		if w.dropCandle.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale candle queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.trades:
			w.writeTrade(ctx, event)
		case candle := <-w.candles:
			w.writeCandle(ctx, candle)
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
		interval TEXT NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (ts, symbol, interval)
	)`, w.table("market_ohlc"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		kind TEXT NOT NULL,
		phase TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		position_id TEXT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		reason TEXT NOT NULL
	)`, w.table("trade_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("market_ohlc"))); err != nil && w.log != nil {
		w.log.Warn("timescale market_ohlc hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("trade_events"))); err != nil && w.log != nil {
		w.log.Warn("timescale trade_events hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeTrade(ctx context.Context, event TradeEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, kind, phase, symbol, side, position_id, entry_price, size, reason
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9
	)`, w.table("trade_events"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.Kind,
		event.Phase,
		event.Symbol,
		event.Side,
		event.PositionID,
		event.EntryPrice,
		event.Size,
		event.Reason,
	); err != nil && w.log != nil {
		w.log.Warn("timescale trade event insert failed", zap.Error(err))
	}
}

func (w *Writer) writeCandle(ctx context.Context, candle Candle) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, interval, open, high, low, close, volume
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)
	ON CONFLICT (ts, symbol, interval) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume`, w.table("market_ohlc"))
	if _, err := w.db.ExecContext(ctx, query,
		candle.Start,
		candle.Symbol,
		candle.Interval,
		candle.Open,
		candle.High,
		candle.Low,
		candle.Close,
		candle.Volume,
	); err != nil && w.log != nil {
		w.log.Warn("timescale candle upsert failed", zap.Error(err))
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
