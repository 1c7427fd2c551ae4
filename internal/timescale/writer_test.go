package timescale

import (
	"testing"
	"time"

	"pf-scalp-bot/internal/config"

	"go.uber.org/zap"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if w != nil {
		t.Fatalf("expected nil writer when disabled")
	}
	// A nil writer swallows everything.
	w.EnqueueTrade(TradeEvent{Kind: "opened"})
	w.EnqueueCandle(Candle{Symbol: "BTC"})
	w.Start(nil)
	if err := w.Close(); err != nil {
		t.Fatalf("close nil writer: %v", err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, zap.NewNop()); err == nil {
		t.Fatalf("expected error without dsn")
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	w := &Writer{
		log:     zap.NewNop(),
		schema:  "public",
		trades:  make(chan TradeEvent, 1),
		candles: make(chan Candle, 1),
	}
	now := time.Now()
	w.EnqueueTrade(TradeEvent{Time: now, Kind: "opened"})
	w.EnqueueTrade(TradeEvent{Time: now, Kind: "closed"})
	w.EnqueueCandle(Candle{Symbol: "BTC", Interval: "1m", Start: now})
	w.EnqueueCandle(Candle{Symbol: "BTC", Interval: "1m", Start: now})
	w.EnqueueCandle(Candle{Symbol: "BTC", Interval: "1m", Start: now})

	if got := w.dropTrade.Load(); got != 1 {
		t.Fatalf("expected 1 dropped trade event, got %d", got)
	}
	if got := w.dropCandle.Load(); got != 2 {
		t.Fatalf("expected 2 dropped candles, got %d", got)
	}
	if got := (<-w.trades).Kind; got != "opened" {
		t.Fatalf("expected first event kept, got %s", got)
	}
	if got := w.table("trade_events"); got != "public.trade_events" {
		t.Fatalf("unexpected table name %s", got)
	}
}
