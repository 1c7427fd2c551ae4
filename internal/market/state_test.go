package market

import (
	"math"
	"testing"
	"time"
)

func TestSMANotReadyUntilHistoryFull(t *testing.T) {
	s := New(5, 3*time.Second)
	for i, price := range []float64{100, 101, 102, 103} {
		s.ApplyCandle(Candle{Interval: Interval1m, Open: price, Close: price})
		if _, ok := s.SMA(); ok {
			t.Fatalf("expected SMA unready after %d samples", i+1)
		}
	}
	s.ApplyCandle(Candle{Interval: Interval1m, Open: 104, Close: 104})
	sma, ok := s.SMA()
	if !ok {
		t.Fatalf("expected SMA ready with full history")
	}
	if sma != 102 {
		t.Fatalf("expected SMA 102, got %f", sma)
	}
}

func TestSMAEvictsOldest(t *testing.T) {
	s := New(3, time.Second)
	for _, price := range []float64{10, 20, 30, 40} {
		s.ApplyCandle(Candle{Interval: Interval1m, Close: price})
	}
	if s.HistoryLen() != 3 {
		t.Fatalf("expected history length 3, got %d", s.HistoryLen())
	}
	sma, ok := s.SMA()
	if !ok || sma != 30 {
		t.Fatalf("expected SMA 30, got %f (ok=%v)", sma, ok)
	}
}

func TestFifteenMinuteCandleSkipsHistory(t *testing.T) {
	s := New(2, time.Second)
	s.ApplyCandle(Candle{Interval: Interval15m, Open: 1, Close: 2})
	if s.HistoryLen() != 0 {
		t.Fatalf("expected 15m candle to leave history untouched")
	}
	c, ok := s.Candle(Interval15m)
	if !ok || c.Open != 1 {
		t.Fatalf("expected latest 15m candle stored, got %+v", c)
	}
	s.ApplyCandle(Candle{Interval: Interval15m, Open: 5, Close: 6})
	c, _ = s.Candle(Interval15m)
	if c.Open != 5 {
		t.Fatalf("expected candle overwrite, got %+v", c)
	}
}

func TestTopOfBookVolume(t *testing.T) {
	s := New(5, time.Second)
	s.ApplyBook(OrderBook{
		Bids: []Level{{Price: 99, Size: 2}, {Price: 98, Size: 3}, {Price: 97, Size: 5}},
		Asks: []Level{{Price: 101, Size: 1}},
	})
	if got := s.TopOfBookVolume(SideBid, 2); got != 5 {
		t.Fatalf("expected bid volume 5, got %f", got)
	}
	if got := s.TopOfBookVolume(SideBid, 10); got != 10 {
		t.Fatalf("expected bid volume 10 when levels exceed depth, got %f", got)
	}
	if got := s.TopOfBookVolume(SideAsk, 5); got != 1 {
		t.Fatalf("expected ask volume 1, got %f", got)
	}
	s.ApplyBook(OrderBook{})
	if got := s.TopOfBookVolume(SideAsk, 5); got != 0 {
		t.Fatalf("expected 0 for empty side, got %f", got)
	}
}

func TestRecentTradeCountsEvictsOldTicks(t *testing.T) {
	s := New(5, 3*time.Second)
	base := time.Unix(1_700_000_000, 0)
	s.ApplyTrades([]TradeTick{{Side: TradeLong, ReceivedAt: base}, {Side: TradeShort, ReceivedAt: base}}, base)
	later := base.Add(2 * time.Second)
	s.ApplyTrades([]TradeTick{{Side: TradeLong, ReceivedAt: later}}, later)
	long, short := s.RecentTradeCounts(later)
	if long != 2 || short != 1 {
		t.Fatalf("expected 2/1 within window, got %d/%d", long, short)
	}
	long, short = s.RecentTradeCounts(base.Add(3 * time.Second))
	if long != 1 || short != 0 {
		t.Fatalf("expected 1/0 after eviction, got %d/%d", long, short)
	}
}

func TestSideFromDirection(t *testing.T) {
	if SideFromDirection("open_long") != TradeLong {
		t.Fatalf("expected long")
	}
	if SideFromDirection("close_short") != TradeShort {
		t.Fatalf("expected short")
	}
	if SideFromDirection("liquidation") != "" {
		t.Fatalf("expected unknown direction")
	}
}

func TestInvalidateRequiresFreshInputs(t *testing.T) {
	s := New(1, time.Second)
	now := time.Unix(1_700_000_000, 0)
	s.ApplyBook(OrderBook{Bids: []Level{{Size: 1}}, Asks: []Level{{Size: 1}}})
	s.ApplyCandle(Candle{Interval: Interval1m, Close: 100})
	s.ApplyCandle(Candle{Interval: Interval15m, Open: 99})
	s.ApplyMarkPrice(100)
	s.ApplyTrades([]TradeTick{{Side: TradeLong, ReceivedAt: now}}, now)
	if !s.Fresh() {
		t.Fatalf("expected fresh state")
	}
	s.Invalidate()
	if s.Fresh() {
		t.Fatalf("expected stale state after invalidate")
	}
	if long, _ := s.RecentTradeCounts(now); long != 0 {
		t.Fatalf("expected trade tape cleared")
	}
	if _, ok := s.SMA(); !ok {
		t.Fatalf("expected price history to survive invalidate")
	}
	s.ApplyBook(OrderBook{})
	s.ApplyCandle(Candle{Interval: Interval1m, Close: 100})
	s.ApplyMarkPrice(101)
	if s.Fresh() {
		t.Fatalf("expected stale until 15m candle observed")
	}
	s.ApplyCandle(Candle{Interval: Interval15m, Open: 99})
	if !s.Fresh() {
		t.Fatalf("expected fresh after every input observed")
	}
	if mark, ok := s.MarkPrice(); !ok || math.Abs(mark-101) > 1e-9 {
		t.Fatalf("expected mark 101, got %f", mark)
	}
}
