package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pf-scalp-bot/internal/feed"
	"pf-scalp-bot/internal/lifecycle"
	"pf-scalp-bot/internal/market"
	"pf-scalp-bot/internal/metrics"
	"pf-scalp-bot/internal/strategy"

	"go.uber.org/zap"
)

type fakeGateway struct {
	mu     sync.Mutex
	orders []lifecycle.OrderRequest
}

func (g *fakeGateway) OpenOrder(_ context.Context, req lifecycle.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	return req.RequestID, nil
}

func (g *fakeGateway) PlaceProtective(context.Context, lifecycle.ProtectiveRequest) error {
	return nil
}

func (g *fakeGateway) OpenPosition(context.Context, string) (lifecycle.PositionInfo, bool, error) {
	return lifecycle.PositionInfo{}, false, nil
}

func (g *fakeGateway) orderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

type countingCounter struct{ n atomic.Int64 }

func (c *countingCounter) Inc() { c.n.Add(1) }

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Symbol: "BTC",
		Params: strategy.Params{
			Leverage:            10,
			CollateralUSD:       100,
			ImbalanceRatio:      1.5,
			LevelsToCheck:       1,
			LotPrecision:        3,
			SMAProximityPercent: 0.01,
		},
		Lifecycle: lifecycle.Config{
			Symbol:              "BTC",
			CollateralUSD:       100,
			TakeProfitPercent:   0.01,
			StopLossPercent:     0.01,
			MaxTradeDuration:    time.Minute,
			EntryConfirmTimeout: 30 * time.Second,
			ExitConfirmTimeout:  30 * time.Second,
			PricePrecision:      1,
			LotPrecision:        3,
		},
		SMAPeriod:        2,
		TradeSurgeWindow: 10 * time.Second,
		LogInterval:      time.Minute,
		InboxSize:        16,
	}
}

func newTestEngine(t *testing.T, m *metrics.Metrics) (*Engine, *fakeGateway) {
	t.Helper()
	gw := &fakeGateway{}
	e := New(testConfig(), gw, nil, m, zap.NewNop())
	e.now = func() time.Time { return testNow }
	return e, gw
}

// warmUp feeds every input a long entry needs except the book.
func warmUp(e *Engine) {
	e.dispatch(feed.CandleUpdate{Candle: market.Candle{Symbol: "BTC", Interval: market.Interval1m, Open: 99, Close: 100}}, testNow)
	e.dispatch(feed.CandleUpdate{Candle: market.Candle{Symbol: "BTC", Interval: market.Interval1m, Open: 99, Close: 100}}, testNow)
	e.dispatch(feed.CandleUpdate{Candle: market.Candle{Symbol: "BTC", Interval: market.Interval15m, Open: 95, Close: 100}}, testNow)
	e.dispatch(feed.MarkPrice{Symbol: "BTC", Price: 100.5}, testNow)
	ticks := []market.TradeTick{
		{Side: market.TradeLong, Size: 1, ReceivedAt: testNow},
		{Side: market.TradeLong, Size: 1, ReceivedAt: testNow},
		{Side: market.TradeLong, Size: 1, ReceivedAt: testNow},
		{Side: market.TradeShort, Size: 1, ReceivedAt: testNow},
	}
	e.dispatch(feed.TradeTicks{Symbol: "BTC", Ticks: ticks}, testNow)
}

func bullishBook() feed.BookUpdate {
	return feed.BookUpdate{Symbol: "BTC", Book: market.OrderBook{
		Bids: []market.Level{{Price: 100.4, Size: 10}},
		Asks: []market.Level{{Price: 100.6, Size: 2}},
	}}
}

func TestEvaluatesOnlyOnBookUpdates(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	warmUp(e)
	if e.evaluations != 0 {
		t.Fatalf("expected no evaluations from candle/mark/trades, got %d", e.evaluations)
	}
	e.dispatch(feed.Reconnected{At: testNow}, testNow)
	e.dispatch(feed.Tick{Now: testNow}, testNow)
	if e.evaluations != 0 {
		t.Fatalf("expected no evaluations from reconnect/tick, got %d", e.evaluations)
	}
	e.dispatch(feed.BookUpdate{Symbol: "BTC"}, testNow)
	e.dispatch(feed.BookUpdate{Symbol: "BTC"}, testNow)
	if e.evaluations != 2 {
		t.Fatalf("expected one evaluation per book update, got %d", e.evaluations)
	}
}

func TestBookSignalOpensLong(t *testing.T) {
	m := metrics.NewNoop()
	longs := &countingCounter{}
	m.SignalsLong = longs
	e, gw := newTestEngine(t, m)
	warmUp(e)
	e.dispatch(bullishBook(), testNow)

	if got := e.lifecycle.Phase(); got != strategy.PhaseEntering {
		t.Fatalf("expected entering, got %s", got)
	}
	env := <-e.inbox
	e.handle(env)
	if gw.orderCount() != 1 {
		t.Fatalf("expected one order, got %d", gw.orderCount())
	}
	order := gw.orders[0]
	if order.Side != "bid" || order.ReduceOnly || order.Size.String() != "9.95" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if got := longs.n.Load(); got != 1 {
		t.Fatalf("expected one long signal, got %d", got)
	}
}

func TestNoEvaluationWhileNotIdle(t *testing.T) {
	e, gw := newTestEngine(t, nil)
	warmUp(e)
	e.dispatch(bullishBook(), testNow)
	e.handle(<-e.inbox)
	before := e.evaluations

	e.dispatch(bullishBook(), testNow)
	e.dispatch(bullishBook(), testNow)
	if e.evaluations != before {
		t.Fatalf("expected no evaluations while entering, got %d more", e.evaluations-before)
	}
	if gw.orderCount() != 1 {
		t.Fatalf("expected a single order, got %d", gw.orderCount())
	}
}

func TestPausedSuppressesEntries(t *testing.T) {
	e, gw := newTestEngine(t, nil)
	e.SetPaused(true)
	warmUp(e)
	e.dispatch(bullishBook(), testNow)
	if e.lifecycle.Phase() != strategy.PhaseIdle {
		t.Fatalf("expected idle while paused, got %s", e.lifecycle.Phase())
	}
	if gw.orderCount() != 0 {
		t.Fatalf("expected no orders while paused")
	}
	if !e.Status().Paused {
		t.Fatalf("expected paused status")
	}
}

func TestReconnectInvalidatesMarket(t *testing.T) {
	e, gw := newTestEngine(t, nil)
	warmUp(e)
	e.dispatch(feed.Reconnected{At: testNow}, testNow)
	e.dispatch(bullishBook(), testNow)
	if e.lifecycle.Phase() != strategy.PhaseIdle || gw.orderCount() != 0 {
		t.Fatalf("expected no entry on stale market")
	}
	if e.market.Fresh() {
		t.Fatalf("expected market to stay stale until every input is refreshed")
	}
}

func TestAckAndFillRouting(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.dispatch(feed.ExecutionAck{Type: "create_market_order", Code: 400, Err: "boom"}, testNow)
	if e.lifecycle.Phase() != strategy.PhaseIdle {
		t.Fatalf("stray ack should not change phase")
	}

	warmUp(e)
	e.dispatch(bullishBook(), testNow)
	e.handle(<-e.inbox)

	e.dispatch(feed.AccountFills{Fills: []feed.Fill{{Symbol: "ETH", Direction: feed.DirectionOpenLong, Amount: 1, Price: 100}}}, testNow)
	if e.lifecycle.Phase() != strategy.PhaseEntering {
		t.Fatalf("fill for another symbol should be ignored, got %s", e.lifecycle.Phase())
	}
	e.dispatch(feed.AccountFills{Fills: []feed.Fill{{PositionID: "p1", Symbol: "BTC", Direction: feed.DirectionOpenLong, Amount: 9.95, Price: 100.5}}}, testNow)
	if e.lifecycle.Phase() != strategy.PhaseOpen {
		t.Fatalf("expected open after fill, got %s", e.lifecycle.Phase())
	}
}

func TestHandleMessageCountsDecodeErrors(t *testing.T) {
	m := metrics.NewNoop()
	decodeErrs := &countingCounter{}
	m.FeedDecodeErrors = decodeErrs
	e, _ := newTestEngine(t, m)
	ctx := context.Background()
	e.HandleMessage(ctx, []byte("not json"))
	e.HandleMessage(ctx, []byte(`{"channel":"prices","data":[{"symbol":"BTC","mark":"101.5"}]}`))

	if got := decodeErrs.n.Load(); got != 1 {
		t.Fatalf("expected one decode error, got %d", got)
	}
	select {
	case env := <-e.inbox:
		mark, ok := env.ev.(feed.MarkPrice)
		if !ok || mark.Price != 101.5 {
			t.Fatalf("unexpected event: %#v", env.ev)
		}
	default:
		t.Fatalf("expected a queued mark price event")
	}
}

func TestRunAppliesContinuationsAndPublishesStatus(t *testing.T) {
	e, gw := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	events := []feed.Event{
		feed.CandleUpdate{Candle: market.Candle{Interval: market.Interval1m, Open: 99, Close: 100}},
		feed.CandleUpdate{Candle: market.Candle{Interval: market.Interval1m, Open: 99, Close: 100}},
		feed.CandleUpdate{Candle: market.Candle{Interval: market.Interval15m, Open: 95, Close: 100}},
		feed.MarkPrice{Symbol: "BTC", Price: 100.5},
		feed.TradeTicks{Symbol: "BTC", Ticks: []market.TradeTick{
			{Side: market.TradeLong, Size: 1, ReceivedAt: testNow}, {Side: market.TradeLong, Size: 1, ReceivedAt: testNow},
			{Side: market.TradeLong, Size: 1, ReceivedAt: testNow}, {Side: market.TradeShort, Size: 1, ReceivedAt: testNow},
		}},
		bullishBook(),
	}
	for _, ev := range events {
		if !e.Publish(ctx, ev) {
			t.Fatalf("publish failed")
		}
	}

	deadline := time.After(2 * time.Second)
	for gw.orderCount() == 0 || e.Status().Phase != strategy.PhaseEntering {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for entry, status=%+v orders=%d", e.Status(), gw.orderCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	st := e.Status()
	if st.LastEvent != "book" || !st.MarketReady || !st.HasSMA || st.SMA != 100 {
		t.Fatalf("unexpected status: %+v", st)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
}

func TestConcurrentProducersOpenSingleEntry(t *testing.T) {
	e, gw := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	for _, ev := range []feed.Event{
		feed.CandleUpdate{Candle: market.Candle{Interval: market.Interval1m, Open: 99, Close: 100}},
		feed.CandleUpdate{Candle: market.Candle{Interval: market.Interval1m, Open: 99, Close: 100}},
		feed.CandleUpdate{Candle: market.Candle{Interval: market.Interval15m, Open: 95, Close: 100}},
		feed.TradeTicks{Symbol: "BTC", Ticks: []market.TradeTick{
			{Side: market.TradeLong, Size: 1, ReceivedAt: testNow}, {Side: market.TradeLong, Size: 1, ReceivedAt: testNow},
			{Side: market.TradeLong, Size: 1, ReceivedAt: testNow}, {Side: market.TradeShort, Size: 1, ReceivedAt: testNow},
		}},
	} {
		if !e.Publish(ctx, ev) {
			t.Fatalf("publish failed")
		}
	}

	book := []byte(`{"channel":"book","data":{"s":"BTC","l":[[{"p":"100.4","a":"10","n":1}],[{"p":"100.6","a":"2","n":1}]],"t":1}}`)
	prices := []byte(`{"channel":"prices","data":[{"symbol":"BTC","mark":"100.5"}]}`)
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				e.HandleMessage(ctx, prices)
				e.HandleMessage(ctx, book)
			}
		}()
	}
	wg.Wait()

	// FIFO inbox: once this mark shows up every earlier frame was applied.
	e.Publish(ctx, feed.MarkPrice{Symbol: "BTC", Price: 101.25})
	deadline := time.After(2 * time.Second)
	for e.Status().Mark != 101.25 || gw.orderCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out draining producers, status=%+v orders=%d", e.Status(), gw.orderCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := gw.orderCount(); got != 1 {
		t.Fatalf("expected exactly one entry order, got %d", got)
	}
	if st := e.Status(); st.Phase != strategy.PhaseEntering {
		t.Fatalf("expected entering, got %s", st.Phase)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
}
