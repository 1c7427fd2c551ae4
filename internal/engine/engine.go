// Package engine is the single consumer of market events. Every mutation of
// the market view and the trade lifecycle happens on the Run goroutine.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pf-scalp-bot/internal/config"
	"pf-scalp-bot/internal/feed"
	"pf-scalp-bot/internal/lifecycle"
	"pf-scalp-bot/internal/market"
	"pf-scalp-bot/internal/metrics"
	"pf-scalp-bot/internal/strategy"

	"go.uber.org/zap"
)

const defaultInboxSize = 1024

type Config struct {
	Symbol               string
	Params               strategy.Params
	Lifecycle            lifecycle.Config
	SMAPeriod            int
	TradeSurgeWindow     time.Duration
	LogInterval          time.Duration
	TimeoutCheckInterval time.Duration
	InboxSize            int
}

func ConfigFromApp(cfg *config.Config) Config {
	s := cfg.Strategy
	return Config{
		Symbol:               s.Symbol,
		Params:               strategy.ParamsFromConfig(s),
		Lifecycle:            lifecycle.ConfigFromStrategy(s),
		SMAPeriod:            s.SMAPeriod,
		TradeSurgeWindow:     s.TradeSurgeWindow,
		LogInterval:          s.LogInterval,
		TimeoutCheckInterval: s.TimeoutCheckInterval,
		InboxSize:            cfg.WS.InboxSize,
	}
}

// envelope carries either a feed event or a continuation of async work.
type envelope struct {
	ev   feed.Event
	cont func()
}

type Engine struct {
	cfg       Config
	decoder   feed.Decoder
	market    *market.State
	lifecycle *lifecycle.Lifecycle
	metrics   *metrics.Metrics
	log       *zap.Logger
	inbox     chan envelope
	now       func() time.Time

	// runCtx is only touched from the loop goroutine.
	runCtx  context.Context
	pending sync.WaitGroup

	paused      atomic.Bool
	evaluations uint64
	lastDiagLog time.Time
	lastEvent   string

	statusMu sync.RWMutex
	status   Status

	candleSink func(market.Candle)
}

// New builds the engine and the trade lifecycle it drives. The engine is the
// lifecycle's scheduler: gateway calls run on their own goroutines and their
// results are applied back on the loop.
func New(cfg Config, gateway lifecycle.Gateway, rec lifecycle.Recorder, m *metrics.Metrics, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	size := cfg.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}
	e := &Engine{
		cfg:     cfg,
		decoder: feed.Decoder{Symbol: cfg.Symbol},
		market:  market.New(cfg.SMAPeriod, cfg.TradeSurgeWindow),
		metrics: m,
		log:     log,
		inbox:   make(chan envelope, size),
		now:     time.Now,
		runCtx:  context.Background(),
	}
	e.lifecycle = lifecycle.New(cfg.Lifecycle, gateway, e, rec, m, log)
	e.status = Status{Symbol: cfg.Symbol, Phase: strategy.PhaseIdle}
	return e
}

// SetCandleSink registers fn to receive every applied candle. It must be
// set before Run and must not block.
func (e *Engine) SetCandleSink(fn func(market.Candle)) {
	e.candleSink = fn
}

// Go implements lifecycle.Scheduler.
func (e *Engine) Go(fn func(ctx context.Context) func()) {
	ctx := e.runCtx
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		cont := fn(ctx)
		if cont == nil {
			return
		}
		select {
		case e.inbox <- envelope{cont: cont}:
		case <-ctx.Done():
		}
	}()
}

// HandleMessage decodes one raw feed frame and queues its events. It is
// called from the websocket read goroutine.
func (e *Engine) HandleMessage(ctx context.Context, raw []byte) {
	events, err := e.decoder.Decode(raw, e.now())
	if err != nil {
		e.metrics.FeedDecodeErrors.Inc()
		e.log.Debug("feed message dropped", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}
	for _, ev := range events {
		if !e.Publish(ctx, ev) {
			return
		}
	}
}

// Publish queues ev for the loop. It blocks while the inbox is full and
// returns false once ctx is done.
func (e *Engine) Publish(ctx context.Context, ev feed.Event) bool {
	select {
	case e.inbox <- envelope{ev: ev}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run consumes events until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	interval := e.cfg.TimeoutCheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer e.pending.Wait()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case env := <-e.inbox:
			e.handle(env)
		case now := <-ticker.C:
			e.handle(envelope{ev: feed.Tick{Now: now}})
		}
	}
}

func (e *Engine) handle(env envelope) {
	if env.cont != nil {
		env.cont()
	} else if env.ev != nil {
		e.dispatch(env.ev, e.now())
		e.lastEvent = feed.Name(env.ev)
	}
	e.metrics.Phase.Set(lifecycle.PhaseValue(e.lifecycle.Phase()))
	e.publishStatus()
}

func (e *Engine) dispatch(ev feed.Event, now time.Time) {
	switch ev := ev.(type) {
	case feed.BookUpdate:
		e.market.ApplyBook(ev.Book)
		e.evaluate(now)
	case feed.CandleUpdate:
		e.market.ApplyCandle(ev.Candle)
		if e.candleSink != nil {
			e.candleSink(ev.Candle)
		}
	case feed.MarkPrice:
		e.market.ApplyMarkPrice(ev.Price)
	case feed.TradeTicks:
		e.market.ApplyTrades(ev.Ticks, now)
	case feed.AccountFills:
		for _, f := range ev.Fills {
			if f.Symbol != e.cfg.Symbol {
				continue
			}
			e.lifecycle.OnFill(f, now)
		}
	case feed.ExecutionAck:
		switch e.lifecycle.Phase() {
		case strategy.PhaseEntering, strategy.PhaseExiting:
			e.lifecycle.OnAck(ev, now)
		default:
			e.log.Debug("ack discarded",
				zap.String("phase", string(e.lifecycle.Phase())),
				zap.Int("code", ev.Code),
			)
		}
	case feed.Reconnected:
		e.market.Invalidate()
		e.metrics.FeedReconnects.Inc()
		e.log.Info("feed reconnected, market view invalidated", zap.Time("at", ev.At))
	case feed.Tick:
		e.lifecycle.CheckTimeout(ev.Now)
	}
}

// evaluate runs the signal engine once for a book update.
func (e *Engine) evaluate(now time.Time) {
	if e.lifecycle.Phase() != strategy.PhaseIdle || e.paused.Load() {
		return
	}
	e.evaluations++
	eval := strategy.Evaluate(e.cfg.Params, e.market, now)
	if !eval.Ready {
		return
	}
	e.logDiagnostics(eval, now)

	switch eval.Signal {
	case strategy.SignalLong:
		e.metrics.SignalsLong.Inc()
	case strategy.SignalShort:
		e.metrics.SignalsShort.Inc()
	default:
		return
	}
	d := eval.Diagnostics
	e.log.Info("entry signal",
		zap.String("signal", eval.Signal.String()),
		zap.String("size", eval.Size.String()),
		zap.Float64("mark", d.Mark),
		zap.Float64("sma", d.SMA),
		zap.Float64("ratio", d.Ratio),
	)
	e.lifecycle.RequestOpen(eval.Signal, eval.Size, now)
}

func (e *Engine) logDiagnostics(eval strategy.Evaluation, now time.Time) {
	if e.cfg.LogInterval > 0 && !e.lastDiagLog.IsZero() && now.Sub(e.lastDiagLog) < e.cfg.LogInterval {
		return
	}
	e.lastDiagLog = now
	d := eval.Diagnostics
	e.log.Info("market diagnostics",
		zap.String("symbol", e.cfg.Symbol),
		zap.Float64("mark", d.Mark),
		zap.String("trend", d.Trend()),
		zap.Float64("sma", d.SMA),
		zap.Float64("bid_volume", d.BidVolume),
		zap.Float64("ask_volume", d.AskVolume),
		zap.Float64("ratio", d.Ratio),
		zap.String("candle", d.Candle),
		zap.Int("long_trades", d.LongTrades),
		zap.Int("short_trades", d.ShortTrades),
	)
}

func (e *Engine) SetPaused(paused bool) {
	e.paused.Store(paused)
}

func (e *Engine) Paused() bool {
	return e.paused.Load()
}
