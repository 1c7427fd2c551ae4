package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pf-scalp-bot/internal/alerts"
	"pf-scalp-bot/internal/config"
	"pf-scalp-bot/internal/engine"
	"pf-scalp-bot/internal/exec"
	"pf-scalp-bot/internal/feed"
	"pf-scalp-bot/internal/lifecycle"
	"pf-scalp-bot/internal/market"
	"pf-scalp-bot/internal/metrics"
	"pf-scalp-bot/internal/pacifica/exchange"
	"pf-scalp-bot/internal/pacifica/rest"
	"pf-scalp-bot/internal/pacifica/ws"
	"pf-scalp-bot/internal/state"
	"pf-scalp-bot/internal/state/sqlite"
	"pf-scalp-bot/internal/timescale"

	"go.uber.org/zap"
)

const journalQueueSize = 256

// telegramClient is the subset of alerts.Telegram the app uses.
type telegramClient interface {
	Send(ctx context.Context, message string) error
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]alerts.Update, error)
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	ws        *ws.Client
	exchange  *exchange.Client
	executor  *exec.Executor
	engine    *engine.Engine
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    telegramClient
	timescale *timescale.Writer
	journal   chan lifecycle.Transition

	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	privateKey := strings.TrimSpace(os.Getenv("PF_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("PF_PRIVATE_KEY is required")
	}
	apiKey := strings.TrimSpace(os.Getenv("PF_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("PF_API_KEY is required")
	}
	signer, err := exchange.NewSigner(privateKey)
	if err != nil {
		return nil, fmt.Errorf("load signer: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	restClient := rest.New(cfg.REST.BaseURL, apiKey, cfg.REST.Timeout, log)
	wsClient := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	wsClient.SetHeader(rest.APIKeyHeader, apiKey)
	exClient, err := exchange.NewClient(restClient, wsClient, signer, cfg.Strategy.SlippagePercent, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	ts, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("timescale: %w", err)
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		ws:        wsClient,
		exchange:  exClient,
		executor:  exec.New(exClient, log),
		metrics:   m,
		prom:      prom,
		alerts:    alerts.NewTelegram(cfg.Telegram, log),
		timescale: ts,
		journal:   make(chan lifecycle.Transition, journalQueueSize),
	}
	a.engine = engine.New(engine.ConfigFromApp(cfg), a.executor, lifecycle.RecorderFunc(a.recordTransition), m, log)
	a.engine.SetCandleSink(a.recordCandle)
	return a, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.timescale.Close()

	a.timescale.Start(ctx)
	a.startMetricsServer(ctx)
	go a.journalLoop(ctx)
	a.startOperator(ctx)

	symbol := a.cfg.Strategy.Symbol
	if err := a.executor.SetLeverage(ctx, symbol, a.cfg.Strategy.Leverage); err != nil {
		a.log.Warn("leverage update failed", zap.String("symbol", symbol), zap.Error(err))
	} else {
		a.log.Info("leverage updated", zap.String("symbol", symbol), zap.Int("leverage", a.cfg.Strategy.Leverage))
	}

	a.ws.OnReconnect(func() {
		a.engine.Publish(ctx, feed.Reconnected{At: time.Now().UTC()})
	})
	if err := a.ws.Connect(ctx); err != nil {
		return fmt.Errorf("ws connect: %w", err)
	}
	defer a.ws.Close()
	for _, sub := range a.subscriptions() {
		if err := a.ws.Subscribe(ctx, sub); err != nil {
			return fmt.Errorf("ws subscribe: %w", err)
		}
	}
	go func() {
		err := a.ws.Run(ctx, func(raw []byte) { a.engine.HandleMessage(ctx, raw) })
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("ws feed stopped", zap.Error(err))
		}
	}()

	a.log.Info("bot started",
		zap.String("symbol", symbol),
		zap.String("account", a.exchange.Account()),
		zap.Float64("collateral_usd", a.cfg.Strategy.CollateralUSD),
		zap.Int("leverage", a.cfg.Strategy.Leverage),
	)
	return a.engine.Run(ctx)
}

func (a *App) subscriptions() []map[string]any {
	symbol := a.cfg.Strategy.Symbol
	return []map[string]any{
		ws.Subscription("book", map[string]any{"symbol": symbol, "agg_level": 1}),
		ws.Subscription("candle", map[string]any{"symbol": symbol, "interval": market.Interval1m}),
		ws.Subscription("candle", map[string]any{"symbol": symbol, "interval": market.Interval15m}),
		ws.Subscription("trades", map[string]any{"symbol": symbol}),
		ws.Subscription("prices", nil),
		ws.Subscription("account_trades", map[string]any{"account": a.exchange.Account()}),
	}
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.prom == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	server := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		a.log.Info("metrics server listening", zap.String("address", a.cfg.Metrics.Address), zap.String("path", a.cfg.Metrics.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}
