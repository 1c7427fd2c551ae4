package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validStrategy() StrategyConfig {
	lot := 5
	return StrategyConfig{
		Symbol:              "BTC",
		Leverage:            8,
		CollateralUSD:       400,
		TakeProfitPercent:   0.06,
		StopLossPercent:     0.03,
		MaxTradeDuration:    5 * time.Minute,
		ImbalanceRatio:      1.85,
		LevelsToCheck:       5,
		TradeSurgeWindow:    3 * time.Second,
		LotSizePrecision:    &lot,
		SMAPeriod:           5,
		SMAProximityPercent: 0.001,
		LogInterval:         5 * time.Second,
		SlippagePercent:     "0.5",
	}
}

func TestInfraDefaults(t *testing.T) {
	cfg := &Config{Strategy: validStrategy()}
	applyDefaults(cfg)
	if cfg.REST.BaseURL != "https://api.pacifica.fi/api/v1" {
		t.Fatalf("unexpected rest base url %q", cfg.REST.BaseURL)
	}
	if cfg.WS.URL != "wss://ws.pacifica.fi/ws" {
		t.Fatalf("unexpected ws url %q", cfg.WS.URL)
	}
	if cfg.WS.PingInterval != 30*time.Second {
		t.Fatalf("expected 30s ping interval, got %v", cfg.WS.PingInterval)
	}
	if cfg.WS.ReconnectDelay != 5*time.Second {
		t.Fatalf("expected 5s reconnect delay, got %v", cfg.WS.ReconnectDelay)
	}
	if cfg.Strategy.TimeoutCheckInterval != 5*time.Second {
		t.Fatalf("expected 5s timeout check interval, got %v", cfg.Strategy.TimeoutCheckInterval)
	}
	if cfg.Strategy.EntryConfirmTimeout <= 0 || cfg.Strategy.ExitConfirmTimeout <= 0 {
		t.Fatalf("expected confirm timeouts to default")
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestMetricsDefaults(t *testing.T) {
	cfg := &Config{Strategy: validStrategy()}
	applyDefaults(cfg)
	if !cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled default")
	}
	if cfg.Metrics.Address != "127.0.0.1:9001" {
		t.Fatalf("expected metrics address default, got %q", cfg.Metrics.Address)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Fatalf("expected metrics path default, got %q", cfg.Metrics.Path)
	}
}

func TestMetricsDisabledRespected(t *testing.T) {
	enabled := false
	cfg := &Config{Strategy: validStrategy(), Metrics: MetricsConfig{Enabled: &enabled}}
	applyDefaults(cfg)
	if cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled=false to be preserved")
	}
}

func TestLogRotationDefaultsOnlyWithFile(t *testing.T) {
	cfg := &Config{Strategy: validStrategy()}
	applyDefaults(cfg)
	if cfg.Log.MaxSizeMB != 0 {
		t.Fatalf("expected no rotation defaults without a log file")
	}
	cfg = &Config{Strategy: validStrategy(), Log: LoggingConfig{File: "logs/bot.log"}}
	applyDefaults(cfg)
	if cfg.Log.MaxSizeMB != 10 || cfg.Log.MaxBackups != 3 || cfg.Log.MaxAgeDays != 28 {
		t.Fatalf("unexpected rotation defaults: %+v", cfg.Log)
	}
}

func TestValidateRequiresStrategyScalars(t *testing.T) {
	cases := map[string]func(*StrategyConfig){
		"symbol":          func(s *StrategyConfig) { s.Symbol = "" },
		"leverage":        func(s *StrategyConfig) { s.Leverage = 0 },
		"collateral":      func(s *StrategyConfig) { s.CollateralUSD = 0 },
		"take_profit":     func(s *StrategyConfig) { s.TakeProfitPercent = 0 },
		"stop_loss":       func(s *StrategyConfig) { s.StopLossPercent = 0 },
		"max_duration":    func(s *StrategyConfig) { s.MaxTradeDuration = 0 },
		"imbalance_ratio": func(s *StrategyConfig) { s.ImbalanceRatio = 0 },
		"levels":          func(s *StrategyConfig) { s.LevelsToCheck = 0 },
		"surge_window":    func(s *StrategyConfig) { s.TradeSurgeWindow = 0 },
		"lot_precision":   func(s *StrategyConfig) { s.LotSizePrecision = nil },
		"sma_period":      func(s *StrategyConfig) { s.SMAPeriod = 0 },
		"sma_proximity":   func(s *StrategyConfig) { s.SMAProximityPercent = 0 },
		"log_interval":    func(s *StrategyConfig) { s.LogInterval = 0 },
		"slippage":        func(s *StrategyConfig) { s.SlippagePercent = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			strategy := validStrategy()
			mutate(&strategy)
			cfg := &Config{Strategy: strategy}
			applyDefaults(cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected error when %s is missing", name)
			}
		})
	}
}

func TestValidateAllowsZeroLotPrecision(t *testing.T) {
	strategy := validStrategy()
	zero := 0
	strategy.LotSizePrecision = &zero
	cfg := &Config{Strategy: strategy}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		t.Fatalf("expected lot precision 0 to be valid, got %v", err)
	}
	if cfg.Strategy.LotPrecision() != 0 {
		t.Fatalf("expected lot precision 0, got %d", cfg.Strategy.LotPrecision())
	}
}

func TestValidateRejectsMetricsPathWithoutSlash(t *testing.T) {
	cfg := &Config{Strategy: validStrategy(), Metrics: MetricsConfig{Path: "metrics"}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for metrics path without leading slash")
	}
}

func TestValidateRejectsTelegramEnabledWithoutConfig(t *testing.T) {
	t.Setenv("PF_TELEGRAM_TOKEN", "")
	t.Setenv("PF_TELEGRAM_CHAT_ID", "")
	cfg := &Config{Strategy: validStrategy(), Telegram: TelegramConfig{Enabled: true}}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing telegram token/chat_id")
	}
}

func TestTelegramEnvOverridesConfig(t *testing.T) {
	t.Setenv("PF_TELEGRAM_TOKEN", "env-token")
	t.Setenv("PF_TELEGRAM_CHAT_ID", "123")
	cfg := &Config{
		Strategy: validStrategy(),
		Telegram: TelegramConfig{Enabled: true, Token: "config-token", ChatID: "999"},
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("expected env token override, got %q", cfg.Telegram.Token)
	}
	if cfg.Telegram.ChatID != "123" {
		t.Fatalf("expected env chat id override, got %q", cfg.Telegram.ChatID)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config with env overrides, got %v", err)
	}
}

func TestValidateRejectsTimescaleWithoutDSN(t *testing.T) {
	cfg := &Config{Strategy: validStrategy(), Timescale: TimescaleConfig{Enabled: true}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for timescale without dsn")
	}
}

func TestLoadParsesYAML(t *testing.T) {
	t.Setenv("PF_TELEGRAM_TOKEN", "")
	t.Setenv("PF_TELEGRAM_CHAT_ID", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  level: debug
strategy:
  symbol: BTC
  leverage: 8
  collateral_usd: 400
  take_profit_percent: 0.06
  stop_loss_percent: 0.03
  max_trade_duration: 5m
  imbalance_ratio: 1.85
  levels_to_check: 5
  trade_surge_window: 3s
  lot_size_precision: 5
  sma_period: 5
  sma_proximity_percent: 0.001
  log_interval: 5s
  slippage_percent: "0.5"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Log.Level)
	}
	if cfg.Strategy.MaxTradeDuration != 5*time.Minute {
		t.Fatalf("expected 5m max duration, got %v", cfg.Strategy.MaxTradeDuration)
	}
	if cfg.Strategy.LotPrecision() != 5 {
		t.Fatalf("expected lot precision 5, got %d", cfg.Strategy.LotPrecision())
	}
	if cfg.Strategy.TradeSurgeWindow != 3*time.Second {
		t.Fatalf("expected 3s surge window, got %v", cfg.Strategy.TradeSurgeWindow)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
