package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	WS        WSConfig        `yaml:"ws"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	InboxSize      int           `yaml:"inbox_size"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

// StrategyConfig holds the trading parameters. The first block has no
// defaults: a zero value is a startup error.
type StrategyConfig struct {
	Symbol              string        `yaml:"symbol"`
	Leverage            int           `yaml:"leverage"`
	CollateralUSD       float64       `yaml:"collateral_usd"`
	TakeProfitPercent   float64       `yaml:"take_profit_percent"`
	StopLossPercent     float64       `yaml:"stop_loss_percent"`
	MaxTradeDuration    time.Duration `yaml:"max_trade_duration"`
	ImbalanceRatio      float64       `yaml:"imbalance_ratio"`
	LevelsToCheck       int           `yaml:"levels_to_check"`
	TradeSurgeWindow    time.Duration `yaml:"trade_surge_window"`
	LotSizePrecision    *int          `yaml:"lot_size_precision"`
	SMAPeriod           int           `yaml:"sma_period"`
	SMAProximityPercent float64       `yaml:"sma_proximity_percent"`
	LogInterval         time.Duration `yaml:"log_interval"`
	SlippagePercent     string        `yaml:"slippage_percent"`

	PricePrecision       int           `yaml:"price_precision"`
	TimeoutCheckInterval time.Duration `yaml:"timeout_check_interval"`
	EntryConfirmTimeout  time.Duration `yaml:"entry_confirm_timeout"`
	ExitConfirmTimeout   time.Duration `yaml:"exit_confirm_timeout"`
}

// LotPrecision returns the configured lot precision; validate guarantees it is set.
func (s StrategyConfig) LotPrecision() int {
	if s.LotSizePrecision == nil {
		return 0
	}
	return *s.LotSizePrecision
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = 10
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = 3
		}
		if cfg.Log.MaxAgeDays == 0 {
			cfg.Log.MaxAgeDays = 28
		}
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.pacifica.fi/api/v1"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://ws.pacifica.fi/ws"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 5 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.WS.InboxSize == 0 {
		cfg.WS.InboxSize = 1024
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/pf-scalp-bot.db"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Strategy.TimeoutCheckInterval == 0 {
		cfg.Strategy.TimeoutCheckInterval = 5 * time.Second
	}
	if cfg.Strategy.EntryConfirmTimeout == 0 {
		cfg.Strategy.EntryConfirmTimeout = 30 * time.Second
	}
	if cfg.Strategy.ExitConfirmTimeout == 0 {
		cfg.Strategy.ExitConfirmTimeout = 30 * time.Second
	}
}

func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("PF_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("PF_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
}

func validate(cfg *Config) error {
	s := cfg.Strategy
	if strings.TrimSpace(s.Symbol) == "" {
		return errors.New("strategy.symbol is required")
	}
	if s.Leverage <= 0 {
		return errors.New("strategy.leverage must be > 0")
	}
	if s.CollateralUSD <= 0 {
		return errors.New("strategy.collateral_usd must be > 0")
	}
	if s.TakeProfitPercent <= 0 {
		return errors.New("strategy.take_profit_percent must be > 0")
	}
	if s.StopLossPercent <= 0 {
		return errors.New("strategy.stop_loss_percent must be > 0")
	}
	if s.MaxTradeDuration <= 0 {
		return errors.New("strategy.max_trade_duration must be > 0")
	}
	if s.ImbalanceRatio <= 0 {
		return errors.New("strategy.imbalance_ratio must be > 0")
	}
	if s.LevelsToCheck <= 0 {
		return errors.New("strategy.levels_to_check must be > 0")
	}
	if s.TradeSurgeWindow <= 0 {
		return errors.New("strategy.trade_surge_window must be > 0")
	}
	if s.LotSizePrecision == nil {
		return errors.New("strategy.lot_size_precision is required")
	}
	if *s.LotSizePrecision < 0 {
		return errors.New("strategy.lot_size_precision must be >= 0")
	}
	if s.SMAPeriod <= 0 {
		return errors.New("strategy.sma_period must be > 0")
	}
	if s.SMAProximityPercent <= 0 {
		return errors.New("strategy.sma_proximity_percent must be > 0")
	}
	if s.LogInterval <= 0 {
		return errors.New("strategy.log_interval must be > 0")
	}
	if strings.TrimSpace(s.SlippagePercent) == "" {
		return errors.New("strategy.slippage_percent is required")
	}
	if s.PricePrecision < 0 {
		return errors.New("strategy.price_precision must be >= 0")
	}
	if s.TimeoutCheckInterval < 0 || s.EntryConfirmTimeout < 0 || s.ExitConfirmTimeout < 0 {
		return errors.New("strategy timers must be >= 0")
	}
	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/': %q", cfg.Metrics.Path)
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
