package lifecycle

import (
	"context"
	"time"

	"pf-scalp-bot/internal/config"
	"pf-scalp-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

// Position is the confirmed exchange position owned by the active trade.
type Position struct {
	ID         string
	Symbol     string
	Side       strategy.Side
	EntryPrice float64
	Size       float64
	OpenedAt   time.Time
}

type ActiveTrade struct {
	Position Position
	Phase    strategy.Phase
}

type OrderRequest struct {
	Symbol     string
	Side       string
	Size       decimal.Decimal
	ReduceOnly bool
	// ClientOrderID and RequestID are minted once per order intent and
	// reused across gateway retries. The acknowledgement echoes RequestID.
	ClientOrderID string
	RequestID     string
}

type ProtectiveRequest struct {
	Symbol     string
	Side       string
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}

type PositionInfo struct {
	Side       strategy.Side
	Amount     float64
	EntryPrice float64
}

// Gateway submits orders to the exchange. OpenOrder returns the request id
// once the request is sent; its acknowledgement arrives later on the feed.
type Gateway interface {
	OpenOrder(ctx context.Context, req OrderRequest) (string, error)
	PlaceProtective(ctx context.Context, req ProtectiveRequest) error
	OpenPosition(ctx context.Context, symbol string) (PositionInfo, bool, error)
}

// Scheduler runs fn off the event loop. The continuation fn returns is
// executed back on the loop goroutine; it may be nil.
type Scheduler interface {
	Go(fn func(ctx context.Context) func())
}

type TransitionKind string

const (
	KindEntrySubmitted   TransitionKind = "entry_submitted"
	KindEntryFailed      TransitionKind = "entry_failed"
	KindOpened           TransitionKind = "opened"
	KindProtectivePlaced TransitionKind = "protective_placed"
	KindProtectiveFailed TransitionKind = "protective_failed"
	KindSafetyClose      TransitionKind = "safety_close"
	KindTimeout          TransitionKind = "timeout"
	KindCloseSubmitted   TransitionKind = "close_submitted"
	KindExitFailed       TransitionKind = "exit_failed"
	KindClosed           TransitionKind = "closed"
)

// Transition is one journaled lifecycle step.
type Transition struct {
	Kind     TransitionKind
	Phase    strategy.Phase
	Position Position
	Reason   string
	At       time.Time
}

// Recorder observes transitions. It is called on the event loop and must
// not block.
type Recorder interface {
	Record(tr Transition)
}

type RecorderFunc func(tr Transition)

func (f RecorderFunc) Record(tr Transition) { f(tr) }

type Config struct {
	Symbol              string
	CollateralUSD       float64
	TakeProfitPercent   float64
	StopLossPercent     float64
	MaxTradeDuration    time.Duration
	EntryConfirmTimeout time.Duration
	ExitConfirmTimeout  time.Duration
	PricePrecision      int
	LotPrecision        int
}

func ConfigFromStrategy(cfg config.StrategyConfig) Config {
	return Config{
		Symbol:              cfg.Symbol,
		CollateralUSD:       cfg.CollateralUSD,
		TakeProfitPercent:   cfg.TakeProfitPercent,
		StopLossPercent:     cfg.StopLossPercent,
		MaxTradeDuration:    cfg.MaxTradeDuration,
		EntryConfirmTimeout: cfg.EntryConfirmTimeout,
		ExitConfirmTimeout:  cfg.ExitConfirmTimeout,
		PricePrecision:      cfg.PricePrecision,
		LotPrecision:        cfg.LotPrecision(),
	}
}
