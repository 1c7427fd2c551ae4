// Package feed turns raw exchange WebSocket frames into typed events.
package feed

import (
	"strings"
	"time"

	"pf-scalp-bot/internal/market"
)

// Event is one of the concrete event types below.
type Event interface {
	eventName() string
}

type BookUpdate struct {
	Symbol string
	Book   market.OrderBook
}

type CandleUpdate struct {
	Candle market.Candle
}

type MarkPrice struct {
	Symbol string
	Price  float64
}

type TradeTicks struct {
	Symbol string
	Ticks  []market.TradeTick
}

// Fill is a private account trade notification.
type Fill struct {
	PositionID string
	Symbol     string
	Direction  string
	Amount     float64
	Price      float64
}

func (f Fill) Opens() bool {
	return f.Direction == DirectionOpenLong || f.Direction == DirectionOpenShort
}

func (f Fill) Closes() bool {
	return f.Direction == DirectionCloseLong || f.Direction == DirectionCloseShort
}

const (
	DirectionOpenLong   = "open_long"
	DirectionOpenShort  = "open_short"
	DirectionCloseLong  = "close_long"
	DirectionCloseShort = "close_short"
)

type AccountFills struct {
	Fills []Fill
}

// ExecutionAck is the exchange response to an order sent over the socket.
type ExecutionAck struct {
	RequestID string
	Type      string
	Code      int
	Err       string
}

func (a ExecutionAck) OK() bool {
	return a.Code == 200
}

// NoPosition reports a reduce-only rejection for an already flat position.
func (a ExecutionAck) NoPosition() bool {
	return !a.OK() && IsNoPosition(a.Err)
}

// IsNoPosition reports whether msg is the exchange's "No position found"
// rejection, which means there is nothing left to close.
func IsNoPosition(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "no position found")
}

// Reconnected is emitted by the transport after a re-dial; cached market
// inputs are stale until observed again.
type Reconnected struct {
	At time.Time
}

// Tick drives the periodic timeout check.
type Tick struct {
	Now time.Time
}

func (BookUpdate) eventName() string   { return "book" }
func (CandleUpdate) eventName() string { return "candle" }
func (MarkPrice) eventName() string    { return "prices" }
func (TradeTicks) eventName() string   { return "trades" }
func (AccountFills) eventName() string { return "account_trades" }
func (ExecutionAck) eventName() string { return "ack" }
func (Reconnected) eventName() string  { return "reconnected" }
func (Tick) eventName() string         { return "tick" }

// Name returns a short label for logs and metrics.
func Name(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}
