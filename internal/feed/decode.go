package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pf-scalp-bot/internal/market"

	"github.com/shopspring/decimal"
)

const ackTypeMarketOrder = "create_market_order"

var ErrUnknownMessage = errors.New("unknown feed message")

type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	Type    string          `json:"type"`
	ID      flexString      `json:"id"`
	Code    *int            `json:"code"`
	Err     json.RawMessage `json:"err"`
}

type wireLevel struct {
	Price decimal.Decimal `json:"p"`
	Size  decimal.Decimal `json:"a"`
}

type wireBook struct {
	Symbol string        `json:"s"`
	Levels [][]wireLevel `json:"l"`
}

type wireCandle struct {
	Symbol   string          `json:"s"`
	Interval string          `json:"i"`
	StartMS  int64           `json:"t"`
	Open     decimal.Decimal `json:"o"`
	High     decimal.Decimal `json:"h"`
	Low      decimal.Decimal `json:"l"`
	Close    decimal.Decimal `json:"c"`
	Volume   decimal.Decimal `json:"v"`
}

type wirePrice struct {
	Symbol string          `json:"symbol"`
	Mark   decimal.Decimal `json:"mark"`
}

type wireTrade struct {
	Symbol    string          `json:"s"`
	Direction string          `json:"d"`
	Amount    decimal.Decimal `json:"a"`
}

type wireAccountTrade struct {
	PositionID flexString      `json:"i"`
	Symbol     string          `json:"s"`
	Direction  string          `json:"ts"`
	Amount     decimal.Decimal `json:"a"`
	Price      decimal.Decimal `json:"o"`
}

// Decoder turns raw frames into events for one symbol. Frames for other
// symbols decode to no events.
type Decoder struct {
	Symbol string
}

// Decode parses a single frame. Control frames (pong, subscribe) and
// frames for other symbols yield no events and no error.
func (d Decoder) Decode(raw []byte, now time.Time) ([]Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Channel {
	case "pong", "subscribe":
		return nil, nil
	case "book":
		return d.decodeBook(env.Data)
	case "candle":
		return d.decodeCandle(env.Data)
	case "prices":
		return d.decodePrices(env.Data)
	case "trades":
		return d.decodeTrades(env.Data, now)
	case "account_trades":
		return d.decodeAccountTrades(env.Data)
	case "":
		if env.Type == ackTypeMarketOrder {
			return []Event{decodeAck(env)}, nil
		}
	}
	return nil, fmt.Errorf("%w: channel=%q type=%q", ErrUnknownMessage, env.Channel, env.Type)
}

func (d Decoder) decodeBook(data json.RawMessage) ([]Event, error) {
	var book wireBook
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("decode book: %w", err)
	}
	if !d.matches(book.Symbol) {
		return nil, nil
	}
	if len(book.Levels) != 2 {
		return nil, fmt.Errorf("decode book: expected 2 sides, got %d", len(book.Levels))
	}
	return []Event{BookUpdate{
		Symbol: d.Symbol,
		Book: market.OrderBook{
			Bids: toLevels(book.Levels[0]),
			Asks: toLevels(book.Levels[1]),
		},
	}}, nil
}

func (d Decoder) decodeCandle(data json.RawMessage) ([]Event, error) {
	var c wireCandle
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode candle: %w", err)
	}
	if !d.matches(c.Symbol) {
		return nil, nil
	}
	if c.Interval != market.Interval1m && c.Interval != market.Interval15m {
		return nil, nil
	}
	candle := market.Candle{
		Symbol:   d.Symbol,
		Interval: c.Interval,
		Open:     c.Open.InexactFloat64(),
		High:     c.High.InexactFloat64(),
		Low:      c.Low.InexactFloat64(),
		Close:    c.Close.InexactFloat64(),
		Volume:   c.Volume.InexactFloat64(),
	}
	if c.StartMS > 0 {
		candle.Start = time.UnixMilli(c.StartMS).UTC()
	}
	return []Event{CandleUpdate{Candle: candle}}, nil
}

func (d Decoder) decodePrices(data json.RawMessage) ([]Event, error) {
	var prices []wirePrice
	if err := json.Unmarshal(data, &prices); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}
	for _, p := range prices {
		if p.Symbol != d.Symbol {
			continue
		}
		mark := p.Mark.InexactFloat64()
		if mark <= 0 {
			return nil, fmt.Errorf("decode prices: non-positive mark %s", p.Mark.String())
		}
		return []Event{MarkPrice{Symbol: d.Symbol, Price: mark}}, nil
	}
	return nil, nil
}

func (d Decoder) decodeTrades(data json.RawMessage, now time.Time) ([]Event, error) {
	var trades []wireTrade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	ticks := make([]market.TradeTick, 0, len(trades))
	for _, tr := range trades {
		if !d.matches(tr.Symbol) {
			continue
		}
		side := market.SideFromDirection(tr.Direction)
		if side == "" {
			continue
		}
		ticks = append(ticks, market.TradeTick{Side: side, Size: tr.Amount.InexactFloat64(), ReceivedAt: now})
	}
	if len(ticks) == 0 {
		return nil, nil
	}
	return []Event{TradeTicks{Symbol: d.Symbol, Ticks: ticks}}, nil
}

// account_trades are not filtered here; the router filters by symbol.
func (d Decoder) decodeAccountTrades(data json.RawMessage) ([]Event, error) {
	var trades []wireAccountTrade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, fmt.Errorf("decode account trades: %w", err)
	}
	if len(trades) == 0 {
		return nil, nil
	}
	fills := make([]Fill, 0, len(trades))
	for _, tr := range trades {
		fills = append(fills, Fill{
			PositionID: string(tr.PositionID),
			Symbol:     tr.Symbol,
			Direction:  strings.ToLower(strings.TrimSpace(tr.Direction)),
			Amount:     tr.Amount.InexactFloat64(),
			Price:      tr.Price.InexactFloat64(),
		})
	}
	return []Event{AccountFills{Fills: fills}}, nil
}

func decodeAck(env envelope) ExecutionAck {
	ack := ExecutionAck{RequestID: string(env.ID), Type: env.Type, Err: errText(env.Err)}
	if env.Code != nil {
		ack.Code = *env.Code
	}
	return ack
}

func (d Decoder) matches(symbol string) bool {
	return symbol == "" || symbol == d.Symbol
}

func toLevels(wire []wireLevel) []market.Level {
	levels := make([]market.Level, 0, len(wire))
	for _, lvl := range wire {
		levels = append(levels, market.Level{Price: lvl.Price.InexactFloat64(), Size: lvl.Size.InexactFloat64()})
	}
	return levels
}

func errText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// flexString accepts either a JSON string or a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}
