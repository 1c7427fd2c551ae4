package market

import (
	"strings"
	"time"
)

type TradeSide string

const (
	TradeLong  TradeSide = "long"
	TradeShort TradeSide = "short"
)

// SideFromDirection maps an exchange direction string ("open_long",
// "close_short", ...) to a trade side. Unknown directions return "".
func SideFromDirection(direction string) TradeSide {
	d := strings.ToLower(direction)
	switch {
	case strings.Contains(d, "long"):
		return TradeLong
	case strings.Contains(d, "short"):
		return TradeShort
	default:
		return ""
	}
}

type TradeTick struct {
	Side       TradeSide
	Size       float64
	ReceivedAt time.Time
}

type tradeTape struct {
	window time.Duration
	ticks  []TradeTick
}

func (t *tradeTape) append(ticks []TradeTick, now time.Time) {
	t.ticks = append(t.ticks, ticks...)
	t.evict(now)
}

func (t *tradeTape) evict(now time.Time) {
	if t.window <= 0 {
		return
	}
	cutoff := now.Add(-t.window)
	idx := 0
	for idx < len(t.ticks) && !t.ticks[idx].ReceivedAt.After(cutoff) {
		idx++
	}
	if idx > 0 {
		t.ticks = append(t.ticks[:0], t.ticks[idx:]...)
	}
}

func (t *tradeTape) counts() (long, short int) {
	for _, tick := range t.ticks {
		switch tick.Side {
		case TradeLong:
			long++
		case TradeShort:
			short++
		}
	}
	return long, short
}

func (t *tradeTape) reset() {
	t.ticks = t.ticks[:0]
}
