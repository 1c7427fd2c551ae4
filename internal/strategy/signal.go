package strategy

import (
	"time"

	"pf-scalp-bot/internal/config"
	"pf-scalp-bot/internal/market"

	"github.com/shopspring/decimal"
)

// surgeMultiple is how many times one side's trade count must exceed the
// other's to count as a surge.
const surgeMultiple = 2

type Params struct {
	Leverage            int
	CollateralUSD       float64
	ImbalanceRatio      float64
	LevelsToCheck       int
	LotPrecision        int
	SMAProximityPercent float64
}

func ParamsFromConfig(cfg config.StrategyConfig) Params {
	return Params{
		Leverage:            cfg.Leverage,
		CollateralUSD:       cfg.CollateralUSD,
		ImbalanceRatio:      cfg.ImbalanceRatio,
		LevelsToCheck:       cfg.LevelsToCheck,
		LotPrecision:        cfg.LotPrecision(),
		SMAProximityPercent: cfg.SMAProximityPercent,
	}
}

// Diagnostics is the derived view behind a decision.
type Diagnostics struct {
	Mark        float64
	TrendOpen   float64
	SMA         float64
	BidVolume   float64
	AskVolume   float64
	Ratio       float64
	Candle      string
	LongTrades  int
	ShortTrades int
}

func (d Diagnostics) Trend() string {
	switch {
	case d.Mark > d.TrendOpen:
		return "up"
	case d.Mark < d.TrendOpen:
		return "down"
	default:
		return "flat"
	}
}

type Evaluation struct {
	Ready       bool
	Signal      Signal
	Size        decimal.Decimal
	Diagnostics Diagnostics
}

// Evaluate decides whether to open a position from the current market view.
// Ready is false when any input is missing, stale or the SMA is not warmed
// up; Signal is SignalNone in that case.
func Evaluate(p Params, m *market.State, now time.Time) Evaluation {
	book := m.Book()
	if !book.HasBothSides() || !m.Fresh() {
		return Evaluation{}
	}
	trendCandle, ok := m.Candle(market.Interval15m)
	if !ok {
		return Evaluation{}
	}
	base, ok := m.Candle(market.Interval1m)
	if !ok {
		return Evaluation{}
	}
	mark, ok := m.MarkPrice()
	if !ok {
		return Evaluation{}
	}
	sma, ok := m.SMA()
	if !ok {
		return Evaluation{}
	}

	bidVol := m.TopOfBookVolume(market.SideBid, p.LevelsToCheck)
	askVol := m.TopOfBookVolume(market.SideAsk, p.LevelsToCheck)
	longs, shorts := m.RecentTradeCounts(now)

	diag := Diagnostics{
		Mark:        mark,
		TrendOpen:   trendCandle.Open,
		SMA:         sma,
		BidVolume:   bidVol,
		AskVolume:   askVol,
		Candle:      candleDirection(base),
		LongTrades:  longs,
		ShortTrades: shorts,
	}
	if askVol > 0 {
		diag.Ratio = bidVol / askVol
	}
	eval := Evaluation{Ready: true, Diagnostics: diag}

	longOK := mark > trendCandle.Open &&
		mark < sma*(1+p.SMAProximityPercent) &&
		bidVol > askVol*p.ImbalanceRatio &&
		base.Bullish() &&
		longs > surgeMultiple*shorts
	shortOK := mark < trendCandle.Open &&
		mark > sma*(1-p.SMAProximityPercent) &&
		askVol > bidVol*p.ImbalanceRatio &&
		base.Bearish() &&
		shorts > surgeMultiple*longs

	switch {
	case longOK:
		eval.Signal = SignalLong
	case shortOK:
		eval.Signal = SignalShort
	default:
		return eval
	}
	eval.Size = OrderSize(p.CollateralUSD, p.Leverage, mark, p.LotPrecision)
	if !eval.Size.IsPositive() {
		eval.Signal = SignalNone
		eval.Size = decimal.Zero
	}
	return eval
}

func candleDirection(c market.Candle) string {
	switch {
	case c.Bullish():
		return "bullish"
	case c.Bearish():
		return "bearish"
	default:
		return "neutral"
	}
}
