package market

import "time"

const (
	Interval1m  = "1m"
	Interval15m = "15m"
)

type Candle struct {
	Symbol   string
	Interval string
	Start    time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Bullish reports a strictly rising candle.
func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

func (c Candle) Bearish() bool {
	return c.Close < c.Open
}
