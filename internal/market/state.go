package market

import "time"

// State holds the latest market inputs for one symbol. It is not safe for
// concurrent use: the engine owns it and mutates it from a single goroutine.
type State struct {
	smaPeriod    int
	baseInterval string

	book      OrderBook
	candles   map[string]Candle
	markPrice float64
	hasMark   bool
	tape      tradeTape
	history   []float64
	fresh     map[input]bool
}

type input int

const (
	inputBook input = iota
	inputCandle1m
	inputCandle15m
	inputMark
)

var requiredInputs = []input{inputBook, inputCandle1m, inputCandle15m, inputMark}

func New(smaPeriod int, tradeWindow time.Duration) *State {
	return &State{
		smaPeriod:    smaPeriod,
		baseInterval: Interval1m,
		candles:      make(map[string]Candle),
		tape:         tradeTape{window: tradeWindow},
		history:      make([]float64, 0, smaPeriod+1),
		fresh:        make(map[input]bool, len(requiredInputs)),
	}
}

func (s *State) ApplyCandle(c Candle) {
	s.candles[c.Interval] = c
	switch c.Interval {
	case Interval1m:
		s.fresh[inputCandle1m] = true
	case Interval15m:
		s.fresh[inputCandle15m] = true
	}
	if c.Interval == s.baseInterval {
		s.history = append(s.history, c.Close)
		if len(s.history) > s.smaPeriod {
			s.history = append(s.history[:0], s.history[len(s.history)-s.smaPeriod:]...)
		}
	}
}

func (s *State) ApplyBook(book OrderBook) {
	s.book = book
	s.fresh[inputBook] = true
}

func (s *State) ApplyMarkPrice(price float64) {
	s.markPrice = price
	s.hasMark = true
	s.fresh[inputMark] = true
}

func (s *State) ApplyTrades(ticks []TradeTick, now time.Time) {
	s.tape.append(ticks, now)
}

// Invalidate marks every cached input stale after a feed gap. Price history
// samples survive; the trade tape does not.
func (s *State) Invalidate() {
	for _, in := range requiredInputs {
		s.fresh[in] = false
	}
	s.tape.reset()
}

// Fresh reports whether every required input has been observed since the
// last Invalidate.
func (s *State) Fresh() bool {
	for _, in := range requiredInputs {
		if !s.fresh[in] {
			return false
		}
	}
	return true
}

func (s *State) Book() OrderBook {
	return s.book
}

func (s *State) Candle(interval string) (Candle, bool) {
	c, ok := s.candles[interval]
	return c, ok
}

func (s *State) MarkPrice() (float64, bool) {
	return s.markPrice, s.hasMark
}

// SMA is the mean of the price history; it is not ready until the history
// holds smaPeriod samples.
func (s *State) SMA() (float64, bool) {
	if s.smaPeriod <= 0 || len(s.history) < s.smaPeriod {
		return 0, false
	}
	var sum float64
	for _, p := range s.history {
		sum += p
	}
	return sum / float64(s.smaPeriod), true
}

func (s *State) HistoryLen() int {
	return len(s.history)
}

// TopOfBookVolume sums size over the first n levels of one side.
func (s *State) TopOfBookVolume(side BookSide, n int) float64 {
	levels := s.book.levels(side)
	if n > len(levels) {
		n = len(levels)
	}
	var total float64
	for _, lvl := range levels[:max(n, 0)] {
		total += lvl.Size
	}
	return total
}

// RecentTradeCounts evicts expired ticks and counts the remainder by side.
func (s *State) RecentTradeCounts(now time.Time) (long, short int) {
	s.tape.evict(now)
	return s.tape.counts()
}
