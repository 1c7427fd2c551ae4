package market

type Level struct {
	Price float64
	Size  float64
}

// OrderBook is a full snapshot; updates replace it wholesale.
type OrderBook struct {
	Bids []Level
	Asks []Level
}

type BookSide int

const (
	SideBid BookSide = iota
	SideAsk
)

func (b OrderBook) levels(side BookSide) []Level {
	if side == SideAsk {
		return b.Asks
	}
	return b.Bids
}

func (b OrderBook) HasBothSides() bool {
	return len(b.Bids) > 0 && len(b.Asks) > 0
}
