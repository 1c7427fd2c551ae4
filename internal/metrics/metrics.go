package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	SignalsLong      Counter
	SignalsShort     Counter
	OrdersPlaced     Counter
	OrdersFailed     Counter
	EntryFailed      Counter
	ExitFailed       Counter
	ProtectiveFailed Counter
	SafetyCloses     Counter
	TradeTimeouts    Counter
	TradesOpened     Counter
	TradesClosed     Counter
	FeedDecodeErrors Counter
	FeedReconnects   Counter
	Phase            Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		SignalsLong:      n,
		SignalsShort:     n,
		OrdersPlaced:     n,
		OrdersFailed:     n,
		EntryFailed:      n,
		ExitFailed:       n,
		ProtectiveFailed: n,
		SafetyCloses:     n,
		TradeTimeouts:    n,
		TradesOpened:     n,
		TradesClosed:     n,
		FeedDecodeErrors: n,
		FeedReconnects:   n,
		Phase:            noopGauge{},
	}
}
