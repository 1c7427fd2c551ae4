package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "pf_scalp_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry         *prometheus.Registry
	signals          *prometheus.CounterVec
	ordersPlaced     prometheus.Counter
	ordersFailed     prometheus.Counter
	entryFailed      prometheus.Counter
	exitFailed       prometheus.Counter
	protectiveFailed prometheus.Counter
	safetyCloses     prometheus.Counter
	tradeTimeouts    prometheus.Counter
	tradesOpened     prometheus.Counter
	tradesClosed     prometheus.Counter
	decodeErrors     prometheus.Counter
	reconnects       prometheus.Counter
	phase            prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	signals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "signals_total",
		Help:      "Total number of entry signals by side.",
	}, []string{"side"})
	ordersPlaced := newCounter("orders_placed_total", "Total number of orders submitted.")
	ordersFailed := newCounter("orders_failed_total", "Total number of order submission failures.")
	entryFailed := newCounter("entry_failed_total", "Total number of entry flow failures.")
	exitFailed := newCounter("exit_failed_total", "Total number of exit flow failures.")
	protectiveFailed := newCounter("protective_failed_total", "Total number of take-profit/stop-loss placement failures.")
	safetyCloses := newCounter("safety_closes_total", "Total number of forced closes after protective failure.")
	tradeTimeouts := newCounter("trade_timeouts_total", "Total number of positions closed for exceeding max duration.")
	tradesOpened := newCounter("trades_opened_total", "Total number of confirmed position opens.")
	tradesClosed := newCounter("trades_closed_total", "Total number of confirmed position closes.")
	decodeErrors := newCounter("feed_decode_errors_total", "Total number of inbound feed messages that failed to decode.")
	reconnects := newCounter("feed_reconnects_total", "Total number of feed reconnections.")
	phase := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "trade_phase",
		Help:      "Current trade phase (0 idle, 1 entering, 2 open, 3 exiting).",
	})

	registry.MustRegister(signals, ordersPlaced, ordersFailed, entryFailed, exitFailed, protectiveFailed,
		safetyCloses, tradeTimeouts, tradesOpened, tradesClosed, decodeErrors, reconnects, phase)

	m := &Metrics{
		SignalsLong:      promCounter{signals.WithLabelValues("long")},
		SignalsShort:     promCounter{signals.WithLabelValues("short")},
		OrdersPlaced:     promCounter{ordersPlaced},
		OrdersFailed:     promCounter{ordersFailed},
		EntryFailed:      promCounter{entryFailed},
		ExitFailed:       promCounter{exitFailed},
		ProtectiveFailed: promCounter{protectiveFailed},
		SafetyCloses:     promCounter{safetyCloses},
		TradeTimeouts:    promCounter{tradeTimeouts},
		TradesOpened:     promCounter{tradesOpened},
		TradesClosed:     promCounter{tradesClosed},
		FeedDecodeErrors: promCounter{decodeErrors},
		FeedReconnects:   promCounter{reconnects},
		Phase:            promGauge{phase},
	}

	return &Prometheus{
		Metrics:          m,
		registry:         registry,
		signals:          signals,
		ordersPlaced:     ordersPlaced,
		ordersFailed:     ordersFailed,
		entryFailed:      entryFailed,
		exitFailed:       exitFailed,
		protectiveFailed: protectiveFailed,
		safetyCloses:     safetyCloses,
		tradeTimeouts:    tradeTimeouts,
		tradesOpened:     tradesOpened,
		tradesClosed:     tradesClosed,
		decodeErrors:     decodeErrors,
		reconnects:       reconnects,
		phase:            phase,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
