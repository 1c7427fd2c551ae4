package engine

import (
	"time"

	"pf-scalp-bot/internal/lifecycle"
	"pf-scalp-bot/internal/strategy"
)

// Status is a read-only snapshot of the loop, safe to read from any
// goroutine.
type Status struct {
	Symbol      string
	Phase       strategy.Phase
	PhaseSince  time.Time
	Position    lifecycle.Position
	Paused      bool
	MarketReady bool
	Mark        float64
	HasMark     bool
	SMA         float64
	HasSMA      bool
	LastEvent   string
	Evaluations uint64
	UpdatedAt   time.Time
}

func (e *Engine) Status() Status {
	e.statusMu.RLock()
	st := e.status
	e.statusMu.RUnlock()
	st.Paused = e.paused.Load()
	return st
}

func (e *Engine) publishStatus() {
	active := e.lifecycle.Active()
	mark, hasMark := e.market.MarkPrice()
	sma, hasSMA := e.market.SMA()
	st := Status{
		Symbol:      e.cfg.Symbol,
		Phase:       active.Phase,
		PhaseSince:  e.lifecycle.PhaseSince(),
		MarketReady: e.market.Fresh(),
		Mark:        mark,
		HasMark:     hasMark,
		SMA:         sma,
		HasSMA:      hasSMA,
		LastEvent:   e.lastEvent,
		Evaluations: e.evaluations,
		UpdatedAt:   e.now(),
	}
	if active.Phase != strategy.PhaseIdle {
		st.Position = active.Position
	}
	e.statusMu.Lock()
	e.status = st
	e.statusMu.Unlock()
}
