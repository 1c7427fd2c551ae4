package app

import (
	"context"
	"fmt"
	"time"

	"pf-scalp-bot/internal/lifecycle"
	"pf-scalp-bot/internal/market"
	"pf-scalp-bot/internal/state"
	"pf-scalp-bot/internal/timescale"

	"go.uber.org/zap"
)

// recordTransition runs on the engine loop; slow sinks are fed from
// journalLoop instead.
func (a *App) recordTransition(tr lifecycle.Transition) {
	select {
	case a.journal <- tr:
	default:
		a.log.Warn("journal queue full, transition dropped", zap.String("kind", string(tr.Kind)))
	}
}

func (a *App) recordCandle(c market.Candle) {
	if a.timescale == nil {
		return
	}
	start := c.Start
	if start.IsZero() {
		start = time.Now().UTC()
	}
	a.timescale.EnqueueCandle(timescale.Candle{
		Symbol:   c.Symbol,
		Interval: c.Interval,
		Start:    start,
		Open:     c.Open,
		High:     c.High,
		Low:      c.Low,
		Close:    c.Close,
		Volume:   c.Volume,
	})
}

func (a *App) journalLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-a.journal:
			a.handleTransition(ctx, tr)
		}
	}
}

func (a *App) handleTransition(ctx context.Context, tr lifecycle.Transition) {
	entry := journalEntry(tr)
	if err := state.SaveTrade(ctx, a.store, entry); err != nil {
		a.log.Warn("journal write failed", zap.String("kind", entry.Kind), zap.Error(err))
	}
	if a.timescale != nil {
		a.timescale.EnqueueTrade(timescale.TradeEvent{
			Time:       tr.At.UTC(),
			Kind:       entry.Kind,
			Phase:      entry.Phase,
			Symbol:     entry.Symbol,
			Side:       entry.Side,
			PositionID: entry.PositionID,
			EntryPrice: entry.EntryPrice,
			Size:       entry.Size,
			Reason:     entry.Reason,
		})
	}
	if msg := transitionAlert(tr); msg != "" && a.alerts != nil {
		if err := a.alerts.Send(ctx, msg); err != nil {
			a.log.Warn("trade alert failed", zap.String("kind", entry.Kind), zap.Error(err))
		}
	}
}

func journalEntry(tr lifecycle.Transition) state.JournalEntry {
	pos := tr.Position
	return state.JournalEntry{
		Kind:       string(tr.Kind),
		Phase:      string(tr.Phase),
		Symbol:     pos.Symbol,
		Side:       string(pos.Side),
		PositionID: pos.ID,
		EntryPrice: pos.EntryPrice,
		Size:       pos.Size,
		Reason:     tr.Reason,
		AtMS:       tr.At.UnixMilli(),
	}
}

// transitionAlert returns the operator message for tr, or "" when the
// transition is not alert-worthy.
func transitionAlert(tr lifecycle.Transition) string {
	pos := tr.Position
	switch tr.Kind {
	case lifecycle.KindOpened:
		return fmt.Sprintf("opened %s %s size=%g entry=%g", pos.Side, pos.Symbol, pos.Size, pos.EntryPrice)
	case lifecycle.KindClosed:
		return fmt.Sprintf("closed %s %s (%s)", pos.Side, pos.Symbol, tr.Reason)
	case lifecycle.KindSafetyClose:
		return fmt.Sprintf("safety close %s %s size=%g: %s", pos.Side, pos.Symbol, pos.Size, tr.Reason)
	default:
		return ""
	}
}
