// Package lifecycle drives the single active trade through entry,
// protection and exit. All methods must be called from the event loop.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pf-scalp-bot/internal/feed"
	"pf-scalp-bot/internal/metrics"
	"pf-scalp-bot/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Lifecycle struct {
	cfg     Config
	gateway Gateway
	sched   Scheduler
	rec     Recorder
	metrics *metrics.Metrics
	log     *zap.Logger

	sm         *strategy.StateMachine
	position   Position
	phaseSince time.Time
	// attempt identifies the current trade; continuations from an older
	// trade are dropped.
	attempt       uint64
	queryInFlight bool
	// awaiting is the request id of the order whose ack Entering or
	// Exiting reacts to.
	awaiting string
	now           func() time.Time
}

func New(cfg Config, gateway Gateway, sched Scheduler, rec Recorder, m *metrics.Metrics, log *zap.Logger) *Lifecycle {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	if rec == nil {
		rec = RecorderFunc(func(Transition) {})
	}
	return &Lifecycle{
		cfg:     cfg,
		gateway: gateway,
		sched:   sched,
		rec:     rec,
		metrics: m,
		log:     log,
		sm:      strategy.NewStateMachine(),
		now:     time.Now,
	}
}

func (l *Lifecycle) Phase() strategy.Phase {
	return l.sm.Current()
}

func (l *Lifecycle) Active() ActiveTrade {
	return ActiveTrade{Position: l.position, Phase: l.sm.Current()}
}

// PhaseSince is when the current phase was entered.
func (l *Lifecycle) PhaseSince() time.Time {
	return l.phaseSince
}

// RequestOpen submits a market entry for sig. The phase moves to Entering
// before the submission is scheduled. It returns false when not Idle.
func (l *Lifecycle) RequestOpen(sig strategy.Signal, size decimal.Decimal, now time.Time) bool {
	if l.Phase() != strategy.PhaseIdle {
		return false
	}
	side, ok := sig.Side()
	if !ok || !size.IsPositive() {
		return false
	}
	l.attempt++
	l.queryInFlight = false
	req := l.newOrder(side.OrderSide(), size, false)
	l.awaiting = req.RequestID
	l.apply(strategy.EventSubmit, now)
	l.position = Position{Symbol: l.cfg.Symbol, Side: side, Size: size.InexactFloat64()}
	l.record(KindEntrySubmitted, now, sig.String())
	l.log.Info("entry submitted",
		zap.String("symbol", l.cfg.Symbol),
		zap.String("side", string(side)),
		zap.String("size", size.String()),
		zap.String("request_id", req.RequestID),
	)

	attempt := l.attempt
	l.sched.Go(func(ctx context.Context) func() {
		id, err := l.gateway.OpenOrder(ctx, req)
		return func() { l.onEntrySubmitted(attempt, req.RequestID, id, err) }
	})
	return true
}

func (l *Lifecycle) onEntrySubmitted(attempt uint64, sent, id string, err error) {
	if err == nil {
		l.metrics.OrdersPlaced.Inc()
		l.trackRequest(sent, id)
		return
	}
	l.metrics.OrdersFailed.Inc()
	if attempt != l.attempt || l.Phase() != strategy.PhaseEntering {
		l.log.Warn("entry submission failed after phase change", zap.Error(err))
		return
	}
	l.metrics.EntryFailed.Inc()
	l.log.Warn("entry submission failed", zap.Error(err))
	l.failEntry(l.now(), err.Error())
}

// OnAck applies an execution acknowledgement. Only Entering and Exiting
// react, and only to the ack for the order they are waiting on.
func (l *Lifecycle) OnAck(ack feed.ExecutionAck, now time.Time) {
	phase := l.Phase()
	if phase != strategy.PhaseEntering && phase != strategy.PhaseExiting {
		l.log.Debug("stray ack dropped", zap.String("phase", string(phase)), zap.Int("code", ack.Code))
		return
	}
	if l.awaiting == "" || ack.RequestID != l.awaiting {
		l.log.Debug("ack for another request dropped",
			zap.String("request_id", ack.RequestID),
			zap.String("awaiting", l.awaiting),
			zap.Int("code", ack.Code),
		)
		return
	}
	switch phase {
	case strategy.PhaseEntering:
		if ack.OK() {
			l.log.Debug("entry acknowledged", zap.String("request_id", ack.RequestID))
			return
		}
		l.metrics.EntryFailed.Inc()
		l.log.Warn("entry rejected", zap.Int("code", ack.Code), zap.String("err", ack.Err))
		l.failEntry(now, ack.Err)
	case strategy.PhaseExiting:
		if ack.OK() {
			l.log.Debug("close acknowledged", zap.String("request_id", ack.RequestID))
			return
		}
		if ack.NoPosition() {
			l.log.Info("close reported no position", zap.String("err", ack.Err))
			l.finishClose(now, "no position")
			return
		}
		l.metrics.ExitFailed.Inc()
		l.log.Error("close rejected, resetting", zap.Int("code", ack.Code), zap.String("err", ack.Err))
		l.reset(now, KindExitFailed, ack.Err)
	}
}

// OnFill applies one private fill for the configured symbol.
func (l *Lifecycle) OnFill(f feed.Fill, now time.Time) {
	phase := l.Phase()
	switch {
	case f.Opens():
		side := strategy.SideLong
		if f.Direction == feed.DirectionOpenShort {
			side = strategy.SideShort
		}
		pos := Position{
			ID:         f.PositionID,
			Symbol:     l.cfg.Symbol,
			Side:       side,
			EntryPrice: f.Price,
			Size:       f.Amount,
			OpenedAt:   now,
		}
		switch phase {
		case strategy.PhaseEntering:
			l.confirmOpen(pos, now, "")
		case strategy.PhaseIdle:
			if f.Amount <= 0 {
				return
			}
			l.log.Warn("untracked open fill, adopting position",
				zap.String("position_id", f.PositionID),
				zap.String("direction", f.Direction),
				zap.Float64("amount", f.Amount),
			)
			l.attempt++
			l.queryInFlight = false
			l.awaiting = ""
			l.confirmOpen(pos, now, "untracked fill")
		case strategy.PhaseOpen:
			if side == l.position.Side && f.Amount > 0 {
				l.position.Size += f.Amount
				l.log.Debug("additional open fill", zap.Float64("amount", f.Amount), zap.Float64("size", l.position.Size))
				return
			}
			l.log.Debug("open fill ignored", zap.String("direction", f.Direction))
		default:
			l.log.Debug("open fill ignored", zap.String("phase", string(phase)), zap.String("direction", f.Direction))
		}
	case f.Closes():
		switch phase {
		case strategy.PhaseOpen:
			l.finishClose(now, "protective triggered")
		case strategy.PhaseExiting:
			l.finishClose(now, "close filled")
		default:
			l.log.Debug("close fill ignored", zap.String("phase", string(phase)), zap.String("direction", f.Direction))
		}
	default:
		l.log.Debug("unknown fill direction", zap.String("direction", f.Direction))
	}
}

// CheckTimeout runs the periodic clock checks. Repeated calls never issue
// a second close while one is pending.
func (l *Lifecycle) CheckTimeout(now time.Time) {
	switch l.Phase() {
	case strategy.PhaseOpen:
		if now.Sub(l.position.OpenedAt) <= l.cfg.MaxTradeDuration {
			return
		}
		l.metrics.TradeTimeouts.Inc()
		l.apply(strategy.EventExit, now)
		l.record(KindTimeout, now, fmt.Sprintf("held %s", now.Sub(l.position.OpenedAt).Truncate(time.Millisecond)))
		l.log.Info("max trade duration exceeded, closing", zap.Duration("held", now.Sub(l.position.OpenedAt)))
		l.queryAndClose()
	case strategy.PhaseExiting:
		if l.cfg.ExitConfirmTimeout <= 0 || l.queryInFlight || now.Sub(l.phaseSince) <= l.cfg.ExitConfirmTimeout {
			return
		}
		l.log.Warn("close not confirmed, re-checking position", zap.Duration("waited", now.Sub(l.phaseSince)))
		l.phaseSince = now
		l.queryAndClose()
	case strategy.PhaseEntering:
		if l.cfg.EntryConfirmTimeout <= 0 || l.queryInFlight || now.Sub(l.phaseSince) <= l.cfg.EntryConfirmTimeout {
			return
		}
		l.log.Warn("entry not confirmed, checking position", zap.Duration("waited", now.Sub(l.phaseSince)))
		l.queryEntry()
	}
}

func (l *Lifecycle) confirmOpen(pos Position, now time.Time, reason string) {
	l.position = pos
	l.awaiting = ""
	l.apply(strategy.EventOpened, now)
	l.metrics.TradesOpened.Inc()
	l.record(KindOpened, now, reason)
	l.log.Info("position opened",
		zap.String("position_id", pos.ID),
		zap.String("side", string(pos.Side)),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("size", pos.Size),
	)
	l.requestProtective(now)
}

func (l *Lifecycle) requestProtective(now time.Time) {
	pos := l.position
	prices, err := strategy.ProtectivePrices(pos.Side, pos.EntryPrice, pos.Size, l.cfg.CollateralUSD,
		l.cfg.TakeProfitPercent, l.cfg.StopLossPercent, l.cfg.PricePrecision)
	if err != nil {
		l.protectiveFailed(now, err)
		return
	}
	req := ProtectiveRequest{
		Symbol:     l.cfg.Symbol,
		Side:       pos.Side.ExitSide(),
		TakeProfit: prices.TakeProfit,
		StopLoss:   prices.StopLoss,
	}
	l.log.Info("placing protective orders",
		zap.String("take_profit", prices.TakeProfit.String()),
		zap.String("stop_loss", prices.StopLoss.String()),
	)
	attempt := l.attempt
	l.sched.Go(func(ctx context.Context) func() {
		err := l.gateway.PlaceProtective(ctx, req)
		return func() { l.onProtective(attempt, req, err) }
	})
}

func (l *Lifecycle) onProtective(attempt uint64, req ProtectiveRequest, err error) {
	now := l.now()
	if attempt != l.attempt || l.Phase() != strategy.PhaseOpen {
		if err != nil {
			l.log.Warn("protective failed after position left open phase", zap.Error(err))
		}
		return
	}
	if err != nil {
		l.protectiveFailed(now, err)
		return
	}
	l.record(KindProtectivePlaced, now, fmt.Sprintf("tp=%s sl=%s", req.TakeProfit, req.StopLoss))
}

// protectiveFailed closes the unprotected position at its recorded size and
// returns to Idle without waiting for the close.
func (l *Lifecycle) protectiveFailed(now time.Time, err error) {
	l.metrics.ProtectiveFailed.Inc()
	l.metrics.SafetyCloses.Inc()
	l.log.Error("protective orders failed, closing position", zap.Error(err))
	pos := l.position
	l.record(KindSafetyClose, now, err.Error())
	l.submitClose(pos.Side.ExitSide(), pos.Size, false, func(err error) {
		if err != nil {
			l.log.Error("safety close failed", zap.Error(err))
			l.rec.Record(Transition{Kind: KindExitFailed, Phase: l.Phase(), Position: pos, Reason: "safety close: " + err.Error(), At: l.now()})
		}
	})
	l.reset(now, "", "")
}

func (l *Lifecycle) queryAndClose() {
	attempt := l.attempt
	l.queryInFlight = true
	symbol := l.cfg.Symbol
	l.sched.Go(func(ctx context.Context) func() {
		info, ok, err := l.gateway.OpenPosition(ctx, symbol)
		return func() { l.onExitPosition(attempt, info, ok, err) }
	})
}

func (l *Lifecycle) onExitPosition(attempt uint64, info PositionInfo, ok bool, err error) {
	now := l.now()
	if attempt != l.attempt {
		return
	}
	l.queryInFlight = false
	if l.Phase() != strategy.PhaseExiting {
		return
	}
	side, size := l.position.Side, l.position.Size
	switch {
	case err != nil:
		l.log.Warn("position query failed, closing recorded size", zap.Error(err))
	case !ok || info.Amount <= 0:
		l.log.Info("no open position to close")
		l.finishClose(now, "no position")
		return
	default:
		side, size = info.Side, info.Amount
	}
	l.record(KindCloseSubmitted, now, fmt.Sprintf("size=%v", size))
	l.submitClose(side.ExitSide(), size, true, func(err error) {
		if err == nil || attempt != l.attempt || l.Phase() != strategy.PhaseExiting {
			return
		}
		l.metrics.ExitFailed.Inc()
		if feed.IsNoPosition(err.Error()) {
			l.finishClose(l.now(), "no position")
			return
		}
		l.log.Error("close submission failed, resetting", zap.Error(err))
		l.reset(l.now(), KindExitFailed, err.Error())
	})
}

func (l *Lifecycle) queryEntry() {
	attempt := l.attempt
	l.queryInFlight = true
	symbol := l.cfg.Symbol
	l.sched.Go(func(ctx context.Context) func() {
		info, ok, err := l.gateway.OpenPosition(ctx, symbol)
		return func() { l.onEntryPosition(attempt, info, ok, err) }
	})
}

func (l *Lifecycle) onEntryPosition(attempt uint64, info PositionInfo, ok bool, err error) {
	now := l.now()
	if attempt != l.attempt {
		return
	}
	l.queryInFlight = false
	if l.Phase() != strategy.PhaseEntering {
		return
	}
	switch {
	case err != nil:
		// retried on the next tick
		l.phaseSince = now
		l.log.Warn("entry position query failed", zap.Error(err))
	case !ok || info.Amount <= 0:
		l.metrics.EntryFailed.Inc()
		l.failEntry(now, "entry not confirmed")
	default:
		l.confirmOpen(Position{
			Symbol:     l.cfg.Symbol,
			Side:       info.Side,
			EntryPrice: info.EntryPrice,
			Size:       info.Amount,
			OpenedAt:   now,
		}, now, "position query")
	}
}

// submitClose sends a reduce-only market close. When awaited, Exiting
// reacts to its ack; a safety close is fire-and-forget.
func (l *Lifecycle) submitClose(side string, size float64, awaited bool, done func(error)) {
	amount := decimal.NewFromFloat(size).Round(int32(l.cfg.LotPrecision))
	if !amount.IsPositive() {
		done(errors.New("close size rounds to zero"))
		return
	}
	req := l.newOrder(side, amount, true)
	if awaited {
		l.awaiting = req.RequestID
	}
	l.sched.Go(func(ctx context.Context) func() {
		id, err := l.gateway.OpenOrder(ctx, req)
		return func() {
			if err != nil {
				l.metrics.OrdersFailed.Inc()
			} else {
				l.metrics.OrdersPlaced.Inc()
				if awaited {
					l.trackRequest(req.RequestID, id)
				}
			}
			done(err)
		}
	})
}

func (l *Lifecycle) newOrder(side string, size decimal.Decimal, reduceOnly bool) OrderRequest {
	return OrderRequest{
		Symbol:        l.cfg.Symbol,
		Side:          side,
		Size:          size,
		ReduceOnly:    reduceOnly,
		ClientOrderID: uuid.NewString(),
		RequestID:     uuid.NewString(),
	}
}

// trackRequest follows a gateway that sent the order under a different
// request id than the one minted for it.
func (l *Lifecycle) trackRequest(sent, id string) {
	if id != "" && id != sent && l.awaiting == sent {
		l.awaiting = id
	}
}

func (l *Lifecycle) failEntry(now time.Time, reason string) {
	l.awaiting = ""
	l.apply(strategy.EventEntryFailed, now)
	l.record(KindEntryFailed, now, reason)
	l.position = Position{}
}

func (l *Lifecycle) finishClose(now time.Time, reason string) {
	l.awaiting = ""
	l.apply(strategy.EventClosed, now)
	l.metrics.TradesClosed.Inc()
	l.record(KindClosed, now, reason)
	l.log.Info("position closed", zap.String("reason", reason), zap.String("position_id", l.position.ID))
	l.position = Position{}
}

// reset forces Idle. kind, when set, is journaled first.
func (l *Lifecycle) reset(now time.Time, kind TransitionKind, reason string) {
	l.awaiting = ""
	l.apply(strategy.EventReset, now)
	if kind != "" {
		l.record(kind, now, reason)
	}
	l.position = Position{}
}

func (l *Lifecycle) apply(ev strategy.Event, now time.Time) {
	before := l.sm.Current()
	after := l.sm.Apply(ev)
	if after != before {
		l.phaseSince = now
		l.metrics.Phase.Set(PhaseValue(after))
	}
}

func (l *Lifecycle) record(kind TransitionKind, now time.Time, reason string) {
	l.rec.Record(Transition{
		Kind:     kind,
		Phase:    l.sm.Current(),
		Position: l.position,
		Reason:   reason,
		At:       now,
	})
}

// PhaseValue maps a phase to the trade_phase gauge value.
func PhaseValue(p strategy.Phase) float64 {
	switch p {
	case strategy.PhaseEntering:
		return 1
	case strategy.PhaseOpen:
		return 2
	case strategy.PhaseExiting:
		return 3
	default:
		return 0
	}
}
