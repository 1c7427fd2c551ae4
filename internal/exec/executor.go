package exec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pf-scalp-bot/internal/lifecycle"
	"pf-scalp-bot/internal/pacifica/exchange"
	"pf-scalp-bot/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultAttempts = 5
	defaultBackoff  = 200 * time.Millisecond
)

// Venue is the signed exchange API.
type Venue interface {
	PlaceMarketOrder(ctx context.Context, order exchange.MarketOrder) (string, error)
	SetPositionTPSL(ctx context.Context, req exchange.TPSL) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	Position(ctx context.Context, symbol string) (exchange.Position, bool, error)
}

// Executor implements lifecycle.Gateway with retries. Retries of one
// order reuse its client order id and request id, so the exchange sees a
// single intent.
type Executor struct {
	venue Venue
	log   *zap.Logger

	attempts int
	backoff  time.Duration
}

func New(venue Venue, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		venue:    venue,
		log:      log,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
}

var _ lifecycle.Gateway = (*Executor)(nil)

func (e *Executor) OpenOrder(ctx context.Context, req lifecycle.OrderRequest) (string, error) {
	order := exchange.MarketOrder{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Amount:        req.Size,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: req.ClientOrderID,
		RequestID:     req.RequestID,
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}
	if order.RequestID == "" {
		order.RequestID = uuid.NewString()
	}
	var requestID string
	err := e.retry(ctx, func() error {
		var err error
		requestID, err = e.venue.PlaceMarketOrder(ctx, order)
		return err
	})
	if err != nil {
		return "", err
	}
	if requestID == "" {
		return "", errors.New("empty request id")
	}
	e.log.Debug("order sent",
		zap.String("client_order_id", order.ClientOrderID),
		zap.String("request_id", requestID),
		zap.Bool("reduce_only", order.ReduceOnly),
	)
	return requestID, nil
}

func (e *Executor) PlaceProtective(ctx context.Context, req lifecycle.ProtectiveRequest) error {
	return e.retry(ctx, func() error {
		return e.venue.SetPositionTPSL(ctx, exchange.TPSL{
			Symbol:     req.Symbol,
			Side:       req.Side,
			TakeProfit: req.TakeProfit,
			StopLoss:   req.StopLoss,
		})
	})
}

func (e *Executor) OpenPosition(ctx context.Context, symbol string) (lifecycle.PositionInfo, bool, error) {
	var (
		pos exchange.Position
		ok  bool
	)
	err := e.retry(ctx, func() error {
		var err error
		pos, ok, err = e.venue.Position(ctx, symbol)
		return err
	})
	if err != nil || !ok {
		return lifecycle.PositionInfo{}, false, err
	}
	side, known := strategy.SideFromOrderSide(pos.Side)
	if !known {
		return lifecycle.PositionInfo{}, false, fmt.Errorf("unknown position side %q", pos.Side)
	}
	return lifecycle.PositionInfo{
		Side:       side,
		Amount:     pos.Amount.InexactFloat64(),
		EntryPrice: pos.EntryPrice.InexactFloat64(),
	}, true, nil
}

func (e *Executor) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return e.retry(ctx, func() error {
		return e.venue.SetLeverage(ctx, symbol, leverage)
	})
}

// retry stops early on exchange rejections; only transport failures are
// worth repeating.
func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := e.backoff
	for attempt := 0; attempt < e.attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, exchange.ErrRejected) {
			return err
		}
		if attempt == e.attempts-1 {
			return fmt.Errorf("retry failed: %w", err)
		}
		e.log.Debug("retrying exchange call", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}
