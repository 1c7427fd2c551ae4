package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pf-scalp-bot/internal/pacifica/rest"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sender writes a message on the trading WebSocket.
type Sender interface {
	Send(ctx context.Context, v any) error
}

type Client struct {
	rest     *rest.Client
	ws       Sender
	signer   *Signer
	slippage string
	log      *zap.Logger
	now      func() time.Time
}

func NewClient(restClient *rest.Client, ws Sender, signer *Signer, slippagePercent string, log *zap.Logger) (*Client, error) {
	if restClient == nil {
		return nil, errors.New("rest client is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		rest:     restClient,
		ws:       ws,
		signer:   signer,
		slippage: strings.TrimSpace(slippagePercent),
		log:      log,
		now:      time.Now,
	}, nil
}

func (c *Client) Account() string {
	return c.signer.Account()
}

type MarketOrder struct {
	Symbol        string
	Side          string
	Amount        decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
	// RequestID tags the socket request; the acknowledgement echoes it.
	RequestID string
}

type TPSL struct {
	Symbol     string
	Side       string
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
}

type Position struct {
	Symbol     string
	Side       string
	Amount     decimal.Decimal
	EntryPrice decimal.Decimal
}

// PlaceMarketOrder signs the order and sends it over the WebSocket. It
// returns the request id; the acknowledgement arrives on the feed.
func (c *Client) PlaceMarketOrder(ctx context.Context, order MarketOrder) (string, error) {
	if c.ws == nil {
		return "", errors.New("order channel is not configured")
	}
	if order.Side != "bid" && order.Side != "ask" {
		return "", fmt.Errorf("invalid order side %q", order.Side)
	}
	if !order.Amount.IsPositive() {
		return "", fmt.Errorf("invalid order amount %s", order.Amount)
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = uuid.NewString()
	}
	data := marketOrderData{
		Symbol:          order.Symbol,
		Amount:          order.Amount.String(),
		Side:            order.Side,
		ReduceOnly:      order.ReduceOnly,
		SlippagePercent: c.slippage,
		ClientOrderID:   order.ClientOrderID,
	}
	payload, err := c.signer.Sign(opMarketOrder, data, c.now())
	if err != nil {
		return "", err
	}
	requestID := order.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req := wsRequest{ID: requestID, Params: map[string]any{opMarketOrder: payload}}
	if err := c.ws.Send(ctx, req); err != nil {
		return "", fmt.Errorf("send market order: %w", err)
	}
	c.log.Debug("market order sent",
		zap.String("request_id", req.ID),
		zap.String("client_order_id", order.ClientOrderID),
		zap.String("side", order.Side),
		zap.String("amount", data.Amount),
		zap.Bool("reduce_only", order.ReduceOnly),
	)
	return req.ID, nil
}

// SetPositionTPSL places exchange-resident take-profit and stop-loss
// triggers on the open position. side is the exit side.
func (c *Client) SetPositionTPSL(ctx context.Context, req TPSL) error {
	data := tpslData{
		Symbol:     req.Symbol,
		Side:       req.Side,
		TakeProfit: stopPrice{StopPrice: req.TakeProfit.String()},
		StopLoss:   stopPrice{StopPrice: req.StopLoss.String()},
	}
	return c.postSigned(ctx, "/positions/tpsl", opSetTPSL, data)
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return c.postSigned(ctx, "/account/leverage", opLeverage, leverageData{Symbol: symbol, Leverage: leverage})
}

func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var resp positionsResponse
	if err := c.rest.Get(ctx, "/positions", url.Values{"account": {c.signer.Account()}}, &resp); err != nil {
		return nil, classify(err)
	}
	if !resp.Success {
		return nil, rejection(resp.apiResponse)
	}
	out := make([]Position, 0, len(resp.Data))
	for _, p := range resp.Data {
		out = append(out, Position{Symbol: p.Symbol, Side: p.Side, Amount: p.Amount, EntryPrice: p.EntryPrice})
	}
	return out, nil
}

// Position returns the open position for symbol, if any.
func (c *Client) Position(ctx context.Context, symbol string) (Position, bool, error) {
	positions, err := c.Positions(ctx)
	if err != nil {
		return Position{}, false, err
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.Amount.IsPositive() {
			return p, true, nil
		}
	}
	return Position{}, false, nil
}

func (c *Client) postSigned(ctx context.Context, path, opType string, data any) error {
	payload, err := c.signer.Sign(opType, data, c.now())
	if err != nil {
		return err
	}
	var resp apiResponse
	if err := c.rest.Post(ctx, path, payload, &resp); err != nil {
		return classify(err)
	}
	if !resp.Success {
		return rejection(resp)
	}
	return nil
}

func rejection(resp apiResponse) error {
	msg := strings.TrimSpace(resp.Error)
	if msg == "" {
		msg = "success=false"
	}
	return fmt.Errorf("%w: %s", ErrRejected, msg)
}

// classify marks 4xx responses as rejections; 5xx and transport errors
// stay retryable.
func classify(err error) error {
	var httpErr *rest.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status >= http.StatusBadRequest && httpErr.Status < http.StatusInternalServerError && httpErr.Status != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return err
}
