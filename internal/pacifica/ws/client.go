package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const readLimit = 1 << 20

var ErrNotConnected = errors.New("ws not connected")

type Client struct {
	url            string
	header         http.Header
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	subs        []any
	dials       int
	onReconnect func()
}

func New(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{url: url, reconnectDelay: reconnectDelay, pingInterval: pingInterval, log: log}
}

// SetHeader adds a header sent with every dial.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.header == nil {
		c.header = http.Header{}
	}
	c.header.Set(key, value)
}

// OnReconnect registers fn to run after every successful re-dial, once
// subscriptions have been replayed. The first dial does not trigger it.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = fn
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: c.header.Clone()})
	if err != nil {
		return err
	}
	conn.SetReadLimit(readLimit)
	c.conn = conn
	c.dials++
	return nil
}

// Subscribe sends sub now and replays it after every reconnect.
func (c *Client) Subscribe(ctx context.Context, sub any) error {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.writeJSON(ctx, conn, sub)
}

// Send writes a one-off message on the current connection.
func (c *Client) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.writeJSON(ctx, conn, v)
}

func (c *Client) Run(ctx context.Context, handler func([]byte)) error {
	for {
		reconnected, err := c.ensureConnected(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("ws connect failed", zap.Error(err))
			c.resetConn()
			if !sleepCtx(ctx, c.reconnectDelay) {
				return ctx.Err()
			}
			continue
		}
		if reconnected {
			c.mu.Lock()
			fn := c.onReconnect
			c.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			c.pingLoop(pingCtx)
		}()
		err = c.readLoop(ctx, handler)
		cancel()
		<-pingDone
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logReadLoopError(err)
			c.resetConn()
			if !sleepCtx(ctx, c.reconnectDelay) {
				return ctx.Err()
			}
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "shutdown")
	c.conn = nil
	return err
}

func (c *Client) ensureConnected(ctx context.Context) (bool, error) {
	c.mu.Lock()
	before := c.dials
	c.mu.Unlock()
	if err := c.Connect(ctx); err != nil {
		return false, err
	}
	c.mu.Lock()
	conn := c.conn
	dials := c.dials
	subs := append([]any(nil), c.subs...)
	c.mu.Unlock()
	if dials == before {
		// Subscribe already sent them on this connection.
		return false, nil
	}
	for _, sub := range subs {
		if err := c.writeJSON(ctx, conn, sub); err != nil {
			return false, err
		}
	}
	return dials > 1, nil
}

func (c *Client) readLoop(ctx context.Context, handler func([]byte)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if handler != nil {
			handler(data)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	interval := c.pingInterval
	c.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (c *Client) logReadLoopError(err error) {
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("ws read loop ended", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
		c.log.Info("ws read loop ended", zap.Error(err))
		return
	}
	c.log.Warn("ws read loop ended", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
}

func (c *Client) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

var pingMessage = map[string]any{"method": "ping"}

// Subscription builds a {"method":"subscribe"} frame for source.
func Subscription(source string, params map[string]any) map[string]any {
	p := map[string]any{"source": source}
	for k, v := range params {
		p[k] = v
	}
	return map[string]any{"method": "subscribe", "params": p}
}
