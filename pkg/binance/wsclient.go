package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crossscanner/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultFuturesWSURL is the USDT-M futures stream base URL.
const DefaultFuturesWSURL = "wss://fstream.binance.com"

// maxParamsPerSubscribe keeps each SUBSCRIBE frame well under the
// exchange's per-message limits.
const maxParamsPerSubscribe = 200

// maxReconnectDelay caps the growing wait between reconnect attempts.
const maxReconnectDelay = 30 * time.Second

// WSClient handles the combined-stream connection and message routing.
type WSClient struct {
	url            string
	topics         func() []string
	handler        func([]byte)
	logger         *zap.Logger
	reconnectDelay time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int
}

// NewWSClient creates a client for baseURL. topics is evaluated on every
// (re)connect so the subscription follows the current symbol set.
func NewWSClient(baseURL string, topics func() []string, logger *zap.Logger) *WSClient {
	if baseURL == "" {
		baseURL = DefaultFuturesWSURL
	}
	return &WSClient{
		url:            baseURL + "/stream",
		topics:         topics,
		logger:         logger,
		reconnectDelay: 3 * time.Second,
	}
}

// SetReconnectDelay sets the wait before each reconnect attempt.
func (c *WSClient) SetReconnectDelay(d time.Duration) {
	if d > 0 {
		c.reconnectDelay = d
	}
}

// SetMessageHandler sets the function to handle incoming messages.
func (c *WSClient) SetMessageHandler(h func([]byte)) {
	c.handler = h
}

// Connect dials the stream endpoint and subscribes to the current topics. It
// does not start the listener.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.logger.Error("failed to connect to websocket", zap.String("url", c.url), zap.Error(err))
		return err
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("websocket connected", zap.String("url", c.url))
	return c.subscribe(conn)
}

func (c *WSClient) subscribe(conn *websocket.Conn) error {
	topics := c.topics()
	for start := 0; start < len(topics); start += maxParamsPerSubscribe {
		end := min(start+maxParamsPerSubscribe, len(topics))

		c.mu.Lock()
		c.nextID++
		id := c.nextID
		c.mu.Unlock()

		msg := map[string]any{
			"method": "SUBSCRIBE",
			"params": topics[start:end],
			"id":     id,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("websocket subscribe failed: %w", err)
		}
	}
	c.logger.Info("subscribed to streams", zap.Int("count", len(topics)))
	return nil
}

// Listen reads messages until ctx is done, reconnecting and resubscribing
// after read errors.
func (c *WSClient) Listen(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("websocket read error", zap.Error(err))
			if !c.reconnect(ctx) {
				return
			}
			continue // start listening again with the new connection
		}

		if c.handler != nil {
			c.handler(msg)
		}
	}
}

// reconnect retries until a connection is established or ctx is done. The
// wait doubles after every failed attempt.
func (c *WSClient) reconnect(ctx context.Context) bool {
	wait := retry.Exponential(c.reconnectDelay, maxReconnectDelay)
	for attempt := 1; ; attempt++ {
		if err := retry.Sleep(ctx, wait(attempt)); err != nil {
			return false
		}

		if err := c.Connect(ctx); err != nil {
			c.logger.Warn("retrying reconnect", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		c.logger.Info("reconnected successfully")
		return true
	}
}

// Close closes the current connection, if any.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
