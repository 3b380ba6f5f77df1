package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"orderflow-lab/internal/config"
)

// StreamClient maintains one websocket session against a venue, decodes
// frames through the codec, and pushes events into the sink. It reconnects
// with a fixed delay until the context is canceled; every reconnect
// re-subscribes, which makes the venue push fresh snapshots and lets the
// books resync.
type StreamClient struct {
	url     string
	symbols []string
	codec   Codec
	sink    Sink
	cfg     config.FeedConfig
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewStreamClient creates a client for one venue connection.
func NewStreamClient(url string, symbols []string, codec Codec, sink Sink, cfg config.FeedConfig, logger *slog.Logger) *StreamClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamClient{
		url:     url,
		symbols: symbols,
		codec:   codec,
		sink:    sink,
		cfg:     cfg,
		logger:  logger.With("exchange", codec.Exchange()),
	}
}

// Run connects and consumes the stream until ctx is canceled or the
// reconnect budget is exhausted.
func (c *StreamClient) Run(ctx context.Context) error {
	attempts := 0
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempts++
		if c.cfg.MaxReconnects > 0 && attempts > c.cfg.MaxReconnects {
			return fmt.Errorf("feed %s: reconnect budget exhausted: %w", c.codec.Exchange(), err)
		}
		c.logger.Warn("stream session ended, reconnecting",
			"attempt", attempts, "delay", c.cfg.ReconnectDelay, "error", err)

		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RequestResync asks the venue for a fresh depth snapshot. Safe to call
// from any goroutine; a dropped connection ignores the request, since the
// reconnect path resubscribes anyway.
func (c *StreamClient) RequestResync(symbol string) {
	frames, err := c.codec.ResyncFrames(symbol)
	if err != nil {
		c.logger.Warn("building resync request failed", "symbol", symbol, "error", err)
		return
	}
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				c.logger.Warn("sending resync request failed", "symbol", symbol, "error", err)
				break
			}
		}
	}
	c.mu.Unlock()
}

func (c *StreamClient) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	frames, err := c.codec.SubscribeFrames(c.symbols)
	if err != nil {
		return fmt.Errorf("build subscribe frames: %w", err)
	}
	for _, f := range frames {
		if err := c.writeFrame(conn, f); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	c.logger.Info("stream connected", "url", c.url, "symbols", c.symbols)

	// Close the connection when ctx dies so the blocking read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if c.cfg.PingInterval > 0 {
		go c.pingLoop(conn, done)
	}

	for {
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if err := c.codec.Decode(frame, c.sink); err != nil {
			// One bad frame must not drop the session.
			c.logger.Warn("dropping undecodable frame", "error", err)
		}
	}
}

func (c *StreamClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.DialTimeout))
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *StreamClient) writeFrame(conn *websocket.Conn, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}
