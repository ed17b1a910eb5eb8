package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	hostConnectAttempts = 10
	hostConnectBackoff  = 500 * time.Millisecond
)

var errHostNotConnected = errors.New("no host websocket connection")

// HostClient holds the websocket to the effect host.
//
// Run owns the read side and reconnects when the connection drops. Send may be
// called from the daemon loop at any time; it fails fast while disconnected.
type HostClient struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	url    string
	logger *slog.Logger

	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	backoff          time.Duration
}

// NewHostClient validates wsURL. It does not connect; Run does.
func NewHostClient(wsURL string, timeout time.Duration, logger *slog.Logger) (*HostClient, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid websocket URL %q: scheme must be ws or wss", wsURL)
	}
	if timeout <= 0 {
		timeout = defaultHostTimeoutMS * time.Millisecond
	}
	return &HostClient{
		url:              wsURL,
		logger:           logger,
		handshakeTimeout: timeout,
		writeTimeout:     timeout,
		backoff:          hostConnectBackoff,
	}, nil
}

// connect establishes a websocket connection, replacing any previous one.
func (c *HostClient) connect(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	d := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, _, err := d.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

// connectWithRetry tries hostConnectAttempts times, backoff apart.
func (c *HostClient) connectWithRetry(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < hostConnectAttempts; attempt++ {
		conn, err := c.connect(ctx)
		if err == nil {
			c.logger.Info("connected to host", "url", c.url)
			return conn, nil
		}
		lastErr = err
		c.logger.Warn("host connection failed; retrying...", "error", err, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff):
		}
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", hostConnectAttempts, lastErr)
}

// Run connects and delivers every inbound text frame to deliver until ctx is
// cancelled.
//
// The first connection must succeed within the retry budget, otherwise Run
// returns the error. Later drops are retried indefinitely. Each reconnect first
// delivers "remove :all", because the host replays its whole graph to a new
// client and the registry must not keep instances from the old session.
func (c *HostClient) Run(ctx context.Context, deliver func(line string)) error {
	conn, err := c.connectWithRetry(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		c.readPump(conn, deliver)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("host connection lost; reconnecting...")

		for {
			conn, err = c.connectWithRetry(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("host reconnect failed", "error", err)
		}
		deliver("remove " + removeAll)
	}
}

// readPump reads frames until the connection fails.
func (c *HostClient) readPump(conn *websocket.Conn, deliver func(string)) {
	defer c.drop(conn)
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("host read ended", "error", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		for _, line := range strings.Split(string(payload), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				deliver(line)
			}
		}
	}
}

// drop forgets conn if it is still the current connection.
func (c *HostClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn.Close()
	if c.conn == conn {
		c.conn = nil
	}
}

// Send writes one text frame to the host.
func (c *HostClient) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errHostNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		// Mark connection as broken; the read pump notices and reconnects.
		c.conn.Close()
		c.conn = nil
		return fmt.Errorf("send to host: %w", err)
	}
	return nil
}

// Connected reports whether a connection is currently open.
func (c *HostClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close closes the current connection.
func (c *HostClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}
