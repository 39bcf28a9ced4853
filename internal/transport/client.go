// Package transport owns the push channel to the notebook server: it connects,
// reconnects after a fixed delay forever, sends heartbeats, and dispatches
// typed inbound messages to a Handler.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// DefaultReconnectDelay is the fixed wait between a close and the next attempt.
	DefaultReconnectDelay = 2000 * time.Millisecond

	// DefaultHeartbeatInterval is how often a ping is sent while connected.
	DefaultHeartbeatInterval = 30000 * time.Millisecond

	// maxMessageSize bounds a single inbound frame; init snapshots carry
	// every cell and run output so the library default of 32KiB is too small.
	maxMessageSize = 32 << 20
)

// Config holds transport configuration.
type Config struct {
	// URL of the websocket endpoint, e.g. ws://localhost:8000/ws
	URL string

	// ReconnectDelay is the fixed delay before every reconnect attempt.
	// There is no backoff growth and no retry limit.
	ReconnectDelay time.Duration

	// HeartbeatInterval is how often a ping is sent while the channel is open
	HeartbeatInterval time.Duration

	// Logger for connection activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		URL:               "ws://localhost:8000/ws",
		ReconnectDelay:    DefaultReconnectDelay,
		HeartbeatInterval: DefaultHeartbeatInterval,
		Logger:            log.New(os.Stderr, "[transport] ", log.LstdFlags),
	}
}

// Client is a self-healing push channel.
type Client struct {
	config  *Config
	handler Handler
	logger  *log.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	attempts   int
	reconnects int
	pings      int
	dropped    int
}

// New creates a client that dispatches to handler. Call Run to connect.
func New(config *Config, handler Handler) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}
	return &Client{config: config, handler: handler, logger: logger}, nil
}

// Run keeps the channel connected until ctx is cancelled. Connection loss and
// dial failures are logged and followed by a reconnect after the fixed delay.
func (c *Client) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeat(ctx)
	}()
	defer wg.Wait()

	for {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.logger.Println("Stopping transport")
			return nil
		}
		c.logger.Printf("Connection lost: %v; reconnecting in %s", err, c.config.ReconnectDelay)

		t := time.NewTimer(c.config.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			c.logger.Println("Stopping transport")
			return nil
		case <-t.C:
		}

		c.mu.Lock()
		c.reconnects++
		c.mu.Unlock()
	}
}

// connectAndServe dials once and reads until the connection fails.
func (c *Client) connectAndServe(ctx context.Context) error {
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.config.URL, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Printf("Connected to %s", c.config.URL)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.CloseNow()
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		if typ != websocket.MessageText {
			c.logger.Printf("Dropping non-text message (%s)", typ)
			c.countDropped()
			continue
		}
		if msgType, err := Dispatch(data, c.handler); err != nil {
			c.logger.Printf("Dropping malformed message (type=%q): %v", msgType, err)
			c.countDropped()
		}
	}
}

// heartbeat sends a ping on every tick while the channel is open. It never
// waits for the pong.
func (c *Client) heartbeat(ctx context.Context) {
	t := time.NewTicker(c.config.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if sent, err := c.Ping(ctx); err != nil {
				c.logger.Printf("Heartbeat failed: %v", err)
			} else if sent {
				c.mu.Lock()
				c.pings++
				c.mu.Unlock()
			}
		}
	}
}

// ErrNotConnected is returned by Send when the channel is closed.
var ErrNotConnected = errors.New("push channel not connected")

// Ping sends a ping if the channel is open. It reports whether one was sent.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	err := c.Send(ctx, Envelope{Type: MessageTypePing})
	if errors.Is(err, ErrNotConnected) {
		return false, nil
	}
	return err == nil, err
}

// Send writes one message on the open channel.
func (c *Client) Send(ctx context.Context, env Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", env.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s message: %w", env.Type, err)
	}
	return nil
}

func (c *Client) countDropped() {
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
}

// Connected reports whether the channel is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Stats is a point-in-time view of the channel's counters.
type Stats struct {
	Attempts   int // dial attempts, including the first
	Reconnects int // attempts made after a loss or dial failure
	Pings      int // heartbeats sent
	Dropped    int // malformed or unknown inbound messages
}

// Stats returns the channel's counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Attempts: c.attempts, Reconnects: c.reconnects, Pings: c.pings, Dropped: c.dropped}
}
