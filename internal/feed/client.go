// Package feed streams producer tick and point events from a relay over
// WebSocket. Relays deliver at-least-once: the ingest layer dedups, so the
// client reconnects and resubscribes freely without replay coordination.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"market-rollup/internal/ingest"
	"market-rollup/internal/observability"
)

// Config configures WebSocket client behavior.
type Config struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential reconnect backoff.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is the timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultConfig returns the default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// subscribeRequest asks the relay to stream the given markets. An empty
// market list subscribes to everything.
type subscribeRequest struct {
	Op      string   `json:"op"`
	Markets []string `json:"markets,omitempty"`
}

// feedMessage is one relay event, the same envelope the capture files use.
type feedMessage struct {
	Type  string             `json:"type"`
	Tick  *ingest.TickInput  `json:"tick,omitempty"`
	Point *ingest.PointInput `json:"point,omitempty"`
}

// Client maintains a subscription to a feed relay, transparently
// reconnecting with exponential backoff.
type Client struct {
	endpoint string
	config   Config
	markets  []string
	logger   *log.Logger

	conn         *websocket.Conn
	connMu       sync.Mutex
	closed       atomic.Bool
	reconnecting atomic.Bool

	ticks  chan *ingest.TickInput
	points chan *ingest.PointInput

	done chan struct{}
	wg   sync.WaitGroup
}

// NewClient connects to the relay, subscribes to the given markets, and
// starts streaming. Close must be called to release the connection.
func NewClient(ctx context.Context, endpoint string, markets []string, config *Config, logger *log.Logger) (*Client, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &Client{
		endpoint: endpoint,
		config:   cfg,
		markets:  markets,
		logger:   logger,
		ticks:    make(chan *ingest.TickInput, 4096),
		points:   make(chan *ingest.PointInput, 4096),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if err := c.subscribe(); err != nil {
		c.closeConn()
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// Ticks returns the stream of tick inputs. The channel closes on Close.
func (c *Client) Ticks() <-chan *ingest.TickInput {
	return c.ticks
}

// Points returns the stream of point inputs. The channel closes on Close.
func (c *Client) Points() <-chan *ingest.PointInput {
	return c.points
}

// Close closes the connection and both stream channels.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	close(c.ticks)
	close(c.points)
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// subscribe sends the market subscription to the relay.
func (c *Client) subscribe() error {
	req := subscribeRequest{Op: "subscribe", Markets: c.markets}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// readLoop reads relay messages and dispatches them, reconnecting with
// exponential backoff on connection errors.
func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect redials and resubscribes. Failures are retried by the read
// loop's next error.
func (c *Client) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.closeConn()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.Printf("Feed reconnect failed: %v", err)
		return
	}

	if err := c.subscribe(); err != nil {
		c.logger.Printf("Feed resubscribe failed: %v", err)
		c.closeConn()
		return
	}

	observability.RecordFeedReconnect()
	c.logger.Println("Feed reconnected")
}

// handleMessage dispatches one relay message. Sends block rather than drop:
// the buffer absorbs bursts and the consumer sets the pace.
func (c *Client) handleMessage(message []byte) {
	var msg feedMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Printf("Skipping malformed feed message: %v", err)
		return
	}

	switch {
	case msg.Type == "tick" && msg.Tick != nil:
		select {
		case c.ticks <- msg.Tick:
		case <-c.done:
		}
	case msg.Type == "point" && msg.Point != nil:
		select {
		case c.points <- msg.Point:
		case <-c.done:
		}
	default:
		c.logger.Printf("Skipping feed message of unknown type %q", msg.Type)
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}
