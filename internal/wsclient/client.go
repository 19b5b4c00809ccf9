// Package wsclient provides a resilient JSON WebSocket client.
//
// The client owns one duplex connection to one endpoint. It reconnects
// automatically after a fixed delay when the connection drops (unless
// configured not to), queues outbound messages while disconnected and
// drains them in FIFO order on the next successful open. Inbound frames
// are JSON-decoded and handed to a single registered handler; the client
// knows nothing about message semantics.
package wsclient

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the connection lifecycle state, owned exclusively by Client.
type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// DefaultReconnectDelay is the fixed interval between reconnect attempts.
const DefaultReconnectDelay = 2 * time.Second

// Config holds configuration for a Client.
type Config struct {
	// URL of the WebSocket endpoint, e.g. "ws://localhost:8000/ws/fake/".
	URL string

	// Reconnect enables automatic reconnection after a close. The delay
	// is fixed, not exponential; retries continue until Close is called.
	Reconnect bool

	// ReconnectDelay between attempts. Defaults to DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// Header is sent with the handshake (session cookie etc.). Optional.
	Header http.Header

	// Log is the structured logger. Defaults to slog.Default().
	Log *slog.Logger
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
}

// Client is a resilient WebSocket client. Zero value is not usable;
// construct with New. Callbacks must be set before the first Connect
// and are invoked sequentially from the client's own goroutines.
type Client struct {
	cfg Config

	// OnMessage receives every decoded inbound frame.
	OnMessage func(raw json.RawMessage)
	// OnOpen fires after each successful open, before the queue drain.
	OnOpen func()
	// OnClose fires on every transition to closed.
	OnClose func()
	// OnError reports transport and decode faults; the connection state
	// machine handles recovery, callers never see these as returns.
	OnError func(err error)

	mu      sync.Mutex
	state   ConnState
	conn    *websocket.Conn
	queue   [][]byte // serialized outbound messages, FIFO
	gen     uint64   // connection generation, guards stale read loops
	stopped bool     // manual Close, suppresses reconnect
	timer   *time.Timer

	writeMu sync.Mutex // gorilla conns allow one concurrent writer
}

// New creates a Client for the given endpoint. No connection is made
// until Connect is called.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueLen returns the number of outbound messages waiting for an open
// connection.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Connect starts a connection attempt. It is a no-op while a connection
// is already open or being established. Calling Connect after Close
// re-arms the client.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.stopped = false
	c.cancelTimerLocked()
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
}

// Send serializes v and transmits it when the connection is open, or
// appends it to the outbound queue otherwise. Transport errors are not
// returned; they surface through OnError and the close transition. The
// only possible error is a serialization failure.
func (c *Client) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsclient: marshal outbound: %w", err)
	}

	c.mu.Lock()
	if c.state != StateOpen {
		c.queue = append(c.queue, data)
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	gen := c.gen
	c.mu.Unlock()

	if werr := c.write(conn, data); werr != nil {
		c.reportError(fmt.Errorf("wsclient: write: %w", werr))
		c.connLost(gen, conn)
	}
	return nil
}

// Close releases the connection and cancels any pending reconnect.
// Idempotent. Messages still queued are kept and delivered if Connect
// is called again.
func (c *Client) Close() {
	c.mu.Lock()
	if c.stopped && c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.cancelTimerLocked()
	c.gen++ // invalidate any in-flight dial or read loop
	conn := c.conn
	c.conn = nil
	wasClosed := c.state == StateClosed
	c.state = StateClosed
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	if !wasClosed && c.OnClose != nil {
		c.OnClose()
	}
}

// dial performs one connection attempt for the given generation.
func (c *Client) dial(gen uint64) {
	conn, resp, err := websocket.DefaultDialer.Dial(c.cfg.URL, c.cfg.Header)
	if err != nil {
		if resp != nil {
			c.reportError(fmt.Errorf("wsclient: dial %s: %w (status %s)", c.cfg.URL, err, resp.Status))
		} else {
			c.reportError(fmt.Errorf("wsclient: dial %s: %w", c.cfg.URL, err))
		}
		c.mu.Lock()
		if c.gen != gen || c.stopped {
			c.mu.Unlock()
			return
		}
		c.gen++
		c.mu.Unlock()
		c.transitionClosed()
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.stopped {
		// Superseded by Close or a newer Connect while dialing.
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.cfg.Log.Info("connected", "url", c.cfg.URL)

	if c.OnOpen != nil {
		c.OnOpen()
	}
	c.drainQueue(gen, conn)

	go c.readLoop(gen, conn)
}

// drainQueue sends every queued message in enqueue order, exactly once,
// then clears the queue. On a write failure the unsent remainder is put
// back at the head of the queue for the next open.
func (c *Client) drainQueue(gen uint64, conn *websocket.Conn) {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	for i, msg := range pending {
		if err := c.write(conn, msg); err != nil {
			c.mu.Lock()
			if c.gen == gen {
				c.queue = append(pending[i:], c.queue...)
			}
			c.mu.Unlock()
			c.reportError(fmt.Errorf("wsclient: drain queue: %w", err))
			c.connLost(gen, conn)
			return
		}
	}
	if len(pending) > 0 {
		c.cfg.Log.Info("outbound queue drained", "messages", len(pending))
	}
}

// readLoop reads frames until the connection dies, decoding each frame
// and dispatching it. A frame that is not valid JSON is dropped with a
// diagnostic; the connection stays alive.
func (c *Client) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := c.gen != gen
			c.mu.Unlock()
			if !stale {
				c.reportError(fmt.Errorf("wsclient: read: %w", err))
			}
			c.connLost(gen, conn)
			return
		}

		if !json.Valid(raw) {
			c.reportError(fmt.Errorf("wsclient: dropping malformed frame (%d bytes)", len(raw)))
			continue
		}
		if c.OnMessage != nil {
			c.OnMessage(json.RawMessage(raw))
		}
	}
}

// connLost tears down one specific connection and transitions to closed.
// Safe to call from multiple failure paths; only the first call for a
// generation has any effect.
func (c *Client) connLost(gen uint64, conn *websocket.Conn) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.conn = nil
	c.mu.Unlock()

	conn.Close()
	c.transitionClosed()
}

// transitionClosed moves to the closed state, fires the close callback
// and schedules a reconnect when enabled. Callers must have claimed the
// transition by bumping the connection generation.
func (c *Client) transitionClosed() {
	c.mu.Lock()
	c.state = StateClosed
	reconnect := c.cfg.Reconnect && !c.stopped
	if reconnect {
		c.cancelTimerLocked()
		c.timer = time.AfterFunc(c.cfg.ReconnectDelay, c.Connect)
	}
	c.mu.Unlock()

	if c.OnClose != nil {
		c.OnClose()
	}
	if reconnect {
		c.cfg.Log.Info("reconnect scheduled", "url", c.cfg.URL, "delay", c.cfg.ReconnectDelay)
	}
}

func (c *Client) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) reportError(err error) {
	if c.OnError != nil {
		c.OnError(err)
		return
	}
	c.cfg.Log.Error("socket error", "url", c.cfg.URL, "err", err)
}

func (c *Client) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
