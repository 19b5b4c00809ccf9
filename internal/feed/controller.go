// Package feed composes the market-data pipeline: a resilient socket,
// a visibility-driven backpressure buffer and the tick-to-candle
// aggregation, exposed to the consumer as an ordered candle sequence
// plus a connection-state flag.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tradeterm/internal/backpressure"
	"tradeterm/internal/candle"
	"tradeterm/internal/model"
	"tradeterm/internal/wsclient"
)

const (
	// DefaultCandleCount is how many candles the consumer renders.
	DefaultCandleCount = 50

	// sampleIntervalMs is the server's nominal tick cadence; the window
	// capacity is sized so the retained ticks exactly cover the
	// rendered candle range at the current bucket size.
	sampleIntervalMs = 500

	// windowMargin pads the window so bucket edges are never starved.
	windowMargin = 10
)

// Config holds configuration for the market feed controller.
type Config struct {
	// URL of the market-data WebSocket endpoint.
	URL string

	// Header for the handshake (session cookie). Optional.
	Header http.Header

	// BucketSize selected by the consumer. Defaults to 5s.
	BucketSize model.BucketSize

	// CandleCount the consumer renders. Defaults to DefaultCandleCount.
	CandleCount int

	// ReconnectDelay for the underlying socket (fixed interval).
	ReconnectDelay time.Duration

	// Log is the structured logger. Defaults to slog.Default().
	Log *slog.Logger
}

func (c *Config) defaults() {
	if c.BucketSize == "" {
		c.BucketSize = model.Bucket5s
	}
	if c.CandleCount <= 0 {
		c.CandleCount = DefaultCandleCount
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
}

// Controller turns the raw tick stream into the consumer-facing candle
// sequence. It exclusively owns the tick window and the backpressure
// queue; callbacks are invoked without internal locks held.
type Controller struct {
	cfg    Config
	log    *slog.Logger
	client *wsclient.Client
	buffer *backpressure.Buffer

	mu         sync.Mutex
	window     []model.Tick
	candles    []model.Candle
	bucketSize model.BucketSize
	paused     bool

	// OnCandles receives the freshly aggregated candle sequence (last
	// CandleCount candles, ascending) after every window change.
	OnCandles func(candles []model.Candle)
	// OnOrderBook receives order-book snapshots while the view is visible.
	OnOrderBook func(book model.OrderBook)
	// OnStateChange reports socket state transitions.
	OnStateChange func(state wsclient.ConnState)

	// Metrics hooks, all optional.
	OnTickIngested func()
	OnReconnect    func()
	OnFrameError   func()
	OnBufferEvict  func()
}

// New creates a Controller. Call Connect to start the feed.
func New(cfg Config) *Controller {
	cfg.defaults()

	c := &Controller{
		cfg:        cfg,
		log:        cfg.Log.With("component", "feed"),
		bucketSize: cfg.BucketSize,
	}
	c.buffer = backpressure.New(c.windowCap())
	c.buffer.OnEvict = func() {
		if c.OnBufferEvict != nil {
			c.OnBufferEvict()
		}
	}
	c.client = wsclient.New(wsclient.Config{
		URL:            cfg.URL,
		Reconnect:      true,
		ReconnectDelay: cfg.ReconnectDelay,
		Header:         cfg.Header,
		Log:            c.log,
	})
	c.client.OnMessage = c.handleMessage
	c.client.OnOpen = func() { c.notifyState(wsclient.StateOpen) }
	c.client.OnClose = func() {
		c.notifyState(wsclient.StateClosed)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
	}
	c.client.OnError = func(err error) {
		c.log.Warn("market feed fault", "err", err)
		if c.OnFrameError != nil {
			c.OnFrameError()
		}
	}
	return c
}

// Connect opens the market feed.
func (c *Controller) Connect() { c.client.Connect() }

// Close shuts the feed down and stops reconnecting.
func (c *Controller) Close() { c.client.Close() }

// State returns the current connection state.
func (c *Controller) State() wsclient.ConnState { return c.client.State() }

// QueueLen returns the number of outbound messages waiting for the
// socket to come back.
func (c *Controller) QueueLen() int { return c.client.QueueLen() }

// Candles returns the current candle sequence (last CandleCount,
// ascending by bucket time).
func (c *Controller) Candles() []model.Candle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Candle, len(c.candles))
	copy(out, c.candles)
	return out
}

// BucketSize returns the currently selected bucket size.
func (c *Controller) BucketSize() model.BucketSize {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bucketSize
}

// WindowLen returns the number of retained raw ticks.
func (c *Controller) WindowLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.window)
}

// Buffered returns the number of ticks parked in the backpressure queue.
func (c *Controller) Buffered() int { return c.buffer.Len() }

// Pause marks the consumer invisible: subsequent ticks are buffered
// instead of aggregated.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	c.log.Info("consumer paused, buffering ticks")
}

// Resume marks the consumer visible again, merges the buffered ticks
// into the window and re-aggregates once.
func (c *Controller) Resume() {
	c.mu.Lock()
	c.paused = false
	flushed := c.buffer.Flush()
	if len(flushed) > 0 {
		c.window = append(c.window, flushed...)
		c.trimWindowLocked()
	}
	snapshot := c.reaggregateLocked()
	c.mu.Unlock()

	c.log.Info("consumer resumed", "merged", len(flushed))
	c.notifyCandles(snapshot)
}

// SetBucketSize re-buckets the retained window under the new size. The
// stored ticks are untouched; only the derived candles change. Invalid
// sizes are rejected.
func (c *Controller) SetBucketSize(size model.BucketSize) error {
	if _, err := model.ParseBucketSize(string(size)); err != nil {
		return err
	}

	c.mu.Lock()
	c.bucketSize = size
	cap := c.windowCapLocked()
	c.buffer.SetCap(cap)
	c.trimWindowLocked()
	snapshot := c.reaggregateLocked()
	c.mu.Unlock()

	c.log.Info("bucket size changed", "bucket", size, "window_cap", cap)
	c.notifyCandles(snapshot)
	return nil
}

// handleMessage routes one decoded frame by its type tag.
func (c *Controller) handleMessage(raw json.RawMessage) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn("dropping unroutable frame", "err", err)
		if c.OnFrameError != nil {
			c.OnFrameError()
		}
		return
	}

	switch env.Type {
	case model.TypeMarketData:
		var t model.Tick
		if err := json.Unmarshal(env.Data, &t); err != nil {
			c.dropFrame(env.Type, err)
			return
		}
		c.ingestTick(t)

	case model.TypeMarketDataStart:
		var seed []model.Tick
		if err := json.Unmarshal(env.Data, &seed); err != nil {
			c.dropFrame(env.Type, err)
			return
		}
		c.seedWindow(seed)

	case model.TypeOrderBook:
		var book model.OrderBook
		if err := json.Unmarshal(env.Data, &book); err != nil {
			c.dropFrame(env.Type, err)
			return
		}
		c.mu.Lock()
		paused := c.paused
		c.mu.Unlock()
		if !paused && c.OnOrderBook != nil {
			c.OnOrderBook(book)
		}

	case model.TypeTrade, model.TypeConnection:
		// Observed but not needed for candle derivation.

	default:
		// Unrecognized tags are ignored.
	}
}

// ingestTick is the per-tick hot path: buffer when paused, otherwise
// append, trim and re-aggregate.
func (c *Controller) ingestTick(t model.Tick) {
	if c.OnTickIngested != nil {
		c.OnTickIngested()
	}

	c.mu.Lock()
	if c.paused {
		c.mu.Unlock()
		c.buffer.Push(t)
		return
	}
	c.window = append(c.window, t)
	c.trimWindowLocked()
	snapshot := c.reaggregateLocked()
	c.mu.Unlock()

	c.notifyCandles(snapshot)
}

// seedWindow atomically replaces the whole window with the historical
// seed sent at subscription start.
func (c *Controller) seedWindow(seed []model.Tick) {
	c.mu.Lock()
	c.window = append(c.window[:0:0], seed...)
	c.trimWindowLocked()
	snapshot := c.reaggregateLocked()
	n := len(c.window)
	c.mu.Unlock()

	c.log.Info("historical seed applied", "ticks", n)
	c.notifyCandles(snapshot)
}

// trimWindowLocked evicts the oldest ticks past capacity. The trim
// amount is the window's own overflow, never derived from the
// backpressure queue length.
func (c *Controller) trimWindowLocked() {
	cap := c.windowCapLocked()
	if over := len(c.window) - cap; over > 0 {
		c.window = append(c.window[:0:0], c.window[over:]...)
	}
}

// reaggregateLocked rebuilds the candle sequence from the window and
// returns a snapshot for callbacks.
func (c *Controller) reaggregateLocked() []model.Candle {
	all := candle.Aggregate(c.window, c.bucketSize)
	if len(all) > c.cfg.CandleCount {
		all = all[len(all)-c.cfg.CandleCount:]
	}
	c.candles = all
	out := make([]model.Candle, len(all))
	copy(out, all)
	return out
}

// windowCapLocked sizes the window to cover CandleCount candles of raw
// ticks at the server's sample cadence, plus margin.
func (c *Controller) windowCapLocked() int {
	return int(c.bucketSize.Ms())/sampleIntervalMs*c.cfg.CandleCount + windowMargin
}

func (c *Controller) windowCap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windowCapLocked()
}

func (c *Controller) notifyCandles(candles []model.Candle) {
	if c.OnCandles != nil {
		c.OnCandles(candles)
	}
}

func (c *Controller) notifyState(state wsclient.ConnState) {
	if c.OnStateChange != nil {
		c.OnStateChange(state)
	}
}

func (c *Controller) dropFrame(typ string, err error) {
	c.log.Warn("dropping malformed payload", "type", typ, "err", err)
	if c.OnFrameError != nil {
		c.OnFrameError()
	}
}
