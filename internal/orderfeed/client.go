// Package orderfeed handles the trading WebSocket: order placement,
// acknowledgements, account updates and order-book snapshots.
//
// Unlike the market feed this connection does not auto-reconnect: an
// open order form implies an active user session, and a dropped
// session must surface to the operator instead of silently retrying.
package orderfeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"tradeterm/internal/model"
	"tradeterm/internal/wsclient"
)

// Validation failures are rejected before any network call.
var (
	ErrInvalidPrice         = errors.New("price must be positive")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)

// AccountView is the read-only account state used for local order
// validation. Implemented by the session manager.
type AccountView interface {
	Balance() float64
	HoldingQty(symbol string) int64
}

// Config holds configuration for the order feed client.
type Config struct {
	// URL of the trading WebSocket endpoint.
	URL string

	// Header for the handshake (session cookie). Optional.
	Header http.Header

	// Account used to validate orders before they reach the wire.
	Account AccountView

	// Log is the structured logger. Defaults to slog.Default().
	Log *slog.Logger
}

// Client is the order-feed client. Inbound messages are dispatched by
// their type tag to per-tag callbacks; unrecognized tags are ignored.
type Client struct {
	cfg  Config
	log  *slog.Logger
	sock *wsclient.Client

	// OnConnectionAck fires when the server confirms the session.
	OnConnectionAck func()
	// OnOrderAck receives order placement confirmations.
	OnOrderAck func(ack model.OrderAck)
	// OnUserUpdate receives balance/holdings updates after executions.
	OnUserUpdate func(update model.UserUpdate)
	// OnOrderError receives server rejections, message verbatim.
	OnOrderError func(message string)
	// OnTradeExecuted fires when a resting order fills.
	OnTradeExecuted func()
	// OnOrderBook receives live order-book snapshots.
	OnOrderBook func(book model.OrderBook)
	// OnStateChange reports socket state transitions; closed is
	// terminal for the session.
	OnStateChange func(state wsclient.ConnState)
}

// New creates an order feed client. Call Connect to open the session.
func New(cfg Config) *Client {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	c := &Client{
		cfg: cfg,
		log: cfg.Log.With("component", "orderfeed"),
	}
	c.sock = wsclient.New(wsclient.Config{
		URL:    cfg.URL,
		Header: cfg.Header,
		Log:    c.log,
		// Reconnect deliberately disabled.
	})
	c.sock.OnMessage = c.handleMessage
	c.sock.OnOpen = func() { c.notifyState(wsclient.StateOpen) }
	c.sock.OnClose = func() {
		c.log.Warn("order feed disconnected; session over")
		c.notifyState(wsclient.StateClosed)
	}
	c.sock.OnError = func(err error) {
		c.log.Warn("order feed fault", "err", err)
	}
	return c
}

// Connect opens the trading socket.
func (c *Client) Connect() { c.sock.Connect() }

// Close tears the session down. Idempotent.
func (c *Client) Close() { c.sock.Close() }

// State returns the current connection state.
func (c *Client) State() wsclient.ConnState { return c.sock.State() }

// QueueLen returns the number of outbound messages waiting for the
// socket to come back.
func (c *Client) QueueLen() int { return c.sock.QueueLen() }

// PlaceOrder validates the order locally and sends it. Invalid input
// never reaches the server; a validation error is returned
// synchronously. Transport-level delivery follows the socket's
// queue-on-disconnect semantics.
func (c *Client) PlaceOrder(order model.PlaceOrder) error {
	if err := c.validate(order); err != nil {
		return err
	}
	if err := c.sock.Send(model.NewEnvelope(model.TypePlaceOrder, order)); err != nil {
		return fmt.Errorf("orderfeed: place order: %w", err)
	}
	c.log.Info("order sent",
		"side", order.OrderType, "symbol", order.Symbol,
		"price", order.Price, "qty", order.Quantity)
	return nil
}

// Ping sends an application-level ping; the server answers with pong.
func (c *Client) Ping() error {
	return c.sock.Send(model.Envelope{Type: model.TypePing})
}

func (c *Client) validate(order model.PlaceOrder) error {
	if order.Price <= 0 {
		return ErrInvalidPrice
	}
	if order.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if c.cfg.Account == nil {
		return nil
	}
	switch order.OrderType {
	case model.OrderBuy:
		if order.Price*float64(order.Quantity) > c.cfg.Account.Balance() {
			return ErrInsufficientBalance
		}
	case model.OrderSell:
		if order.Quantity > c.cfg.Account.HoldingQty(order.Symbol) {
			return ErrInsufficientHoldings
		}
	}
	return nil
}

// handleMessage dispatches one decoded frame by its type tag.
func (c *Client) handleMessage(raw json.RawMessage) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn("dropping unroutable frame", "err", err)
		return
	}

	switch env.Type {
	case model.TypeConnectionAck:
		if c.OnConnectionAck != nil {
			c.OnConnectionAck()
		}

	case model.TypeOrderPlacedAck:
		var ack model.OrderAck
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			c.dropPayload(env.Type, err)
			return
		}
		if c.OnOrderAck != nil {
			c.OnOrderAck(ack)
		}

	case model.TypeUserUpdate:
		var update model.UserUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			c.dropPayload(env.Type, err)
			return
		}
		if c.OnUserUpdate != nil {
			c.OnUserUpdate(update)
		}

	case model.TypePlaceOrderError, model.TypeError:
		var e model.ErrorData
		if err := json.Unmarshal(env.Data, &e); err != nil {
			c.dropPayload(env.Type, err)
			return
		}
		if c.OnOrderError != nil {
			c.OnOrderError(e.Message)
		}

	case model.TypeTradeExecuted:
		if c.OnTradeExecuted != nil {
			c.OnTradeExecuted()
		}

	case model.TypeOrderBook:
		var book model.OrderBook
		if err := json.Unmarshal(env.Data, &book); err != nil {
			c.dropPayload(env.Type, err)
			return
		}
		if c.OnOrderBook != nil {
			c.OnOrderBook(book)
		}

	case model.TypePong:
		// Heartbeat answer, nothing to do.

	default:
		// Unrecognized tags are ignored.
	}
}

func (c *Client) dropPayload(typ string, err error) {
	c.log.Warn("dropping malformed payload", "type", typ, "err", err)
}

func (c *Client) notifyState(state wsclient.ConnState) {
	if c.OnStateChange != nil {
		c.OnStateChange(state)
	}
}
