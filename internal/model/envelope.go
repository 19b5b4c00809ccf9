package model

import "encoding/json"

// Message type tags used on both WebSocket feeds. Every frame is a
// JSON envelope {"type": ..., "data": ...}; the data shape depends on
// the tag.
const (
	// Market feed, inbound.
	TypeMarketData      = "market_data"
	TypeMarketDataStart = "market_data_start"
	TypeOrderBook       = "orderbook"
	TypeTrade           = "trade"
	TypeConnection      = "connection"

	// Order feed.
	TypePlaceOrder      = "place_order" // outbound
	TypeConnectionAck   = "connection_ack"
	TypeOrderPlacedAck  = "order_placed_ack"
	TypeUserUpdate      = "user_update"
	TypePlaceOrderError = "place_order_error"
	TypeError           = "error"
	TypeTradeExecuted   = "trade_executed"
	TypePing            = "ping"
	TypePong            = "pong"
)

// Envelope is the one-message-per-frame wire format shared by both feeds.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope builds an envelope around an already-marshalable payload.
// Marshal errors surface when the envelope itself is marshaled.
func NewEnvelope(typ string, data interface{}) Envelope {
	raw, _ := json.Marshal(data)
	return Envelope{Type: typ, Data: raw}
}
