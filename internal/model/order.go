package model

import "time"

// OrderType is the side of a placed order.
type OrderType string

const (
	OrderBuy  OrderType = "buy"
	OrderSell OrderType = "sell"
)

// PlaceOrder is the outbound order-placement payload.
type PlaceOrder struct {
	OrderType OrderType `json:"order_type"`
	Price     float64   `json:"price"`
	Quantity  int64     `json:"quantity"`
	Symbol    string    `json:"symbol"`
}

// OrderAck acknowledges a successfully placed order.
type OrderAck struct {
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

// Holding is one position in the user's account.
type Holding struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

// TradeRecord is a single executed trade.
type TradeRecord struct {
	TradeID     string    `json:"trade_id"`
	Side        string    `json:"side"` // "BUY" or "SELL"
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Quantity    int64     `json:"quantity"`
	TotalAmount float64   `json:"total_amount,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// UserUpdate carries the post-trade account state pushed by the server.
type UserUpdate struct {
	Balance   float64     `json:"balance"`
	Holdings  []Holding   `json:"holdings"`
	Trade     TradeRecord `json:"trade"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorData is a server-sent rejection; Message is user-facing verbatim.
type ErrorData struct {
	Message string `json:"message"`
}

// Level is one price level of the order book.
type Level struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Orders   int     `json:"orders"`
}

// OrderBook is a full depth snapshot for one symbol.
type OrderBook struct {
	Symbol    string    `json:"symbol"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}
