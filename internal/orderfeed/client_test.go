package orderfeed

import (
	"encoding/json"
	"errors"
	"testing"

	"tradeterm/internal/model"
)

// fakeAccount implements AccountView with fixed state.
type fakeAccount struct {
	balance  float64
	holdings map[string]int64
}

func (a *fakeAccount) Balance() float64 { return a.balance }
func (a *fakeAccount) HoldingQty(symbol string) int64 {
	return a.holdings[symbol]
}

func newTestClient(account AccountView) *Client {
	return New(Config{
		URL:     "ws://localhost:0/ws/trading/",
		Account: account,
	})
}

func TestPlaceOrder_LocalValidation(t *testing.T) {
	account := &fakeAccount{balance: 10000, holdings: map[string]int64{"RELIANCE": 5}}
	c := newTestClient(account)

	cases := []struct {
		name  string
		order model.PlaceOrder
		want  error
	}{
		{
			name:  "zero price",
			order: model.PlaceOrder{OrderType: model.OrderBuy, Price: 0, Quantity: 1, Symbol: "RELIANCE"},
			want:  ErrInvalidPrice,
		},
		{
			name:  "negative price",
			order: model.PlaceOrder{OrderType: model.OrderBuy, Price: -5, Quantity: 1, Symbol: "RELIANCE"},
			want:  ErrInvalidPrice,
		},
		{
			name:  "zero quantity",
			order: model.PlaceOrder{OrderType: model.OrderSell, Price: 100, Quantity: 0, Symbol: "RELIANCE"},
			want:  ErrInvalidQuantity,
		},
		{
			name:  "buy beyond balance",
			order: model.PlaceOrder{OrderType: model.OrderBuy, Price: 2800, Quantity: 4, Symbol: "RELIANCE"},
			want:  ErrInsufficientBalance,
		},
		{
			name:  "sell beyond holdings",
			order: model.PlaceOrder{OrderType: model.OrderSell, Price: 2800, Quantity: 6, Symbol: "RELIANCE"},
			want:  ErrInsufficientHoldings,
		},
		{
			name:  "valid buy",
			order: model.PlaceOrder{OrderType: model.OrderBuy, Price: 2500, Quantity: 4, Symbol: "RELIANCE"},
			want:  nil,
		},
		{
			name:  "valid sell",
			order: model.PlaceOrder{OrderType: model.OrderSell, Price: 2800, Quantity: 5, Symbol: "RELIANCE"},
			want:  nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.PlaceOrder(tc.order)
			if !errors.Is(err, tc.want) {
				t.Errorf("PlaceOrder() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPlaceOrder_QueuedWhileDisconnected(t *testing.T) {
	c := newTestClient(&fakeAccount{balance: 1e6})

	// Never connected: a valid order must not error, it queues.
	err := c.PlaceOrder(model.PlaceOrder{
		OrderType: model.OrderBuy, Price: 100, Quantity: 1, Symbol: "RELIANCE",
	})
	if err != nil {
		t.Fatalf("PlaceOrder() while disconnected: %v", err)
	}
}

func TestDispatch_ByTag(t *testing.T) {
	c := newTestClient(nil)

	var (
		acks      []model.OrderAck
		updates   []model.UserUpdate
		errMsgs   []string
		books     []model.OrderBook
		connAcks  int
		executed  int
	)
	c.OnOrderAck = func(a model.OrderAck) { acks = append(acks, a) }
	c.OnUserUpdate = func(u model.UserUpdate) { updates = append(updates, u) }
	c.OnOrderError = func(m string) { errMsgs = append(errMsgs, m) }
	c.OnOrderBook = func(b model.OrderBook) { books = append(books, b) }
	c.OnConnectionAck = func() { connAcks++ }
	c.OnTradeExecuted = func() { executed++ }

	send := func(typ string, data interface{}) {
		raw, _ := json.Marshal(model.NewEnvelope(typ, data))
		c.handleMessage(raw)
	}

	send(model.TypeConnectionAck, map[string]string{"status": "connected"})
	send(model.TypeOrderPlacedAck, model.OrderAck{OrderID: "O-1", Message: "Order placed successfully"})
	send(model.TypeUserUpdate, model.UserUpdate{
		Balance:  95000,
		Holdings: []model.Holding{{Symbol: "RELIANCE", Quantity: 12}},
	})
	send(model.TypePlaceOrderError, model.ErrorData{Message: "Insufficient balance. Required: 11200"})
	send(model.TypeError, model.ErrorData{Message: "Internal server error"})
	send(model.TypeTradeExecuted, nil)
	send(model.TypeOrderBook, model.OrderBook{Symbol: "RELIANCE"})
	send(model.TypePong, nil)
	send("totally_unknown", map[string]int{"x": 1})

	if connAcks != 1 {
		t.Errorf("connection acks = %d, want 1", connAcks)
	}
	if len(acks) != 1 || acks[0].OrderID != "O-1" {
		t.Errorf("acks = %+v, want one with OrderID O-1", acks)
	}
	if len(updates) != 1 || updates[0].Balance != 95000 {
		t.Errorf("user updates = %+v, want one with balance 95000", updates)
	}
	if len(errMsgs) != 2 || errMsgs[0] != "Insufficient balance. Required: 11200" {
		t.Errorf("error messages = %v, want server text verbatim", errMsgs)
	}
	if executed != 1 {
		t.Errorf("trade executions = %d, want 1", executed)
	}
	if len(books) != 1 || books[0].Symbol != "RELIANCE" {
		t.Errorf("order books = %+v, want one for RELIANCE", books)
	}
}

func TestDispatch_MalformedPayloadIgnored(t *testing.T) {
	c := newTestClient(nil)

	called := false
	c.OnOrderAck = func(model.OrderAck) { called = true }

	c.handleMessage(json.RawMessage(`{"type":"order_placed_ack","data":"not an object"}`))
	if called {
		t.Error("malformed ack payload reached the callback")
	}
}

func TestValidation_NoAccountStillChecksInput(t *testing.T) {
	c := newTestClient(nil)

	if err := c.PlaceOrder(model.PlaceOrder{OrderType: model.OrderBuy, Price: -1, Quantity: 1}); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("PlaceOrder(negative price) = %v, want ErrInvalidPrice", err)
	}
	// Without an account view, balance checks are skipped.
	if err := c.PlaceOrder(model.PlaceOrder{OrderType: model.OrderBuy, Price: 1e12, Quantity: 1, Symbol: "X"}); err != nil {
		t.Errorf("PlaceOrder() without account = %v, want nil", err)
	}
}
