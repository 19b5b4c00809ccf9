// cmd/feedsim — Local exchange simulator.
// Serves the market-data and trading WebSocket endpoints so the
// terminal can run without a real backend.
//
// Endpoints:
//
//	/ws/fake/     — market data: seed history, then live ticks,
//	                order book snapshots and public trades
//	/ws/trading/  — trading: connection ack, order placement with
//	                validation, account updates, ping/pong
//
// Config (env vars):
//
//	FEEDSIM_ADDR      — listen address (default: ":8086")
//	FEEDSIM_BALANCE   — starting balance per session (default: "100000")
//	FEEDSIM_HOLDINGS  — starting RELIANCE quantity (default: "100")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tradeterm/internal/model"
)

const symbol = "RELIANCE"

// sim holds the shared simulated market state.
type sim struct {
	mu          sync.Mutex
	ltp         float64
	open        float64
	high        float64
	low         float64
	initialOpen float64
}

func newSim() *sim {
	return &sim{
		ltp:         2800.50,
		open:        2795.25,
		high:        2825.75,
		low:         2785.30,
		initialOpen: 2795.25,
	}
}

// step applies a bounded random walk and returns the tick for it.
func (s *sim) step() model.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()

	pct := (rand.Float64()*1.6 - 0.8) / 100.0
	s.ltp = round2(s.ltp * (1 + pct))
	if s.ltp > s.high {
		s.high = s.ltp
	}
	if s.ltp < s.low {
		s.low = s.ltp
	}

	change := round2(s.ltp - s.initialOpen)
	return model.Tick{
		Symbol:        symbol,
		LTP:           s.ltp,
		Open:          s.open,
		High:          s.ltp,
		Low:           s.ltp,
		Volume:        int64(rand.Intn(60000) + 20000),
		Change:        change,
		ChangePercent: round2(change / s.initialOpen * 100),
		Timestamp:     time.Now().UTC(),
	}
}

func (s *sim) price() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ltp
}

// seed builds a plausible tick history walking up to the current price.
func (s *sim) seed(count int) []model.Tick {
	price := s.price() - (15 + rand.Float64()*25)
	now := time.Now().UTC()
	ticks := make([]model.Tick, 0, count)
	for i := 0; i < count; i++ {
		price = round2(price * (1 + (rand.Float64()*1.0-0.45)/100.0))
		change := round2(price - s.initialOpen)
		ticks = append(ticks, model.Tick{
			Symbol:        symbol,
			LTP:           price,
			Open:          s.open,
			High:          price,
			Low:           price,
			Volume:        int64(rand.Intn(60000) + 20000),
			Change:        change,
			ChangePercent: round2(change / s.initialOpen * 100),
			Timestamp:     now.Add(-time.Duration(count-i) * 500 * time.Millisecond),
		})
	}
	return ticks
}

func (s *sim) orderBook() model.OrderBook {
	cur := s.price()
	book := model.OrderBook{Symbol: symbol, Timestamp: time.Now().UTC()}
	for i := 0; i < 5; i++ {
		spread := float64(i+1) * (0.25 + rand.Float64()*0.75)
		book.Bids = append(book.Bids, model.Level{
			Price:    round2(cur - spread),
			Quantity: int64(rand.Intn(1900) + 100),
			Orders:   rand.Intn(10) + 1,
		})
		book.Asks = append(book.Asks, model.Level{
			Price:    round2(cur + spread),
			Quantity: int64(rand.Intn(1900) + 100),
			Orders:   rand.Intn(10) + 1,
		})
	}
	return book
}

func (s *sim) publicTrade() model.TradeRecord {
	side := "BUY"
	if rand.Intn(2) == 1 {
		side = "SELL"
	}
	return model.TradeRecord{
		TradeID:   "T" + strconv.Itoa(rand.Intn(900000)+100000),
		Side:      side,
		Symbol:    symbol,
		Price:     round2(s.price() * (1 + (rand.Float64()-0.5)/100.0)),
		Quantity:  int64(rand.Intn(950) + 50),
		Timestamp: time.Now().UTC(),
	}
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// marketHandler drives one market-data subscriber.
func marketHandler(s *sim) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade error: %v", err)
			return
		}
		defer conn.Close()
		log.Printf("[feedsim] market client connected: %s", r.RemoteAddr)

		send := func(typ string, data any) error {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			return conn.WriteJSON(model.NewEnvelope(typ, data))
		}

		if err := send(model.TypeConnection, map[string]string{"status": "connected"}); err != nil {
			return
		}
		if err := send(model.TypeMarketDataStart, s.seed(250)); err != nil {
			return
		}

		// Reader drains client frames so close is noticed.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				log.Printf("[feedsim] market client disconnected: %s", r.RemoteAddr)
				return
			case <-time.After(time.Duration(300+rand.Intn(500)) * time.Millisecond):
			}
			if err := send(model.TypeMarketData, s.step()); err != nil {
				return
			}
			if err := send(model.TypeOrderBook, s.orderBook()); err != nil {
				return
			}
			if err := send(model.TypeTrade, s.publicTrade()); err != nil {
				return
			}
		}
	}
}

// account is the simulated per-session trading account.
type account struct {
	balance  float64
	holdings map[string]int64
}

// tradingHandler drives one trading session.
func tradingHandler(s *sim, startBalance float64, startHoldings int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade error: %v", err)
			return
		}
		defer conn.Close()
		log.Printf("[feedsim] trading client connected: %s", r.RemoteAddr)

		acct := &account{
			balance:  startBalance,
			holdings: map[string]int64{symbol: startHoldings},
		}

		send := func(typ string, data any) error {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			return conn.WriteJSON(model.NewEnvelope(typ, data))
		}

		if err := send(model.TypeConnectionAck, map[string]any{
			"status":  "connected",
			"balance": acct.balance,
		}); err != nil {
			return
		}

		for {
			var env model.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				log.Printf("[feedsim] trading client disconnected: %s", r.RemoteAddr)
				return
			}
			switch env.Type {
			case model.TypePing:
				if err := send(model.TypePong, nil); err != nil {
					return
				}
			case model.TypePlaceOrder:
				var order model.PlaceOrder
				if err := json.Unmarshal(env.Data, &order); err != nil {
					send(model.TypePlaceOrderError, model.ErrorData{Message: "Invalid order data"})
					continue
				}
				if err := handleOrder(s, acct, order, send); err != nil {
					return
				}
			default:
				send(model.TypeError, model.ErrorData{
					Message: "Unknown message type: " + env.Type,
				})
			}
		}
	}
}

// handleOrder validates, fills at the submitted price and pushes the
// resulting account state. Returns an error only on a dead socket.
func handleOrder(s *sim, acct *account, order model.PlaceOrder, send func(string, any) error) error {
	if order.Price <= 0 || order.Quantity <= 0 {
		return send(model.TypePlaceOrderError, model.ErrorData{
			Message: "Price and quantity must be positive",
		})
	}

	switch order.OrderType {
	case model.OrderBuy:
		cost := order.Price * float64(order.Quantity)
		if cost > acct.balance {
			return send(model.TypePlaceOrderError, model.ErrorData{
				Message: fmt.Sprintf("Insufficient balance. Required: %.2f", cost),
			})
		}
		acct.balance = round2(acct.balance - cost)
		acct.holdings[symbol] += order.Quantity
	case model.OrderSell:
		if order.Quantity > acct.holdings[symbol] {
			return send(model.TypePlaceOrderError, model.ErrorData{
				Message: "Insufficient holdings for sell order",
			})
		}
		acct.holdings[symbol] -= order.Quantity
		acct.balance = round2(acct.balance + order.Price*float64(order.Quantity))
	default:
		return send(model.TypePlaceOrderError, model.ErrorData{
			Message: "Order type must be buy or sell",
		})
	}

	orderID := uuid.NewString()
	if err := send(model.TypeOrderPlacedAck, model.OrderAck{
		OrderID: orderID,
		Message: "Order placed successfully",
	}); err != nil {
		return err
	}

	trade := model.TradeRecord{
		TradeID:     uuid.NewString(),
		Side:        string(order.OrderType),
		Symbol:      order.Symbol,
		Price:       order.Price,
		Quantity:    order.Quantity,
		TotalAmount: round2(order.Price * float64(order.Quantity)),
		Timestamp:   time.Now().UTC(),
	}
	if err := send(model.TypeTradeExecuted, trade); err != nil {
		return err
	}

	holdings := make([]model.Holding, 0, len(acct.holdings))
	for sym, qty := range acct.holdings {
		if qty > 0 {
			holdings = append(holdings, model.Holding{Symbol: sym, Quantity: qty})
		}
	}
	return send(model.TypeUserUpdate, model.UserUpdate{
		Balance:   acct.balance,
		Holdings:  holdings,
		Trade:     trade,
		Timestamp: time.Now().UTC(),
	})
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting exchange simulator...")

	addr := envOrDefault("FEEDSIM_ADDR", ":8086")
	balance := envFloatOrDefault("FEEDSIM_BALANCE", 100000)
	holdings := envIntOrDefault("FEEDSIM_HOLDINGS", 100)

	s := newSim()

	http.HandleFunc("/ws/fake/", marketHandler(s))
	http.HandleFunc("/ws/trading/", tradingHandler(s, balance, int64(holdings)))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
	})

	log.Printf("[feedsim] listening on %s  (market: ws://localhost%s/ws/fake/)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedsim] server error: %v", err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
