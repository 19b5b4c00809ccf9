package feed

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"tradeterm/internal/model"
)

var base = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

// frame builds a market-feed envelope as raw JSON.
func frame(t *testing.T, typ string, data interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(model.NewEnvelope(typ, data))
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return raw
}

func tickAt(offset time.Duration, ltp float64) model.Tick {
	return model.Tick{
		Symbol:    "RELIANCE",
		LTP:       ltp,
		Volume:    10,
		Timestamp: base.Add(offset),
	}
}

// newController builds a controller that is never connected; frames are
// injected straight into the dispatch path.
func newController(cfg Config) *Controller {
	if cfg.URL == "" {
		cfg.URL = "ws://localhost:0/ws/fake/"
	}
	return New(cfg)
}

func TestController_TicksProduceCandles(t *testing.T) {
	c := newController(Config{BucketSize: model.Bucket5s})

	var lastUpdate []model.Candle
	c.OnCandles = func(candles []model.Candle) { lastUpdate = candles }

	c.handleMessage(frame(t, model.TypeMarketData, tickAt(0, 100)))
	c.handleMessage(frame(t, model.TypeMarketData, tickAt(2*time.Second, 105)))
	c.handleMessage(frame(t, model.TypeMarketData, tickAt(4*time.Second, 98)))

	candles := c.Candles()
	if len(candles) != 1 {
		t.Fatalf("Candles() len = %d, want 1", len(candles))
	}
	if candles[0].Open != 100 || candles[0].LTP != 98 || candles[0].High != 105 || candles[0].Low != 98 {
		t.Errorf("OHLC = %v/%v/%v/%v, want 100/105/98/98",
			candles[0].Open, candles[0].High, candles[0].Low, candles[0].LTP)
	}
	if len(lastUpdate) != 1 {
		t.Errorf("OnCandles last update len = %d, want 1", len(lastUpdate))
	}
}

func TestController_SeedReplacesWindow(t *testing.T) {
	c := newController(Config{BucketSize: model.Bucket5s})

	c.handleMessage(frame(t, model.TypeMarketData, tickAt(0, 50)))

	seed := []model.Tick{
		tickAt(10*time.Second, 200),
		tickAt(12*time.Second, 201),
		tickAt(16*time.Second, 202),
	}
	c.handleMessage(frame(t, model.TypeMarketDataStart, seed))

	if got := c.WindowLen(); got != 3 {
		t.Fatalf("WindowLen() = %d, want 3 (seed replaces, not appends)", got)
	}
	candles := c.Candles()
	if len(candles) != 2 {
		t.Fatalf("Candles() len = %d, want 2", len(candles))
	}
	if candles[0].Open != 200 {
		t.Errorf("first candle open = %v, want 200 (pre-seed tick must be gone)", candles[0].Open)
	}
}

func TestController_PauseBuffersAndResumeMerges(t *testing.T) {
	c := newController(Config{BucketSize: model.Bucket5s})

	updates := 0
	c.OnCandles = func([]model.Candle) { updates++ }

	c.handleMessage(frame(t, model.TypeMarketData, tickAt(0, 100)))
	if updates != 1 {
		t.Fatalf("updates = %d, want 1", updates)
	}

	c.Pause()
	c.handleMessage(frame(t, model.TypeMarketData, tickAt(1*time.Second, 101)))
	c.handleMessage(frame(t, model.TypeMarketData, tickAt(2*time.Second, 102)))
	if updates != 1 {
		t.Errorf("updates while paused = %d, want 1 (no re-aggregation)", updates)
	}
	if got := c.Buffered(); got != 2 {
		t.Errorf("Buffered() = %d, want 2", got)
	}

	c.Resume()
	if got := c.Buffered(); got != 0 {
		t.Errorf("Buffered() after resume = %d, want 0", got)
	}
	if got := c.WindowLen(); got != 3 {
		t.Errorf("WindowLen() after resume = %d, want 3", got)
	}
	if updates != 2 {
		t.Errorf("updates after resume = %d, want 2 (one coalesced re-aggregation)", updates)
	}

	candles := c.Candles()
	if len(candles) != 1 {
		t.Fatalf("Candles() len = %d, want 1", len(candles))
	}
	if candles[0].LTP != 102 {
		t.Errorf("close = %v, want 102 (buffered ticks merged in order)", candles[0].LTP)
	}
}

func TestController_WindowNeverExceedsCapacity(t *testing.T) {
	// candleCount=1 at 5s buckets: cap = 5000/500*1 + 10 = 20.
	c := newController(Config{BucketSize: model.Bucket5s, CandleCount: 1})

	for i := 0; i < 100; i++ {
		c.handleMessage(frame(t, model.TypeMarketData, tickAt(time.Duration(i)*500*time.Millisecond, float64(100+i))))
		if got := c.WindowLen(); got > 20 {
			t.Fatalf("WindowLen() = %d after tick %d, want <= 20", got, i)
		}
	}

	// The newest ticks survive eviction.
	candles := c.Candles()
	if len(candles) != 1 {
		t.Fatalf("Candles() len = %d, want 1 (CandleCount)", len(candles))
	}
	if candles[0].LTP != 199 {
		t.Errorf("last close = %v, want 199", candles[0].LTP)
	}
}

func TestController_SetBucketSizeRebuckets(t *testing.T) {
	c := newController(Config{BucketSize: model.Bucket5s})

	for i := 0; i < 12; i++ {
		c.handleMessage(frame(t, model.TypeMarketData, tickAt(time.Duration(i*5)*time.Second, float64(100+i))))
	}
	if got := len(c.Candles()); got != 12 {
		t.Fatalf("5s candles = %d, want 12", got)
	}

	if err := c.SetBucketSize(model.Bucket1m); err != nil {
		t.Fatalf("SetBucketSize(1m): %v", err)
	}
	if got := c.BucketSize(); got != model.Bucket1m {
		t.Errorf("BucketSize() = %v, want 1m", got)
	}
	if got := len(c.Candles()); got != 1 {
		t.Errorf("1m candles = %d, want 1 (same ticks, coarser buckets)", got)
	}

	if err := c.SetBucketSize("7s"); err == nil {
		t.Error("SetBucketSize(7s) accepted an invalid size")
	}
}

func TestController_OrderBookRouting(t *testing.T) {
	c := newController(Config{})

	var got *model.OrderBook
	c.OnOrderBook = func(book model.OrderBook) { got = &book }

	book := model.OrderBook{
		Symbol:    "RELIANCE",
		Bids:      []model.Level{{Price: 2799.5, Quantity: 100, Orders: 3}},
		Asks:      []model.Level{{Price: 2800.5, Quantity: 150, Orders: 2}},
		Timestamp: base,
	}
	c.handleMessage(frame(t, model.TypeOrderBook, book))
	if got == nil {
		t.Fatal("order book not delivered while visible")
	}
	if got.Bids[0].Price != 2799.5 || got.Asks[0].Orders != 2 {
		t.Errorf("order book payload mangled: %+v", got)
	}

	got = nil
	c.Pause()
	c.handleMessage(frame(t, model.TypeOrderBook, book))
	if got != nil {
		t.Error("order book delivered while paused")
	}
}

func TestController_MalformedAndUnknownFramesDropped(t *testing.T) {
	c := newController(Config{})

	faults := 0
	c.OnFrameError = func() { faults++ }

	c.handleMessage(json.RawMessage(`{"type":"market_data","data":{"ltp":"not a number"}}`))
	c.handleMessage(json.RawMessage(`[1,2,3]`))
	c.handleMessage(frame(t, "mystery_tag", map[string]int{"x": 1}))
	c.handleMessage(frame(t, model.TypeTrade, model.TradeRecord{TradeID: "T1"}))

	if got := c.WindowLen(); got != 0 {
		t.Errorf("WindowLen() = %d, want 0 (bad frames must not ingest)", got)
	}
	if faults != 2 {
		t.Errorf("frame faults = %d, want 2 (unknown and trade tags are not faults)", faults)
	}
}

func TestController_CandlesReturnsCopy(t *testing.T) {
	c := newController(Config{})
	c.handleMessage(frame(t, model.TypeMarketData, tickAt(0, 100)))

	a := c.Candles()
	a[0].LTP = -1
	b := c.Candles()
	if b[0].LTP == -1 {
		t.Error("Candles() exposes internal state")
	}
}

func TestController_WindowCapPerBucketSize(t *testing.T) {
	for _, tc := range []struct {
		bucket model.BucketSize
		want   int
	}{
		{model.Bucket5s, 5000/sampleIntervalMs*DefaultCandleCount + windowMargin},
		{model.Bucket1m, 60000/sampleIntervalMs*DefaultCandleCount + windowMargin},
		{model.Bucket1h, 3600000/sampleIntervalMs*DefaultCandleCount + windowMargin},
	} {
		c := newController(Config{BucketSize: tc.bucket})
		if got := c.windowCap(); got != tc.want {
			t.Errorf("%s: windowCap() = %d, want %d", tc.bucket, got, tc.want)
		}
	}
}

func TestController_ZeroOpenGuard(t *testing.T) {
	c := newController(Config{BucketSize: model.Bucket5s})
	c.handleMessage(frame(t, model.TypeMarketData, tickAt(0, 0)))
	c.handleMessage(frame(t, model.TypeMarketData, tickAt(time.Second, 10)))

	candles := c.Candles()
	if len(candles) != 1 {
		t.Fatalf("Candles() len = %d, want 1", len(candles))
	}
	// The controller stores the raw aggregate; rendering layers guard
	// non-finite percentages. Just make sure nothing pretends it's 0.
	if candles[0].ChangePercent == 0 {
		t.Errorf("change_percent = 0 for zero open, want non-finite: %s",
			fmt.Sprint(candles[0].ChangePercent))
	}
}
