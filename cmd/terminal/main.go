package main

import (
	"bufio"
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tradeterm/config"
	"tradeterm/internal/feed"
	"tradeterm/internal/logger"
	"tradeterm/internal/metrics"
	"tradeterm/internal/model"
	"tradeterm/internal/orderfeed"
	"tradeterm/internal/publish"
	"tradeterm/internal/session"
	"tradeterm/internal/wsclient"
)

func main() {
	cfg := config.Load()

	slogger := logger.Init("tradeterm", logger.ParseLevel(cfg.LogLevel))
	slogger.Info("starting",
		"market_url", cfg.MarketWSURL,
		"order_url", cfg.OrderWSURL,
		"bucket", cfg.BucketSize)

	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Session (restored from disk, survives restarts) ----
	os.MkdirAll(filepath.Dir(cfg.SessionDBPath), 0o755)
	store, err := session.Open(cfg.SessionDBPath)
	if err != nil {
		log.Fatalf("[terminal] session store init failed: %v", err)
	}
	defer store.Close()

	sess := session.NewManager(store)
	if err := sess.Init(); err != nil {
		log.Fatalf("[terminal] session restore failed: %v", err)
	}
	if token := os.Getenv("JWT_TOKEN"); token != "" && !sess.Authenticated() {
		if err := sess.Login(token, envFloat("START_BALANCE", 100000), nil); err != nil {
			log.Fatalf("[terminal] login failed: %v", err)
		}
		slogger.Info("logged in from JWT_TOKEN")
	}
	health.SetSessionOK(sess.Authenticated())
	if cur := sess.Current(); cur != nil {
		slogger.Info("session active", "user_id", cur.UserID, "email", cur.Email)
	} else {
		slogger.Warn("no session, connecting anonymously")
	}

	// ---- Optional candle publisher ----
	var pub *publish.Publisher
	batchCh := make(chan publish.Batch, 256)
	if cfg.RedisAddr != "" {
		pub, err = publish.New(publish.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Log:      logger.For(slogger, "publish"),
		})
		if err != nil {
			slogger.Warn("redis unavailable, candle publishing disabled", "err", err)
		} else {
			defer pub.Close()
			pub.OnPublish = func(d time.Duration) { prom.PublishDur.Observe(d.Seconds()) }
			pub.OnError = func() { prom.PublishErrors.Inc() }
			go pub.Run(ctx, batchCh)
			health.StartLivenessChecker(ctx, pub.Client(), 10*time.Second)
		}
	}

	// ---- Market feed ----
	market := feed.New(feed.Config{
		URL:            cfg.MarketWSURL,
		Header:         sess.CookieHeader(),
		BucketSize:     cfg.BucketSize,
		CandleCount:    cfg.CandleCount,
		ReconnectDelay: cfg.ReconnectDelay,
		Log:            logger.For(slogger, "feed"),
	})
	market.OnTickIngested = func() {
		prom.TicksTotal.Inc()
		health.SetLastTickTime(time.Now())
	}
	market.OnReconnect = func() { prom.WSReconnects.Inc() }
	market.OnFrameError = func() { prom.FrameErrors.Inc() }
	market.OnBufferEvict = func() { prom.BufferEvicted.Inc() }
	market.OnStateChange = func(s wsclient.ConnState) {
		health.SetMarketConnected(s == wsclient.StateOpen)
		slogger.Info("market feed state", "state", s.String())
	}
	market.OnCandles = func(candles []model.Candle) {
		prom.CandleBuilds.Inc()
		if pub == nil {
			return
		}
		select {
		case batchCh <- publish.Batch{Size: market.BucketSize(), Candles: candles}:
		default:
		}
	}
	market.OnOrderBook = func(book model.OrderBook) {
		slogger.Debug("orderbook", "symbol", book.Symbol,
			"bids", len(book.Bids), "asks", len(book.Asks))
	}

	// ---- Order feed ----
	orders := orderfeed.New(orderfeed.Config{
		URL:     cfg.OrderWSURL,
		Header:  sess.CookieHeader(),
		Account: sess,
		Log:     logger.For(slogger, "orderfeed"),
	})
	orders.OnConnectionAck = func() { slogger.Info("trading session acknowledged") }
	orders.OnOrderAck = func(ack model.OrderAck) {
		slogger.Info("order placed", "order_id", ack.OrderID, "message", ack.Message)
	}
	orders.OnUserUpdate = func(u model.UserUpdate) {
		if err := sess.ApplyUserUpdate(u); err != nil {
			slogger.Warn("user update not applied", "err", err)
			return
		}
		slogger.Info("account updated",
			"balance", u.Balance,
			"trade_id", u.Trade.TradeID, "side", u.Trade.Side)
	}
	orders.OnOrderError = func(msg string) {
		prom.OrderRejects.WithLabelValues("server").Inc()
		slogger.Warn("order rejected", "message", msg)
	}
	orders.OnTradeExecuted = func() { slogger.Debug("trade executed on book") }
	orders.OnStateChange = func(s wsclient.ConnState) {
		health.SetOrderConnected(s == wsclient.StateOpen)
		slogger.Info("order feed state", "state", s.String())
	}

	market.Connect()
	orders.Connect()

	// ---- Visibility control via signals ----
	// SIGUSR1 pauses aggregation (view hidden), SIGUSR2 resumes it.
	visCh := make(chan os.Signal, 1)
	signal.Notify(visCh, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-visCh:
				switch sig {
				case syscall.SIGUSR1:
					market.Pause()
					slogger.Info("view hidden, buffering ticks")
				case syscall.SIGUSR2:
					market.Resume()
					slogger.Info("view visible, buffer merged")
				}
			}
		}
	}()

	// ---- Interactive commands on stdin ----
	go commandLoop(ctx, slogger, market, orders, prom)

	// ---- Periodic render + gauge refresh ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.BufferedTicks.Set(float64(market.Buffered()))
				prom.WindowLen.Set(float64(market.WindowLen()))
				prom.SendQueueLen.WithLabelValues("market").Set(float64(market.QueueLen()))
				prom.SendQueueLen.WithLabelValues("order").Set(float64(orders.QueueLen()))

				candles := market.Candles()
				if len(candles) == 0 {
					continue
				}
				last := candles[len(candles)-1]
				slogger.Info("chart",
					"bucket", market.BucketSize(),
					"candles", len(candles),
					"symbol", last.Symbol,
					"open", last.Open, "close", last.LTP,
					"high", last.High, "low", last.Low,
					"volume", last.Volume)
			}
		}
	}()

	<-sigCh
	slogger.Info("shutting down")

	orders.Close()
	market.Close()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	slogger.Info("bye")
}

// commandLoop reads line commands from stdin:
//
//	buy <symbol> <price> <qty>
//	sell <symbol> <price> <qty>
//	bucket <size>    (5s 30s 1m 2m 5m 15m 30m 1h)
//	pause | resume | status
func commandLoop(ctx context.Context, slogger *slog.Logger, market *feed.Controller, orders *orderfeed.Client, prom *metrics.Metrics) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "buy", "sell":
			if len(fields) != 4 {
				slogger.Warn("usage: buy|sell <symbol> <price> <qty>")
				continue
			}
			price, err1 := strconv.ParseFloat(fields[2], 64)
			qty, err2 := strconv.ParseInt(fields[3], 10, 64)
			if err1 != nil || err2 != nil {
				slogger.Warn("bad price or quantity", "price", fields[2], "qty", fields[3])
				continue
			}
			side := model.OrderBuy
			if fields[0] == "sell" {
				side = model.OrderSell
			}
			err := orders.PlaceOrder(model.PlaceOrder{
				OrderType: side,
				Symbol:    fields[1],
				Price:     price,
				Quantity:  qty,
			})
			if err != nil {
				prom.OrderRejects.WithLabelValues("local").Inc()
				slogger.Warn("order not sent", "err", err)
				continue
			}
			prom.OrdersPlaced.WithLabelValues(string(side)).Inc()
		case "bucket":
			if len(fields) != 2 {
				slogger.Warn("usage: bucket <size>")
				continue
			}
			if err := market.SetBucketSize(model.BucketSize(fields[1])); err != nil {
				slogger.Warn("bucket not changed", "err", err)
				continue
			}
			slogger.Info("bucket changed", "bucket", fields[1])
		case "pause":
			market.Pause()
			slogger.Info("view hidden, buffering ticks")
		case "resume":
			market.Resume()
			slogger.Info("view visible, buffer merged")
		case "status":
			slogger.Info("status",
				"market", market.State().String(),
				"orders", orders.State().String(),
				"bucket", market.BucketSize(),
				"window", market.WindowLen(),
				"buffered", market.Buffered())
		default:
			slogger.Warn("unknown command", "cmd", fields[0])
		}
	}
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
