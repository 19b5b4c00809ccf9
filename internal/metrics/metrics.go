package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the terminal pipeline.
type Metrics struct {
	TicksTotal    prometheus.Counter
	FrameErrors   prometheus.Counter
	WSReconnects  prometheus.Counter
	CandleBuilds  prometheus.Counter
	BufferedTicks prometheus.Gauge
	BufferEvicted prometheus.Counter
	WindowLen     prometheus.Gauge
	SendQueueLen  *prometheus.GaugeVec   // labels: feed
	OrdersPlaced  *prometheus.CounterVec // labels: side
	OrderRejects  *prometheus.CounterVec // labels: reason
	PublishDur    prometheus.Histogram
	PublishErrors prometheus.Counter
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeterm_ticks_total",
			Help: "Total market data ticks ingested",
		}),
		FrameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeterm_frame_errors_total",
			Help: "Malformed or unparseable WebSocket frames dropped",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeterm_ws_reconnects_total",
			Help: "Market feed WebSocket reconnection attempts",
		}),
		CandleBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeterm_candle_builds_total",
			Help: "Full candle series rebuilds from the tick window",
		}),
		BufferedTicks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeterm_buffered_ticks",
			Help: "Ticks currently held in the backpressure buffer",
		}),
		BufferEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeterm_buffer_evicted_total",
			Help: "Oldest ticks displaced from the full backpressure buffer",
		}),
		WindowLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeterm_window_len",
			Help: "Current size of the rolling tick window",
		}),
		SendQueueLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradeterm_send_queue_len",
			Help: "Outbound messages queued while a socket is down",
		}, []string{"feed"}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeterm_orders_placed_total",
			Help: "Orders sent on the trading socket (by side)",
		}, []string{"side"}),
		OrderRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeterm_order_rejects_total",
			Help: "Orders rejected by local validation (by reason)",
		}, []string{"reason"}),
		PublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradeterm_publish_duration_seconds",
			Help:    "Redis candle publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeterm_publish_errors_total",
			Help: "Failed Redis candle publishes",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.FrameErrors,
		m.WSReconnects,
		m.CandleBuilds,
		m.BufferedTicks,
		m.BufferEvicted,
		m.WindowLen,
		m.SendQueueLen,
		m.OrdersPlaced,
		m.OrderRejects,
		m.PublishDur,
		m.PublishErrors,
	)

	return m
}

// HealthStatus represents the terminal's view of its dependencies.
type HealthStatus struct {
	mu sync.RWMutex

	MarketConnected bool
	OrderConnected  bool
	LastTickTime    time.Time
	RedisConnected  bool
	SessionOK       bool

	RedisLatencyMs float64
	LastCheckAt    time.Time
	StartedAt      time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetMarketConnected(v bool) {
	h.mu.Lock()
	h.MarketConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetOrderConnected(v bool) {
	h.mu.Lock()
	h.OrderConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSessionOK(v bool) {
	h.mu.Lock()
	h.SessionOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if rdb != nil {
					probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
					h.CheckRedis(probeCtx, rdb)
					cancel()
				}
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.MarketConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		MarketConnected bool    `json:"market_connected"`
		OrderConnected  bool    `json:"order_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		SessionOK       bool    `json:"session_ok"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		MarketConnected: h.MarketConnected,
		OrderConnected:  h.OrderConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		SessionOK:       h.SessionOK,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
