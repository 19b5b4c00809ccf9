// Package publish streams freshly aggregated candles to Redis PubSub so
// other local tools (chart overlays, alerting scripts) can follow the
// terminal's view of the market without their own feed connection.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tradeterm/internal/model"
)

// Config configures the candle publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	Log *slog.Logger
}

// Publisher writes candle snapshots to Redis PubSub channels.
type Publisher struct {
	client *goredis.Client
	log    *slog.Logger

	// Metric hooks, optional.
	OnPublish func(d time.Duration)
	OnError   func()
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("redis connected", "addr", cfg.Addr)
	return &Publisher{client: client, log: log}, nil
}

// Batch is one rebuild of the candle series at a given bucket size.
type Batch struct {
	Size    model.BucketSize
	Candles []model.Candle
}

// Run reads candle batches from batchCh and publishes the newest candle
// of each batch. Blocks until ctx is cancelled or batchCh is closed.
func (p *Publisher) Run(ctx context.Context, batchCh <-chan Batch) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-batchCh:
			if !ok {
				return
			}
			if len(b.Candles) == 0 {
				continue
			}
			p.publishCandle(ctx, b.Size, b.Candles[len(b.Candles)-1])
		}
	}
}

// Channel returns the PubSub channel name for a symbol's candles at size.
func Channel(size model.BucketSize, symbol string) string {
	return "pub:candle:" + string(size) + ":" + symbol
}

func (p *Publisher) publishCandle(ctx context.Context, size model.BucketSize, c model.Candle) {
	ch := Channel(size, c.Symbol)
	start := time.Now()
	err := p.client.Publish(ctx, ch, c.JSON()).Err()
	if p.OnPublish != nil {
		p.OnPublish(time.Since(start))
	}
	if err != nil {
		if p.OnError != nil {
			p.OnError()
		}
		p.log.Warn("candle publish failed", "channel", ch, "err", err)
	}
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
