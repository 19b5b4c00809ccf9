package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"tradeterm/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Feed endpoints
	MarketWSURL string
	OrderWSURL  string

	// Infrastructure
	MetricsAddr   string
	RedisAddr     string
	RedisPassword string
	SessionDBPath string

	// Aggregation
	BucketSize  model.BucketSize
	CandleCount int

	// Reconnect pacing for the market feed
	ReconnectDelay time.Duration

	LogLevel string
}

// Load reads configuration from the environment with sensible defaults.
// A .env file in the working directory is merged in first, if present.
func Load() *Config {
	// Missing .env is not an error; real env vars always win.
	_ = godotenv.Load()

	return &Config{
		MarketWSURL: mustEnv("MARKET_WS_URL"),
		OrderWSURL:  mustEnv("ORDER_WS_URL"),

		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SessionDBPath: getEnv("SESSION_DB_PATH", "data/session.db"),

		BucketSize:  bucketEnv("BUCKET_SIZE", model.Bucket5s),
		CandleCount: intEnv("CANDLE_COUNT", 50),

		ReconnectDelay: msEnv("RECONNECT_DELAY_MS", 2000),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] ignoring invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func msEnv(key string, fallbackMs int) time.Duration {
	return time.Duration(intEnv(key, fallbackMs)) * time.Millisecond
}

func bucketEnv(key string, fallback model.BucketSize) model.BucketSize {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	size, err := model.ParseBucketSize(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return size
}
