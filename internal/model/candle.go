package model

import (
	"encoding/json"
	"time"
)

// Candle is an OHLCV summary derived from the ticks inside one
// time-aligned bucket. It carries the same shape as a Tick (LTP holds
// the close) plus the bucket start instant and a key identifying the
// (bucketTime, bucketSize) pair. Candles are recomputed from the tick
// window, never mutated in place.
type Candle struct {
	Tick
	BucketTime time.Time `json:"bucketTime"`
	DatumKey   string    `json:"datumKey"`
}

// DatumKey returns the unique key for a (bucketTime, bucketSize) pair.
func DatumKey(bucketTime time.Time, size BucketSize) string {
	return "Candles-" + bucketTime.UTC().Format(time.RFC3339) + "-" + string(size)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
