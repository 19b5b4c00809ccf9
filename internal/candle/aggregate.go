// Package candle derives OHLCV candles from raw ticks.
//
// Aggregation is a pure function over a tick window: ticks are bucketed
// by floor-aligned timestamp, each bucket is reduced to one candle, and
// the result is a fresh ascending sequence. Changing the bucket size
// means re-running aggregation over the full window, not patching.
package candle

import (
	"sort"
	"time"

	"tradeterm/internal/model"
)

// Aggregate buckets ticks by bucketSize and reduces each bucket to one
// candle. Within a bucket ticks are ordered by timestamp: open is the
// first LTP, close the last (stored as the candle's LTP), high/low are
// the max/min observed LTP, not the ticks' own high/low fields (those
// describe the trading day). Volume is the sum over the bucket.
//
// Output is sorted ascending by bucket time with no duplicate bucket
// keys. Empty input yields an empty (nil) result. When a bucket opens
// at price zero, change_percent is the IEEE quotient; callers guard.
func Aggregate(ticks []model.Tick, bucketSize model.BucketSize) []model.Candle {
	if len(ticks) == 0 {
		return nil
	}

	bucketMs := bucketSize.Ms()
	buckets := make(map[int64][]model.Tick)
	for _, t := range ticks {
		start := t.Timestamp.UnixMilli() / bucketMs * bucketMs
		buckets[start] = append(buckets[start], t)
	}

	candles := make([]model.Candle, 0, len(buckets))
	for start, group := range buckets {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		first, last := group[0], group[len(group)-1]
		open, close_ := first.LTP, last.LTP
		high, low := first.LTP, first.LTP
		var volume int64
		for _, t := range group {
			if t.LTP > high {
				high = t.LTP
			}
			if t.LTP < low {
				low = t.LTP
			}
			volume += t.Volume
		}

		change := close_ - open
		bucketTime := time.UnixMilli(start).UTC()

		candles = append(candles, model.Candle{
			Tick: model.Tick{
				Symbol:        first.Symbol,
				LTP:           close_,
				Open:          open,
				High:          high,
				Low:           low,
				Volume:        volume,
				Change:        change,
				ChangePercent: change / open * 100,
				Timestamp:     last.Timestamp,
			},
			BucketTime: bucketTime,
			DatumKey:   model.DatumKey(bucketTime, bucketSize),
		})
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].BucketTime.Before(candles[j].BucketTime)
	})
	return candles
}
