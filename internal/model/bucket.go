package model

import (
	"fmt"
	"time"
)

// BucketSize is the fixed duration used to group ticks into candles.
// Only the enumerated values are valid; each maps to an exact
// millisecond count.
type BucketSize string

const (
	Bucket5s  BucketSize = "5s"
	Bucket30s BucketSize = "30s"
	Bucket1m  BucketSize = "1m"
	Bucket2m  BucketSize = "2m"
	Bucket5m  BucketSize = "5m"
	Bucket15m BucketSize = "15m"
	Bucket30m BucketSize = "30m"
	Bucket1h  BucketSize = "1h"
)

var bucketSizeMs = map[BucketSize]int64{
	Bucket5s:  5 * 1000,
	Bucket30s: 30 * 1000,
	Bucket1m:  60 * 1000,
	Bucket2m:  2 * 60 * 1000,
	Bucket5m:  5 * 60 * 1000,
	Bucket15m: 15 * 60 * 1000,
	Bucket30m: 30 * 60 * 1000,
	Bucket1h:  60 * 60 * 1000,
}

// BucketSizes returns all valid bucket sizes in ascending duration order.
func BucketSizes() []BucketSize {
	return []BucketSize{
		Bucket5s, Bucket30s, Bucket1m, Bucket2m,
		Bucket5m, Bucket15m, Bucket30m, Bucket1h,
	}
}

// ParseBucketSize validates s against the enumerated set.
func ParseBucketSize(s string) (BucketSize, error) {
	b := BucketSize(s)
	if _, ok := bucketSizeMs[b]; !ok {
		return "", fmt.Errorf("invalid bucket size %q", s)
	}
	return b, nil
}

// Ms returns the exact bucket duration in milliseconds. Panics on an
// unenumerated value; construct via ParseBucketSize or the constants.
func (b BucketSize) Ms() int64 {
	ms, ok := bucketSizeMs[b]
	if !ok {
		panic("model: unknown bucket size " + string(b))
	}
	return ms
}

// Duration returns the bucket duration as a time.Duration.
func (b BucketSize) Duration() time.Duration {
	return time.Duration(b.Ms()) * time.Millisecond
}

// BucketStart aligns ts down to the start of its bucket.
func (b BucketSize) BucketStart(ts time.Time) time.Time {
	ms := b.Ms()
	aligned := ts.UnixMilli() / ms * ms
	return time.UnixMilli(aligned).UTC()
}
