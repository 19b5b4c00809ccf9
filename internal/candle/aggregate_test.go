package candle

import (
	"math"
	"reflect"
	"testing"
	"time"

	"tradeterm/internal/model"
)

// makeTick creates a test tick at base + offset with the given LTP.
func makeTick(base time.Time, offset time.Duration, ltp float64, volume int64) model.Tick {
	return model.Tick{
		Symbol:    "RELIANCE",
		LTP:       ltp,
		Volume:    volume,
		Timestamp: base.Add(offset),
	}
}

// base is aligned to the hour so every enumerated bucket size divides it.
var base = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func TestAggregate_SingleBucket(t *testing.T) {
	// Three ticks at t=0,2,4s with ltp 100,105,98 in a 5s bucket.
	ticks := []model.Tick{
		makeTick(base, 0, 100, 10),
		makeTick(base, 2*time.Second, 105, 20),
		makeTick(base, 4*time.Second, 98, 30),
	}

	candles := Aggregate(ticks, model.Bucket5s)
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}

	c := candles[0]
	if c.Open != 100 {
		t.Errorf("open = %v, want 100", c.Open)
	}
	if c.LTP != 98 {
		t.Errorf("close (ltp) = %v, want 98", c.LTP)
	}
	if c.High != 105 {
		t.Errorf("high = %v, want 105", c.High)
	}
	if c.Low != 98 {
		t.Errorf("low = %v, want 98", c.Low)
	}
	if c.Volume != 60 {
		t.Errorf("volume = %v, want 60", c.Volume)
	}
	if c.Change != -2 {
		t.Errorf("change = %v, want -2", c.Change)
	}
	if c.ChangePercent != -2.0 {
		t.Errorf("change_percent = %v, want -2.0", c.ChangePercent)
	}
	if !c.BucketTime.Equal(base) {
		t.Errorf("bucketTime = %v, want %v", c.BucketTime, base)
	}
	if want := model.DatumKey(base, model.Bucket5s); c.DatumKey != want {
		t.Errorf("datumKey = %q, want %q", c.DatumKey, want)
	}
}

func TestAggregate_OutOfOrderTicksWithinBucket(t *testing.T) {
	// Delivery order scrambled; open/close follow timestamps, not arrival.
	ticks := []model.Tick{
		makeTick(base, 4*time.Second, 98, 0),
		makeTick(base, 0, 100, 0),
		makeTick(base, 2*time.Second, 105, 0),
	}

	candles := Aggregate(ticks, model.Bucket5s)
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}
	if candles[0].Open != 100 || candles[0].LTP != 98 {
		t.Errorf("open/close = %v/%v, want 100/98", candles[0].Open, candles[0].LTP)
	}
}

func TestAggregate_MultipleBucketsSortedAscending(t *testing.T) {
	// Ticks spread over four 5s buckets, fed in reverse.
	var ticks []model.Tick
	for i := 3; i >= 0; i-- {
		ticks = append(ticks, makeTick(base, time.Duration(i*5)*time.Second, float64(100+i), 1))
	}

	candles := Aggregate(ticks, model.Bucket5s)
	if len(candles) != 4 {
		t.Fatalf("got %d candles, want 4", len(candles))
	}

	seen := make(map[string]bool)
	for i, c := range candles {
		if i > 0 && !candles[i-1].BucketTime.Before(c.BucketTime) {
			t.Errorf("candles not strictly ascending at %d: %v >= %v",
				i, candles[i-1].BucketTime, c.BucketTime)
		}
		if seen[c.DatumKey] {
			t.Errorf("duplicate bucket key %q", c.DatumKey)
		}
		seen[c.DatumKey] = true
	}
}

func TestAggregate_SingleTickBucket(t *testing.T) {
	candles := Aggregate([]model.Tick{makeTick(base, time.Second, 250.5, 7)}, model.Bucket30s)
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}
	c := candles[0]
	if c.Open != 250.5 || c.High != 250.5 || c.Low != 250.5 || c.LTP != 250.5 {
		t.Errorf("single-tick OHLC = %v/%v/%v/%v, want all 250.5", c.Open, c.High, c.Low, c.LTP)
	}
	if c.Change != 0 || c.ChangePercent != 0 {
		t.Errorf("change = %v (%v%%), want 0", c.Change, c.ChangePercent)
	}
}

func TestAggregate_Empty(t *testing.T) {
	if got := Aggregate(nil, model.Bucket1m); len(got) != 0 {
		t.Errorf("Aggregate(nil) = %d candles, want 0", len(got))
	}
	if got := Aggregate([]model.Tick{}, model.Bucket1m); len(got) != 0 {
		t.Errorf("Aggregate([]) = %d candles, want 0", len(got))
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	ticks := []model.Tick{
		makeTick(base, 0, 100, 1),
		makeTick(base, 3*time.Second, 101, 2),
		makeTick(base, 31*time.Second, 99, 3),
	}
	first := Aggregate(ticks, model.Bucket30s)
	second := Aggregate(ticks, model.Bucket30s)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated aggregation differs:\n%+v\n%+v", first, second)
	}
}

func TestAggregate_RebucketingDoesNotMutateTicks(t *testing.T) {
	ticks := []model.Tick{
		makeTick(base, 0, 100, 1),
		makeTick(base, 7*time.Second, 105, 1),
		makeTick(base, 40*time.Second, 95, 1),
	}
	orig := make([]model.Tick, len(ticks))
	copy(orig, ticks)

	if got := Aggregate(ticks, model.Bucket5s); len(got) != 3 {
		t.Errorf("5s buckets = %d, want 3", len(got))
	}
	if got := Aggregate(ticks, model.Bucket1m); len(got) != 1 {
		t.Errorf("1m buckets = %d, want 1", len(got))
	}
	if !reflect.DeepEqual(ticks, orig) {
		t.Error("aggregation mutated the input tick window")
	}
}

func TestAggregate_ZeroOpenEdgeCase(t *testing.T) {
	candles := Aggregate([]model.Tick{
		makeTick(base, 0, 0, 1),
		makeTick(base, time.Second, 5, 1),
	}, model.Bucket5s)
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}
	// open == 0 leaves change_percent undefined; callers must guard.
	if !math.IsInf(candles[0].ChangePercent, 1) {
		t.Errorf("change_percent = %v, want +Inf for zero open", candles[0].ChangePercent)
	}
}

func TestBucketSize_Mapping(t *testing.T) {
	want := map[model.BucketSize]int64{
		model.Bucket5s:  5_000,
		model.Bucket30s: 30_000,
		model.Bucket1m:  60_000,
		model.Bucket2m:  120_000,
		model.Bucket5m:  300_000,
		model.Bucket15m: 900_000,
		model.Bucket30m: 1_800_000,
		model.Bucket1h:  3_600_000,
	}
	for _, b := range model.BucketSizes() {
		if got := b.Ms(); got != want[b] {
			t.Errorf("%s.Ms() = %d, want %d", b, got, want[b])
		}
	}

	if _, err := model.ParseBucketSize("7s"); err == nil {
		t.Error("ParseBucketSize(7s) accepted an unenumerated size")
	}
	if b, err := model.ParseBucketSize("15m"); err != nil || b != model.Bucket15m {
		t.Errorf("ParseBucketSize(15m) = %v, %v", b, err)
	}
}
