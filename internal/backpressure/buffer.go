// Package backpressure provides a bounded FIFO tick buffer.
//
// While the consuming view is paused (not visible), re-aggregating and
// re-rendering on every tick is wasted work. Incoming ticks accumulate
// here instead, bounded so a long pause cannot grow memory without
// limit; on resume the buffer is flushed in arrival order and merged
// back into the live window.
package backpressure

import (
	"sync"

	"tradeterm/internal/model"
)

// Buffer is a fixed-capacity circular tick buffer. Pushing beyond
// capacity evicts the oldest entries. Thread-safe.
type Buffer struct {
	mu   sync.Mutex
	buf  []model.Tick
	cap  int
	pos  int // next write position
	full bool

	// OnEvict is called once per tick displaced by an over-capacity
	// push. Optional, set before use.
	OnEvict func()
}

// New creates a buffer with the given capacity. Non-positive
// capacities fall back to 1.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		buf: make([]model.Tick, capacity),
		cap: capacity,
	}
}

// Push appends a tick, evicting the oldest entry when full.
func (b *Buffer) Push(t model.Tick) {
	b.mu.Lock()
	evict := b.full
	b.buf[b.pos] = t
	b.pos = (b.pos + 1) % b.cap
	if b.pos == 0 && !b.full {
		b.full = true
	}
	b.mu.Unlock()

	if evict && b.OnEvict != nil {
		b.OnEvict()
	}
}

// Flush returns all buffered ticks in original arrival order and leaves
// the buffer empty. Returns nil when nothing is buffered.
func (b *Buffer) Flush() []model.Tick {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.lenLocked()
	if n == 0 {
		return nil
	}
	out := make([]model.Tick, n)
	if b.full {
		copied := copy(out, b.buf[b.pos:])
		copy(out[copied:], b.buf[:b.pos])
	} else {
		copy(out, b.buf[:b.pos])
	}

	b.pos = 0
	b.full = false
	return out
}

// Len returns the number of buffered ticks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lenLocked()
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cap
}

// SetCap resizes the buffer, keeping the newest ticks when shrinking.
// Used when the bucket size (and therefore the window capacity) changes.
func (b *Buffer) SetCap(capacity int) {
	if capacity <= 0 {
		capacity = 1
	}

	b.mu.Lock()
	n := b.lenLocked()
	kept := make([]model.Tick, 0, n)
	if b.full {
		kept = append(kept, b.buf[b.pos:]...)
		kept = append(kept, b.buf[:b.pos]...)
	} else {
		kept = append(kept, b.buf[:b.pos]...)
	}
	if len(kept) > capacity {
		kept = kept[len(kept)-capacity:]
	}

	b.buf = make([]model.Tick, capacity)
	b.cap = capacity
	b.pos = copy(b.buf, kept)
	b.full = b.pos == capacity
	if b.full {
		b.pos = 0
	}
	b.mu.Unlock()
}

func (b *Buffer) lenLocked() int {
	if b.full {
		return b.cap
	}
	return b.pos
}
