// Package window holds the fixed-capacity sliding window of motion samples
// the feature extractor runs over.
package window

import (
	"sync"

	"github.com/relabs-tech/activity_tracker/internal/imu"
)

// DefaultCapacity is the window length used when none is configured.
const DefaultCapacity = 100

// Buffer is a thread-safe FIFO ring of the most recent samples. Once the
// buffer holds Cap() samples every Push silently evicts the oldest one.
type Buffer struct {
	mu    sync.Mutex
	data  []imu.Sample
	start int // index of the oldest sample
	size  int
}

// New creates a buffer holding at most capacity samples. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{data: make([]imu.Sample, capacity)}
}

// Push appends s, evicting the oldest sample when the buffer is full.
func (b *Buffer) Push(s imu.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.data)
	if b.size < capacity {
		b.data[(b.start+b.size)%capacity] = s
		b.size++
		return
	}

	b.data[b.start] = s
	b.start = (b.start + 1) % capacity
}

// IsFull returns true once the buffer holds Cap() samples.
func (b *Buffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size == len(b.data)
}

// Len returns the number of samples currently held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Snapshot returns a copy of the window, oldest sample first. The copy is
// owned by the caller and is unaffected by later pushes.
func (b *Buffer) Snapshot() []imu.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]imu.Sample, b.size)
	capacity := len(b.data)
	n := copy(out, b.data[b.start:min(b.start+b.size, capacity)])
	copy(out[n:], b.data[:b.size-n])
	return out
}

// Latest returns the newest sample, or false when the buffer is empty.
func (b *Buffer) Latest() (imu.Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return imu.Sample{}, false
	}
	return b.data[(b.start+b.size-1)%len(b.data)], true
}

// Reset removes all samples.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start = 0
	b.size = 0
}
