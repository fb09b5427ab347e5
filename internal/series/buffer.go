// Package series holds the bounded sliding window of chart points shown
// while a session runs.
package series

import (
	"sync"

	"github.com/thruflo/clave/internal/cycle"
)

// DefaultCapacity is the number of points kept for the live chart.
const DefaultCapacity = 60

// Buffer is a fixed-capacity ring of chart points. Once full, each push
// evicts the oldest point. It is safe for concurrent use.
type Buffer struct {
	mu     sync.RWMutex
	points []cycle.ChartPoint
	start  int
	size   int
}

// New creates a Buffer. A non-positive capacity uses DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{points: make([]cycle.ChartPoint, capacity)}
}

// Push appends a point, evicting the oldest when full. Points with no
// pressure and no temperature are rejected and Push returns false.
func (b *Buffer) Push(p cycle.ChartPoint) bool {
	if p.Empty() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.points)
	if b.size < capacity {
		b.points[(b.start+b.size)%capacity] = p
		b.size++
		return true
	}
	b.points[b.start] = p
	b.start = (b.start + 1) % capacity
	return true
}

// Points returns a copy of the buffered points, oldest first.
func (b *Buffer) Points() []cycle.ChartPoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]cycle.ChartPoint, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.points[(b.start+i)%len(b.points)]
	}
	return out
}

// Last returns the most recent point.
func (b *Buffer) Last() (cycle.ChartPoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return cycle.ChartPoint{}, false
	}
	return b.points[(b.start+b.size-1)%len(b.points)], true
}

// Len returns the number of buffered points.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.points)
}

// Reset discards all points.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start = 0
	b.size = 0
}
