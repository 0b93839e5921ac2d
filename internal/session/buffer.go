package session

import "sync"

// DefaultBufferCapacity is the number of lines kept per session.
const DefaultBufferCapacity = 10000

// OutputBuffer is a fixed-capacity circular buffer of output lines.
// Once full, each append evicts the oldest line.
type OutputBuffer struct {
	mu       sync.RWMutex
	buf      []OutputLine
	capacity int
	pos      int // next write position
	count    int
}

// NewOutputBuffer creates a buffer holding at most capacity lines.
// A non-positive capacity falls back to DefaultBufferCapacity.
func NewOutputBuffer(capacity int) *OutputBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &OutputBuffer{
		buf:      make([]OutputLine, capacity),
		capacity: capacity,
	}
}

// Append adds a line, overwriting the oldest one when the buffer is full.
func (b *OutputBuffer) Append(line OutputLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf[b.pos] = line
	b.pos = (b.pos + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// Snapshot returns a copy of all buffered lines, oldest first.
func (b *OutputBuffer) Snapshot() []OutputLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]OutputLine, b.count)
	if b.count < b.capacity {
		copy(result, b.buf[:b.count])
		return result
	}

	n := copy(result, b.buf[b.pos:])
	copy(result[n:], b.buf[:b.pos])
	return result
}

// Len returns the number of buffered lines.
func (b *OutputBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *OutputBuffer) Cap() int {
	return b.capacity
}
