// Package capture
// Author: momentics <momentics@gmail.com>
//
// Storage for bytes the engine asks to send. Buffer is the process-wide single
// slot holding the most recent send; Outboxes keeps a bounded FIFO per instance
// for callers that need every packet.

package capture

import "sync"

// MaxPacketSize bounds every captured packet.
const MaxPacketSize = 2048

// Buffer holds the most recent send, truncated to its maximum size.
// It is overwritten on every Capture, never appended.
type Buffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

// NewBuffer creates an empty buffer; max <= 0 selects MaxPacketSize.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = MaxPacketSize
	}
	return &Buffer{max: max, buf: make([]byte, 0, max)}
}

var defaultBuffer = NewBuffer(MaxPacketSize)

// Default returns the process-wide buffer written by the outbound hook.
func Default() *Buffer {
	return defaultBuffer
}

// Capture replaces the contents with p, truncated to the maximum size.
// It returns the number of bytes kept.
func (b *Buffer) Capture(p []byte) int {
	n := min(len(p), b.max)
	b.mu.Lock()
	b.buf = append(b.buf[:0], p[:n]...)
	b.mu.Unlock()
	return n
}

// Snapshot returns a copy of the current contents.
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Len returns the size of the current contents.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Max returns the truncation limit.
func (b *Buffer) Max() int { return b.max }

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.buf = b.buf[:0]
	b.mu.Unlock()
}
