// File: internal/capture/outbox.go
// Author: momentics <momentics@gmail.com>

package capture

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/lwm2mux/api"
)

// Outboxes keeps a bounded FIFO of captured packets per instance identity,
// mirroring the notification registry. One mutex guards the whole table.
type Outboxes struct {
	mu    sync.Mutex
	boxes map[api.IdentityKey]*outbox
	max   int
}

type outbox struct {
	q     *queue.Queue
	limit int
}

// NewOutboxes creates an empty table. Packets are truncated to MaxPacketSize.
func NewOutboxes() *Outboxes {
	return &Outboxes{
		boxes: make(map[api.IdentityKey]*outbox),
		max:   MaxPacketSize,
	}
}

var defaultOutboxes = NewOutboxes()

// DefaultOutboxes returns the process-wide table written by the outbound hook.
func DefaultOutboxes() *Outboxes {
	return defaultOutboxes
}

// Open creates an empty outbox for id holding at most limit packets,
// replacing any existing one.
func (o *Outboxes) Open(id api.IdentityKey, limit int) {
	if limit < 1 {
		limit = 1
	}
	o.mu.Lock()
	o.boxes[id] = &outbox{q: queue.New(), limit: limit}
	o.mu.Unlock()
}

// Close drops the outbox of id and any packets left in it.
func (o *Outboxes) Close(id api.IdentityKey) {
	o.mu.Lock()
	delete(o.boxes, id)
	o.mu.Unlock()
}

// Push appends a copy of p (truncated) to the outbox of id. It reports whether
// an outbox exists and whether the oldest packet was evicted to make room.
func (o *Outboxes) Push(id api.IdentityKey, p []byte) (ok, evicted bool) {
	cp := make([]byte, min(len(p), o.max))
	copy(cp, p)

	o.mu.Lock()
	defer o.mu.Unlock()
	box, ok := o.boxes[id]
	if !ok {
		return false, false
	}
	if box.q.Length() >= box.limit {
		box.q.Remove()
		evicted = true
	}
	box.q.Add(cp)
	return true, evicted
}

// Pop removes the oldest packet of id.
func (o *Outboxes) Pop(id api.IdentityKey) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	box, ok := o.boxes[id]
	if !ok || box.q.Length() == 0 {
		return nil, false
	}
	return box.q.Remove().([]byte), true
}

// Pending returns the number of queued packets of id.
func (o *Outboxes) Pending(id api.IdentityKey) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if box, ok := o.boxes[id]; ok {
		return box.q.Length()
	}
	return 0
}

// Len returns the number of open outboxes.
func (o *Outboxes) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.boxes)
}
