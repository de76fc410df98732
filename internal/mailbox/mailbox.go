// Package mailbox
// Author: momentics <momentics@gmail.com>
//
// Unbounded or bounded FIFO hand-off between producers that must never block
// (engine callbacks running on foreign threads) and a single owner that waits.

package mailbox

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/lwm2mux/api"
)

// ErrClosed is returned by Push and Pop once the mailbox is closed and drained.
var ErrClosed = errors.New("mailbox closed")

// Mailbox is a FIFO of T guarded by one mutex. Push never blocks; Pop suspends
// the caller until an item, Close, or context cancellation.
type Mailbox[T any] struct {
	mu     sync.Mutex
	q      *queue.Queue
	limit  int
	closed bool
	signal chan struct{} // capacity 1, "queue may be non-empty"
	done   chan struct{}
}

// New creates a mailbox holding at most limit items; limit <= 0 means unbounded.
func New[T any](limit int) *Mailbox[T] {
	return &Mailbox[T]{
		q:      queue.New(),
		limit:  limit,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v. It returns api.ErrMailboxFull when the limit is reached and
// ErrClosed after Close.
func (m *Mailbox[T]) Push(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.limit > 0 && m.q.Length() >= m.limit {
		m.mu.Unlock()
		return api.ErrMailboxFull
	}
	m.q.Add(v)
	m.mu.Unlock()
	m.notify()
	return nil
}

// Pop removes the oldest item, waiting for one if necessary.
// Items pushed before Close are still returned; afterwards Pop returns ErrClosed.
func (m *Mailbox[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok, closed := m.take(); ok {
			return v, nil
		} else if closed {
			return v, ErrClosed
		}
		select {
		case <-m.signal:
		case <-m.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop removes the oldest item without waiting.
func (m *Mailbox[T]) TryPop() (T, bool) {
	v, ok, _ := m.take()
	return v, ok
}

func (m *Mailbox[T]) take() (v T, ok bool, closed bool) {
	m.mu.Lock()
	if m.q.Length() == 0 {
		closed = m.closed
		m.mu.Unlock()
		return v, false, closed
	}
	v = m.q.Remove().(T)
	more := m.q.Length() > 0
	m.mu.Unlock()
	if more {
		// pass the wakeup on to any other waiter
		m.notify()
	}
	return v, true, false
}

func (m *Mailbox[T]) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Len reports the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}

// Close rejects further pushes and wakes all waiters. It is idempotent.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

// Closed reports whether Close was called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
