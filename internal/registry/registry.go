// Package registry
// Author: momentics <momentics@gmail.com>
//
// Process-wide map from instance identity to notification mailbox. The engine's
// monitoring hook is a single global function; this table fans its calls back
// out to the instance that owns the originating handle.

package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/momentics/lwm2mux/api"
	"github.com/momentics/lwm2mux/control"
	"github.com/momentics/lwm2mux/internal/mailbox"
)

// Mailbox is the per-instance delivery queue stored in the registry.
type Mailbox = mailbox.Mailbox[api.Notification]

// Registry maps identities to mailboxes. One mutex covers reads and writes; the
// critical section is a map access plus a non-blocking push.
type Registry struct {
	mu      sync.Mutex
	entries map[api.IdentityKey]*Mailbox

	logger        *zap.Logger
	metrics       atomic.Pointer[control.Metrics]
	orphanLimiter atomic.Pointer[rate.Limiter]
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the logger. By default the global zap logger is used at call time.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithMetrics sets the instruments.
func WithMetrics(m *control.Metrics) Option {
	return func(r *Registry) {
		r.metrics.Store(m)
	}
}

// WithOrphanLogRate limits "unknown identity" error logs to perSecond, with a burst of the same size.
func WithOrphanLogRate(perSecond float64) Option {
	return func(r *Registry) {
		r.SetOrphanLogRate(perSecond)
	}
}

// SetOrphanLogRate replaces the orphan log limiter when perSecond differs from
// the current rate. The new limiter starts with a full burst of the same size.
func (r *Registry) SetOrphanLogRate(perSecond float64) {
	if cur := r.orphanLimiter.Load(); cur != nil && cur.Limit() == rate.Limit(perSecond) {
		return
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	r.orphanLimiter.Store(rate.NewLimiter(rate.Limit(perSecond), burst))
}

// SetMetrics swaps the instruments used by Dispatch. A nil m is ignored.
func (r *Registry) SetMetrics(m *control.Metrics) {
	if m != nil {
		r.metrics.Store(m)
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[api.IdentityKey]*Mailbox),
	}
	WithOrphanLogRate(control.Default().Bridge.OrphanLogRate)(r)
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics.Load() == nil {
		r.metrics.Store(control.DefaultMetrics())
	}
	return r
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry used by the monitoring trampoline.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = New()
	})
	return defaultReg
}

func (r *Registry) log() *zap.Logger {
	if r.logger != nil {
		return r.logger
	}
	return zap.L().Named("registry")
}

// Register inserts or overwrites the entry for id. It reports whether an
// existing entry was replaced, which means an earlier instance with the same
// identity was never closed.
func (r *Registry) Register(id api.IdentityKey, mb *Mailbox) bool {
	r.mu.Lock()
	_, replaced := r.entries[id]
	r.entries[id] = mb
	r.mu.Unlock()

	if replaced {
		r.log().Warn("replacing stale registry entry", zap.Stringer("identity", id))
	}
	return replaced
}

// Unregister removes the entry for id if it still points at mb.
func (r *Registry) Unregister(id api.IdentityKey, mb *Mailbox) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[id]; ok && cur == mb {
		delete(r.entries, id)
		return true
	}
	return false
}

// Lookup returns the mailbox registered for id.
func (r *Registry) Lookup(id api.IdentityKey) (*Mailbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb, ok := r.entries[id]
	return mb, ok
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Identities returns a snapshot of registered identities.
func (r *Registry) Identities() []api.IdentityKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]api.IdentityKey, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Dispatch delivers n to the mailbox of id without blocking.
//
// A missing entry is a lifecycle bug (a callback for a handle that has no live
// instance). It is logged at error level, counted, and returned as
// api.ErrUnknownIdentity; registry state is left untouched.
func (r *Registry) Dispatch(id api.IdentityKey, n api.Notification) error {
	r.mu.Lock()
	mb, ok := r.entries[id]
	var pushErr error
	if ok {
		pushErr = mb.Push(n)
	}
	r.mu.Unlock()

	ctx := context.Background()
	m := r.metrics.Load()
	if !ok {
		m.NotificationsOrphaned.Add(ctx, 1)
		if r.orphanLimiter.Load().Allow() {
			r.log().Error("notification for unregistered instance",
				zap.Stringer("identity", id),
				zap.Uint16("client_id", n.ClientID),
				zap.Int("status", n.Status))
		}
		return api.NewError(api.ErrCodeRegistry, "dispatch").
			WithContext("identity", id.String()).
			WithCause(api.ErrUnknownIdentity)
	}
	if pushErr != nil {
		m.NotificationsDropped.Add(ctx, 1)
		cause := pushErr
		if errors.Is(pushErr, mailbox.ErrClosed) {
			cause = api.ErrServerClosed
		}
		r.log().Warn("notification dropped",
			zap.Stringer("identity", id),
			zap.Uint16("client_id", n.ClientID),
			zap.Error(cause))
		return api.NewError(api.ErrCodeRegistry, "dispatch").
			WithContext("identity", id.String()).
			WithCause(cause)
	}
	m.NotificationsDispatched.Add(ctx, 1)
	return nil
}
