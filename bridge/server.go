// File: bridge/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server owns one engine context and the mailbox its notifications arrive in.

package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/lwm2mux/api"
	"github.com/momentics/lwm2mux/control"
	"github.com/momentics/lwm2mux/internal/capture"
	"github.com/momentics/lwm2mux/internal/identity"
	"github.com/momentics/lwm2mux/internal/mailbox"
	"github.com/momentics/lwm2mux/internal/registry"
)

// Server is one LwM2M server instance. Its engine context is used by one
// goroutine at a time; HandlePacket calls are serialized.
type Server struct {
	id       string
	engine   api.Engine
	handle   api.Handle
	identity api.IdentityKey
	mailbox  *registry.Mailbox
	userData any

	cfg     control.Config
	logger  *zap.Logger
	metrics *control.Metrics

	ingestMu sync.Mutex

	mu      sync.RWMutex
	handler api.MonitoringHandler

	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates an engine context and registers the instance before returning,
// so no notification for it can arrive unregistered.
//
// The configured orphan log rate is applied to the process-wide registry;
// the most recently created Server sets it.
func New(engine api.Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil engine").
			WithCause(api.ErrInvalidArgument)
	}
	s := &Server{
		id:     uuid.NewString(),
		engine: engine,
		cfg:    *control.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "config").
			WithCause(errors.Join(api.ErrInvalidArgument, err))
	}
	if s.logger == nil {
		s.logger = zap.L()
	}
	s.logger = s.logger.Named("bridge").With(zap.String("server", s.id))
	if s.metrics == nil {
		s.metrics = control.DefaultMetrics()
	}

	h, err := engine.Init(s.userData)
	if err != nil {
		return nil, api.NewError(api.ErrCodeEngine, "engine init").
			WithCause(errors.Join(api.ErrEngineInit, err))
	}
	if h == nil {
		return nil, api.NewError(api.ErrCodeEngine, "engine init returned nil handle").
			WithCause(api.ErrEngineInit)
	}
	s.handle = h
	s.identity = identity.Of(h)
	s.mailbox = mailbox.New[api.Notification](s.cfg.Bridge.MailboxLimit)

	reg := registry.Default()
	reg.SetOrphanLogRate(s.cfg.Bridge.OrphanLogRate)
	capture.DefaultOutboxes().Open(s.identity, s.cfg.Capture.OutboxLimit)
	reg.Register(s.identity, s.mailbox)
	s.metrics.InstancesActive.Add(context.Background(), 1)

	s.logger.Debug("server created", zap.Stringer("identity", s.identity))
	return s, nil
}

// ID returns the log correlation id of the instance.
func (s *Server) ID() string { return s.id }

// Identity returns the registry key derived from the engine handle.
func (s *Server) Identity() api.IdentityKey { return s.identity }

// Handle exposes the engine handle for engine-specific introspection.
// The bridge keeps ownership; callers must not close it.
func (s *Server) Handle() api.Handle { return s.handle }

// Pending returns the number of undelivered notifications.
func (s *Server) Pending() int { return s.mailbox.Len() }

// SetMonitoringHandler stores h as the instance's handler, replacing any
// previous one, and arms the engine's monitoring hook with the trampoline.
// A nil h keeps notifications flowing without a reaction.
func (s *Server) SetMonitoringHandler(h api.MonitoringHandler) error {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	if s.closed.Load() {
		return s.closedErr("set monitoring handler")
	}

	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	s.engine.SetMonitoringCallback(s.handle, MonitoringTrampoline, nil)
	return nil
}

// HandlePacket feeds inbound bytes to the engine. The session handed to the
// engine is the instance identity, so outbound bytes land in this instance's
// outbox. Callbacks raised during the call are queued, not run.
func (s *Server) HandlePacket(packet []byte) error {
	if len(packet) == 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "empty packet").
			WithCause(api.ErrInvalidArgument)
	}
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	if s.closed.Load() {
		return s.closedErr("handle packet")
	}
	s.engine.HandlePacket(s.handle, packet, api.Session(s.identity))
	s.metrics.PacketsIngested.Add(context.Background(), 1)
	return nil
}

// WaitForNotification blocks until a notification for this instance arrives,
// ctx is done, or the server is closed. The current handler, if any, is
// invoked once with the client id on the calling goroutine.
//
// The notification is returned even when the handler panics; the panic is
// reported as api.ErrHandlerPanic.
func (s *Server) WaitForNotification(ctx context.Context) (api.Notification, error) {
	n, err := s.mailbox.Pop(ctx)
	if err != nil {
		if errors.Is(err, mailbox.ErrClosed) {
			return api.Notification{}, s.closedErr("wait for notification")
		}
		return api.Notification{}, api.NewError(api.ErrCodeTimeout, "wait for notification").
			WithCause(errors.Join(api.ErrNoNotification, err))
	}
	s.metrics.NotificationsDelivered.Add(context.Background(), 1)

	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	if h == nil {
		return n, nil
	}
	return n, s.invoke(h, n.ClientID)
}

// HandleCallback waits for one notification, bounded by the configured wait
// timeout, and runs the handler. A timeout yields api.ErrNoNotification.
func (s *Server) HandleCallback() error {
	ctx := context.Background()
	if d := s.cfg.Bridge.WaitTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	_, err := s.WaitForNotification(ctx)
	return err
}

// HandleCallbackBlocking waits without a deadline. If the engine never
// notifies, it returns only when the server is closed.
func (s *Server) HandleCallbackBlocking() error {
	_, err := s.WaitForNotification(context.Background())
	return err
}

// NextOutbound pops the oldest packet the engine sent on behalf of this instance.
func (s *Server) NextOutbound() ([]byte, bool) {
	return capture.DefaultOutboxes().Pop(s.identity)
}

// PendingOutbound returns the number of queued outbound packets.
func (s *Server) PendingOutbound() int {
	return capture.DefaultOutboxes().Pending(s.identity)
}

// Close unregisters the instance, wakes blocked waiters and releases the
// engine context. Late callbacks for the handle become orphans. Close is
// idempotent.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		registry.Default().Unregister(s.identity, s.mailbox)
		s.mailbox.Close()

		s.ingestMu.Lock()
		s.engine.Close(s.handle)
		s.ingestMu.Unlock()

		capture.DefaultOutboxes().Close(s.identity)
		s.metrics.InstancesActive.Add(context.Background(), -1)
		s.logger.Debug("server closed", zap.Int("undelivered", s.mailbox.Len()))
	})
	return nil
}

func (s *Server) invoke(h api.MonitoringHandler, clientID uint16) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.metrics.HandlerPanics.Add(context.Background(), 1)
			s.logger.Error("monitoring handler panicked",
				zap.Uint16("client_id", clientID), zap.Any("panic", p))
			err = api.NewError(api.ErrCodeHandler, "monitor").
				WithContext("client_id", clientID).
				WithCause(api.ErrHandlerPanic)
		}
	}()
	h.Monitor(clientID)
	return nil
}

func (s *Server) closedErr(op string) error {
	return api.NewError(api.ErrCodeClosed, op).
		WithContext("server", s.id).
		WithCause(api.ErrServerClosed)
}
