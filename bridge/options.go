// File: bridge/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bridge

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/lwm2mux/control"
)

// Option customizes Server construction.
type Option func(*Server)

// WithConfig replaces the whole configuration. A nil cfg keeps the defaults.
func WithConfig(cfg *control.Config) Option {
	return func(s *Server) {
		if cfg != nil {
			s.cfg = *cfg
		}
	}
}

// WithLogger sets the logger. The global zap logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics sets the instruments for instance-level counters (ingest,
// delivery, handler panics, active instances). Process-wide counters are
// routed with SetMetrics.
func WithMetrics(m *control.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithUserData is passed to the engine's Init unchanged.
func WithUserData(v any) Option {
	return func(s *Server) {
		s.userData = v
	}
}

// WithWaitTimeout bounds HandleCallback. Zero waits forever.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.cfg.Bridge.WaitTimeout = d
	}
}

// WithMailboxLimit caps pending notifications. Zero is unbounded.
func WithMailboxLimit(n int) Option {
	return func(s *Server) {
		s.cfg.Bridge.MailboxLimit = n
	}
}

// WithOutboxLimit caps queued outbound packets of the instance.
func WithOutboxLimit(n int) Option {
	return func(s *Server) {
		s.cfg.Capture.OutboxLimit = n
	}
}
