// File: bridge/hooks.go
// Author: momentics <momentics@gmail.com>
//
// Process-wide hooks the engine links against.

package bridge

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/lwm2mux/api"
	"github.com/momentics/lwm2mux/control"
	"github.com/momentics/lwm2mux/internal/capture"
	"github.com/momentics/lwm2mux/internal/registry"
)

var processMetrics atomic.Pointer[control.Metrics]

// SetMetrics routes the process-wide counters (dispatch, capture, outbox) to m.
// Per-instance counters follow WithMetrics. A nil m restores the global meter provider.
func SetMetrics(m *control.Metrics) {
	if m == nil {
		m = control.DefaultMetrics()
	}
	processMetrics.Store(m)
	registry.Default().SetMetrics(m)
}

func hookMetrics() *control.Metrics {
	if m := processMetrics.Load(); m != nil {
		return m
	}
	return control.DefaultMetrics()
}

// BufferSend is the engine's outbound hook. It copies buf into the capture
// slot, overwriting the previous packet, and queues a copy in the outbox of
// the instance the session belongs to. It always reports success.
func BufferSend(session api.Session, buf []byte, _ any) api.Status {
	n := capture.Default().Capture(buf)

	ctx := context.Background()
	m := hookMetrics()
	m.PacketsCaptured.Add(ctx, 1)
	m.BytesCaptured.Add(ctx, int64(n))

	id := api.IdentityKey(session)
	ok, evicted := capture.DefaultOutboxes().Push(id, buf)
	switch {
	case evicted:
		m.OutboxOverflows.Add(ctx, 1)
	case !ok:
		if ce := logger().Check(zap.DebugLevel, "send for session without outbox"); ce != nil {
			ce.Write(zap.Stringer("identity", id), zap.Int("bytes", n))
		}
	}
	return api.StatusNoError
}

// SessionIsEqual compares session tokens by value.
func SessionIsEqual(a, b api.Session, _ any) bool {
	return a == b
}

// Hooks returns the hook pair for engines implemented in Go.
func Hooks() api.Hooks {
	return api.Hooks{Send: BufferSend, SessionIsEqual: SessionIsEqual}
}

// LastSent returns a copy of the most recently sent packet, truncated to
// capture.MaxPacketSize. Reading does not consume it.
func LastSent() []byte {
	return capture.Default().Snapshot()
}

// ResetCapture empties the capture slot.
func ResetCapture() {
	capture.Default().Reset()
}

func logger() *zap.Logger {
	return zap.L().Named("bridge")
}
