// File: bridge/trampoline.go
// Author: momentics <momentics@gmail.com>

package bridge

import (
	"go.uber.org/zap"

	"github.com/momentics/lwm2mux/api"
	"github.com/momentics/lwm2mux/internal/concurrency"
	"github.com/momentics/lwm2mux/internal/identity"
	"github.com/momentics/lwm2mux/internal/registry"
)

var _ api.MonitoringCallback = MonitoringTrampoline

// MonitoringTrampoline is the single monitoring hook armed on every engine
// context. It may run on any thread. It never blocks on the owner and never
// lets a panic escape into the engine.
func MonitoringTrampoline(h api.Handle, clientID uint16, _ *api.URI, status int,
	_ *api.BlockInfo, _ api.MediaType, _ []byte, _ any) {
	defer func() {
		if p := recover(); p != nil {
			logger().Error("monitoring trampoline panicked",
				zap.Any("panic", p), zap.Stack("stack"))
		}
	}()

	id := identity.Of(h)
	if ce := logger().Check(zap.DebugLevel, "monitoring callback"); ce != nil {
		ce.Write(
			zap.Stringer("identity", id),
			zap.Uint16("client_id", clientID),
			zap.Int("status", status),
			zap.Int("tid", concurrency.ThreadID()))
	}
	// failures are logged and counted by the registry
	_ = registry.Default().Dispatch(id, api.Notification{ClientID: clientID, Status: status})
}
