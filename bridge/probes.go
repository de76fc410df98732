// File: bridge/probes.go
// Author: momentics <momentics@gmail.com>

package bridge

import (
	"github.com/momentics/lwm2mux/control"
	"github.com/momentics/lwm2mux/internal/capture"
	"github.com/momentics/lwm2mux/internal/registry"
)

// RegisterProbes installs process-wide bridge probes on dp.
func RegisterProbes(dp *control.DebugProbes) {
	dp.RegisterProbe("bridge.instances", func() any { return registry.Default().Len() })
	dp.RegisterProbe("bridge.capture.last_size", func() any { return capture.Default().Len() })
	dp.RegisterProbe("bridge.capture.outboxes", func() any { return capture.DefaultOutboxes().Len() })
}

// RegisterProbes installs per-instance probes keyed by the server id.
func (s *Server) RegisterProbes(dp *control.DebugProbes) {
	prefix := "server." + s.id
	dp.RegisterProbe(prefix+".identity", func() any { return s.identity.String() })
	dp.RegisterProbe(prefix+".pending", func() any { return s.Pending() })
	dp.RegisterProbe(prefix+".outbound", func() any { return s.PendingOutbound() })
	dp.RegisterProbe(prefix+".closed", func() any { return s.closed.Load() })
}

// UnregisterProbes removes what RegisterProbes installed for s.
func (s *Server) UnregisterProbes(dp *control.DebugProbes) {
	prefix := "server." + s.id
	for _, name := range []string{".identity", ".pending", ".outbound", ".closed"} {
		dp.UnregisterProbe(prefix + name)
	}
}
