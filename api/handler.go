// File: api/handler.go
// Package api defines the MonitoringHandler interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// MonitoringHandler reacts to a client notification delivered to its owner.
// One handler may be shared by several servers and is invoked concurrently;
// it must synchronize its own state.
type MonitoringHandler interface {
	Monitor(clientID uint16)
}

// MonitoringHandlerFunc adapts a plain function to MonitoringHandler.
type MonitoringHandlerFunc func(clientID uint16)

// Monitor calls f(clientID).
func (f MonitoringHandlerFunc) Monitor(clientID uint16) {
	f(clientID)
}
