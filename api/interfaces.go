// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package api

// Engine is the callback contract of an external LwM2M protocol engine.
// Implementations own all protocol state; the bridge only moves bytes and notifications.
type Engine interface {
	// Init creates a new engine context. A nil handle is treated as failure.
	Init(userData any) (Handle, error)

	// HandlePacket feeds inbound bytes to the context. The engine may modify packet.
	// Outbound sends and monitoring callbacks may happen before it returns.
	HandlePacket(h Handle, packet []byte, session Session)

	// SetMonitoringCallback arms the monitoring hook of the context.
	SetMonitoringCallback(h Handle, cb MonitoringCallback, userData any)

	// Close releases the context. The handle must not be used afterwards.
	Close(h Handle)
}

// MonitoringCallback is the shape of the engine's monitoring hook.
type MonitoringCallback func(h Handle, clientID uint16, uri *URI, status int, block *BlockInfo,
	format MediaType, data []byte, userData any)

// SendFunc is the outbound hook the engine calls to transmit bytes.
type SendFunc func(session Session, buf []byte, userData any) Status

// SessionEqualFunc is the hook the engine uses to compare peers.
type SessionEqualFunc func(a, b Session, userData any) bool

// Hooks bundles the functions an engine built in Go links against.
type Hooks struct {
	Send           SendFunc
	SessionIsEqual SessionEqualFunc
}
