// Package api
// Author: momentics <momentics@gmail.com>
//
// Shared value types exchanged between the bridge core and a protocol engine.

package api

import (
	"fmt"
	"unsafe"
)

// Handle is the opaque context pointer returned by an engine.
// It is only ever compared or hashed above the engine boundary, never dereferenced.
type Handle unsafe.Pointer

// Session is an opaque peer token handed to the engine together with inbound bytes
// and echoed back to the outbound hook.
type Session uintptr

// IdentityKey is the fixed-width key derived from a Handle.
type IdentityKey uint64

// String renders the key as fixed-width hex.
func (k IdentityKey) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}

// Status is a CoAP response code in the engine's packed class.detail form.
type Status uint8

// CoAP codes used by the bridge and the reference engine.
const (
	StatusNoError             Status = 0x00
	StatusCreated             Status = 0x41 // 2.01
	StatusDeleted             Status = 0x42 // 2.02
	StatusChanged             Status = 0x44 // 2.04
	StatusContent             Status = 0x45 // 2.05
	StatusBadRequest          Status = 0x80 // 4.00
	StatusNotFound            Status = 0x84 // 4.04
	StatusMethodNotAllowed    Status = 0x85 // 4.05
	StatusInternalServerError Status = 0xA0 // 5.00
)

// Class returns the code class (2 for success, 4 client error, 5 server error).
func (s Status) Class() uint8 { return uint8(s) >> 5 }

// Detail returns the code detail.
func (s Status) Detail() uint8 { return uint8(s) & 0x1F }

// String formats the code as "c.dd".
func (s Status) String() string {
	return fmt.Sprintf("%d.%02d", s.Class(), s.Detail())
}

// MediaType is the engine's content format identifier.
type MediaType uint16

// URI addresses an LwM2M object, instance or resource. Unset levels are -1.
type URI struct {
	ObjectID   int32
	InstanceID int32
	ResourceID int32
}

// BlockInfo describes a block-wise transfer fragment.
type BlockInfo struct {
	Num  uint32
	More bool
	Size uint16
}

// Notification is what the bridge delivers to a waiting owner.
type Notification struct {
	ClientID uint16
	Status   int
}
