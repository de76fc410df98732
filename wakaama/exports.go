//go:build cgo && wakaama

// File: wakaama/exports.go
// Author: momentics <momentics@gmail.com>
//
// Symbols liblwm2m resolves at link time. This file may only carry
// declarations in its preamble.

package wakaama

/*
#include <stdbool.h>
#include <stdint.h>
#include <liblwm2m.h>
*/
import "C"

import (
	"unsafe"

	"github.com/momentics/lwm2mux/api"
	"github.com/momentics/lwm2mux/bridge"
)

const maxID = 0xFFFF

//export lwm2m_buffer_send
func lwm2m_buffer_send(session unsafe.Pointer, buffer *C.uint8_t, length C.size_t, _ unsafe.Pointer) C.uint8_t {
	var b []byte
	if buffer != nil && length > 0 {
		b = unsafe.Slice((*byte)(unsafe.Pointer(buffer)), int(length))
	}
	return C.uint8_t(bridge.BufferSend(api.Session(uintptr(session)), b, nil))
}

//export lwm2m_session_is_equal
func lwm2m_session_is_equal(a, b unsafe.Pointer, _ unsafe.Pointer) C.bool {
	return C.bool(bridge.SessionIsEqual(api.Session(uintptr(a)), api.Session(uintptr(b)), nil))
}

//export goMonitoringTrampoline
func goMonitoringTrampoline(ctx *C.lwm2m_context_t, clientID C.uint16_t, uri *C.lwm2m_uri_t, status C.int,
	block *C.block_info_t, format C.lwm2m_media_type_t, data *C.uint8_t, length C.size_t, _ unsafe.Pointer) {
	var (
		u  *api.URI
		bi *api.BlockInfo
		p  []byte
	)
	if uri != nil {
		u = &api.URI{
			ObjectID:   idOrUnset(uint16(uri.objectId)),
			InstanceID: idOrUnset(uint16(uri.instanceId)),
			ResourceID: idOrUnset(uint16(uri.resourceId)),
		}
	}
	if block != nil {
		bi = &api.BlockInfo{
			Num:  uint32(block.block_num),
			More: bool(block.block_more),
			Size: uint16(block.block_size),
		}
	}
	if data != nil && length > 0 {
		p = C.GoBytes(unsafe.Pointer(data), C.int(length))
	}
	bridge.MonitoringTrampoline(api.Handle(unsafe.Pointer(ctx)), uint16(clientID), u, int(status),
		bi, api.MediaType(format), p, nil)
}

func idOrUnset(id uint16) int32 {
	if id == maxID {
		return -1
	}
	return int32(id)
}
