//go:build cgo && wakaama

// File: wakaama/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wakaama

/*
#cgo CFLAGS: -DLWM2M_SERVER_MODE
#cgo LDFLAGS: -llwm2m
#include <stdint.h>
#include <time.h>
#include <liblwm2m.h>

extern void goMonitoringTrampoline(lwm2m_context_t *, uint16_t, lwm2m_uri_t *, int,
	block_info_t *, lwm2m_media_type_t, uint8_t *, size_t, void *);

static void arm_monitoring(lwm2m_context_t *ctx, int on) {
	lwm2m_set_monitoring_callback(ctx, on ? goMonitoringTrampoline : NULL, NULL);
}

static void handle_packet(lwm2m_context_t *ctx, uint8_t *buf, size_t len, uintptr_t session) {
	lwm2m_handle_packet(ctx, buf, len, (void *)session);
}

static int step(lwm2m_context_t *ctx, long *timeout) {
	time_t t = (time_t)*timeout;
	int res = lwm2m_step(ctx, &t);
	*timeout = (long)t;
	return res;
}
*/
import "C"

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/momentics/lwm2mux/api"
)

// Engine is api.Engine over liblwm2m. It holds no state; every context
// lives in C memory behind its handle.
type Engine struct{}

var _ api.Engine = (*Engine)(nil)

// New returns the native engine.
func New() *Engine { return &Engine{} }

func ctxOf(h api.Handle) *C.lwm2m_context_t {
	return (*C.lwm2m_context_t)(unsafe.Pointer(h))
}

// Init calls lwm2m_init. Go values cannot cross into C, so userData is
// not forwarded and the library sees NULL.
func (Engine) Init(_ any) (api.Handle, error) {
	ctx := C.lwm2m_init(nil)
	if ctx == nil {
		return nil, fmt.Errorf("lwm2m_init returned NULL")
	}
	return api.Handle(unsafe.Pointer(ctx)), nil
}

// HandlePacket calls lwm2m_handle_packet. The library may modify packet in place.
func (Engine) HandlePacket(h api.Handle, packet []byte, session api.Session) {
	if len(packet) == 0 {
		return
	}
	C.handle_packet(ctxOf(h), (*C.uint8_t)(unsafe.Pointer(&packet[0])),
		C.size_t(len(packet)), C.uintptr_t(session))
}

// SetMonitoringCallback arms the exported trampoline, which always forwards
// to bridge.MonitoringTrampoline. A nil cb disarms the hook.
func (Engine) SetMonitoringCallback(h api.Handle, cb api.MonitoringCallback, _ any) {
	on := C.int(0)
	if cb != nil {
		on = 1
	}
	C.arm_monitoring(ctxOf(h), on)
}

// Close calls lwm2m_close.
func (Engine) Close(h api.Handle) {
	C.lwm2m_close(ctxOf(h))
}

// Step runs lwm2m_step and returns how long the caller may sleep before
// the next step. limit caps that interval.
func (Engine) Step(h api.Handle, limit time.Duration) (time.Duration, error) {
	timeout := C.long(limit / time.Second)
	if res := C.step(ctxOf(h), &timeout); res != 0 {
		return 0, fmt.Errorf("lwm2m_step: coap error 0x%02x", int(res))
	}
	return time.Duration(timeout) * time.Second, nil
}
