// Package wakaama
// Author: momentics <momentics@gmail.com>
//
// Package wakaama binds the Wakaama LwM2M server library to the bridge.
// It is compiled only with cgo and the "wakaama" build tag and links
// against liblwm2m built with LWM2M_SERVER_MODE.
//
// The library resolves lwm2m_buffer_send and lwm2m_session_is_equal at link
// time; this package exports both and forwards them to bridge.BufferSend and
// bridge.SessionIsEqual. Only one such binding may be linked per process.
package wakaama
