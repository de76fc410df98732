// Package identity
// Author: momentics <momentics@gmail.com>
//
// Derives the fixed-width instance key from an engine handle. The native callback
// surface only carries the handle, so this key is what routes a callback back to
// its owning instance.

package identity

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/momentics/lwm2mux/api"
)

// Of returns the identity key of h. It is pure and gives the same result on every
// goroutine for the lifetime of the handle.
func Of(h api.Handle) api.IdentityKey {
	return FromBits(uintptr(h))
}

// FromBits hashes a raw handle bit pattern.
func FromBits(bits uintptr) api.IdentityKey {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(bits))
	return api.IdentityKey(xxhash.Sum64(b[:]))
}
