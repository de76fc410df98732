// File: internal/concurrency/owner.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"runtime"
)

// RunLocked runs fn on a goroutine locked to its own OS thread and waits for it.
// The thread is never unlocked, so it exits with the goroutine and thread state
// set by fn (CPU affinity) does not leak to other goroutines.
// A panic in fn is re-raised in the caller.
func RunLocked(fn func() error) error {
	type result struct {
		err error
		p   any
	}
	done := make(chan result, 1)
	go func() {
		runtime.LockOSThread()
		defer func() {
			if p := recover(); p != nil {
				done <- result{p: p}
			}
		}()
		done <- result{err: fn()}
	}()
	r := <-done
	if r.p != nil {
		panic(r.p)
	}
	return r.err
}
