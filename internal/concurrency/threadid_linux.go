//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "golang.org/x/sys/unix"

// ThreadID returns the kernel id of the calling OS thread.
func ThreadID() int {
	return unix.Gettid()
}
