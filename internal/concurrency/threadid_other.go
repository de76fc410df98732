//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "os"

// ThreadID returns the process id where per-thread ids are not exposed.
func ThreadID() int {
	return os.Getpid()
}
