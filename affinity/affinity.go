// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_windows.go, etc.) guarded by build tags.

package affinity

import "runtime"

// SetAffinity pins the current OS thread to a given logical CPU on supported platforms.
// On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// CPUIndex maps any integer, negative included, onto [0, runtime.NumCPU()).
func CPUIndex(cpuID int) int {
	n := runtime.NumCPU()
	return ((cpuID % n) + n) % n
}

// Pin locks the calling goroutine to its OS thread and pins that thread to
// CPUIndex(cpuID). The returned func undoes the thread lock.
func Pin(cpuID int) (release func(), err error) {
	runtime.LockOSThread()
	if err := SetAffinity(CPUIndex(cpuID)); err != nil {
		runtime.UnlockOSThread()
		return func() {}, err
	}
	return runtime.UnlockOSThread, nil
}
