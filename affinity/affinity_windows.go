//go:build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows implementation via SetThreadAffinityMask.

package affinity

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var procSetThreadAffinityMask = windows.NewLazySystemDLL("kernel32.dll").NewProc("SetThreadAffinityMask")

// setAffinityPlatform restricts the calling thread to cpuID.
func setAffinityPlatform(cpuID int) error {
	if cpuID < 0 || cpuID >= 64 {
		return fmt.Errorf("affinity: cpu %d outside the thread mask", cpuID)
	}
	thread, err := windows.GetCurrentThread()
	if err != nil {
		return fmt.Errorf("affinity: current thread: %w", err)
	}
	ret, _, callErr := procSetThreadAffinityMask.Call(uintptr(thread), uintptr(1)<<cpuID)
	if ret == 0 {
		return fmt.Errorf("affinity: SetThreadAffinityMask cpu %d: %w", cpuID, callErr)
	}
	return nil
}
