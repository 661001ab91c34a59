//go:build windows

package process

import (
	"fmt"
	"syscall"
)

// Windows process status constants
const (
	stillActive                    = 259
	processQueryLimitedInformation = 0x1000
)

// IsRunning reports whether a process with the given PID exists.
func IsRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid PID: %d", pid)
	}

	handle, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false, err // Process doesn't exist or access denied
	}
	defer syscall.CloseHandle(handle)

	var exitCode uint32
	if err := syscall.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false, err
	}

	return exitCode == stillActive, nil
}
