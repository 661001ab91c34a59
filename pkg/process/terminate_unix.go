//go:build !windows

package process

import (
	"syscall"
	"time"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/logging"
)

// Terminate gracefully stops the process group rooted at pid: SIGTERM
// first, SIGKILL after the graceful timeout elapses.
func Terminate(pid int, gracefulTimeout time.Duration, id string, logger logging.Logger) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("id", id)
	}

	logger.Infof("Terminating process group, id: %s, PID: %d, graceful_timeout: %v", id, pid, gracefulTimeout)

	// Negative PID signals the whole process group
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			logger.Debugf("Process already gone, id: %s, PID: %d", id, pid)
			return nil
		}
		return errors.NewProcessError("failed to send SIGTERM", err).WithContext("id", id).WithContext("pid", pid)
	}

	deadline := time.Now().Add(gracefulTimeout)
	for time.Now().Before(deadline) {
		running, err := IsRunning(pid)
		if err != nil {
			logger.Warnf("Failed to check process state, id: %s, PID: %d, error: %v", id, pid, err)
			break
		}
		if !running {
			logger.Infof("Process terminated gracefully, id: %s, PID: %d", id, pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	logger.Warnf("Graceful termination timed out, killing process group, id: %s, PID: %d", id, pid)

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return errors.NewProcessError("failed to send SIGKILL", err).WithContext("id", id).WithContext("pid", pid)
	}

	return nil
}
