//go:build windows

package process

import (
	"os"
	"time"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/logging"
)

// Terminate stops the process. Windows has no process-group signals, so
// the process is killed directly after the graceful timeout hint.
func Terminate(pid int, gracefulTimeout time.Duration, id string, logger logging.Logger) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("id", id)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return errors.NewProcessError("failed to find process", err).WithContext("id", id).WithContext("pid", pid)
	}

	logger.Infof("Killing process, id: %s, PID: %d", id, pid)

	if err := proc.Kill(); err != nil {
		return errors.NewProcessError("failed to kill process", err).WithContext("id", id).WithContext("pid", pid)
	}

	return nil
}
