package process

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/logging"
)

// ExecutionConfig describes how to launch a service process.
type ExecutionConfig struct {
	Command          string        `yaml:"command"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
	ExtraFiles       []*os.File    `yaml:"-"`
}

// Start launches the configured process in its own process group and
// returns the running command together with its combined output stream.
// The caller owns Wait.
func Start(ctx context.Context, config ExecutionConfig, id string, logger logging.Logger) (*exec.Cmd, io.ReadCloser, error) {
	if ctx == nil {
		logger.Errorf("Context cannot be nil, id: %s", id)
		return nil, nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
	}

	if err := ValidateExecutionConfig(config); err != nil {
		logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
	}

	workDir := config.WorkingDirectory
	if workDir == "" {
		if abs, err := filepath.Abs("."); err == nil {
			workDir = abs
		}
	}

	logger.Debugf("Executing process, id: %s, command: '%s', args: %v, working directory: '%s'",
		id, config.Command, config.Args, workDir)

	env := os.Environ()
	env = append(env, config.Environment...)

	cmd := exec.CommandContext(ctx, config.Command, config.Args...)
	cmd.Dir = workDir
	cmd.Env = env
	cmd.ExtraFiles = config.ExtraFiles

	// Platform-specific setup is handled in execute_unix.go or execute_windows.go
	setupProcessAttributes(cmd)

	// wait after sending the interrupt signal, before sending the kill signal
	cmd.WaitDelay = config.WaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errors.NewProcessError("failed to create stdout pipe", err).WithContext("id", id).WithContext("command", config.Command)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, nil, errors.NewProcessError("failed to start the process", err).WithContext("id", id).WithContext("command", config.Command)
	}

	logger.Infof("Process started, id: %s, PID: %d", id, cmd.Process.Pid)

	return cmd, stdout, nil
}

// Run launches the configured process, forwards its output to the
// logger line by line, and blocks until it exits. Returns the process
// exit code; a non-nil error means the process could not be run at all.
func Run(ctx context.Context, config ExecutionConfig, id string, logger logging.Logger) (int, error) {
	cmd, stdout, err := Start(ctx, config, id, logger)
	if err != nil {
		return -1, err
	}

	ForwardOutput(stdout, id, logger)

	err = cmd.Wait()
	if err == nil {
		logger.Infof("Process exited cleanly, id: %s, PID: %d", id, cmd.Process.Pid)
		return 0, nil
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		logger.Warnf("Process exited with failure, id: %s, PID: %d, exit_code: %d", id, cmd.Process.Pid, code)
		return code, nil
	}

	return -1, errors.NewProcessError("failed to wait for the process", err).WithContext("id", id)
}

// ForwardOutput copies the process output stream to the logger until
// the stream closes.
func ForwardOutput(stdout io.ReadCloser, id string, logger logging.Logger) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		logger.Infof("[%s] %s", id, scanner.Text())
	}
}

// ExitCode extracts the exit code from a Wait error. Returns 0 for nil,
// -1 when the error carries no exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
