//go:build !windows

package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockProcessLogger for testing
type MockProcessLogger struct {
	mock.Mock
}

func (m *MockProcessLogger) Debugf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockProcessLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockProcessLogger) Warnf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockProcessLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

func newProcessTestLogger() *MockProcessLogger {
	logger := &MockProcessLogger{}
	logger.On("Debugf", mock.Anything, mock.Anything).Maybe()
	logger.On("Infof", mock.Anything, mock.Anything).Maybe()
	logger.On("Warnf", mock.Anything, mock.Anything).Maybe()
	logger.On("Errorf", mock.Anything, mock.Anything).Maybe()
	return logger
}

func TestRun_CleanExit(t *testing.T) {
	logger := newProcessTestLogger()

	code, err := Run(context.Background(), ExecutionConfig{
		Command: "/bin/sh",
		Args:    []string{"-c", "exit 0"},
	}, "test-clean", logger)

	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestRun_FailureExitCodePropagated(t *testing.T) {
	logger := newProcessTestLogger()

	code, err := Run(context.Background(), ExecutionConfig{
		Command: "/bin/sh",
		Args:    []string{"-c", "exit 3"},
	}, "test-failure", logger)

	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestRun_CommandNotFound(t *testing.T) {
	logger := newProcessTestLogger()

	code, err := Run(context.Background(), ExecutionConfig{
		Command: "/nonexistent/binary",
	}, "test-missing", logger)

	assert.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestStart_InvalidConfig(t *testing.T) {
	logger := newProcessTestLogger()

	_, _, err := Start(context.Background(), ExecutionConfig{}, "test-invalid", logger)
	assert.Error(t, err)
}

func TestStart_EnvironmentPassedToProcess(t *testing.T) {
	logger := newProcessTestLogger()

	code, err := Run(context.Background(), ExecutionConfig{
		Command:     "/bin/sh",
		Args:        []string{"-c", `test "$STACKD_TEST_VAR" = "expected"`},
		Environment: []string{"STACKD_TEST_VAR=expected"},
	}, "test-env", logger)

	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestTerminate_StopsProcessGroup(t *testing.T) {
	logger := newProcessTestLogger()

	cmd, stdout, err := Start(context.Background(), ExecutionConfig{
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 60"},
	}, "test-terminate", logger)
	require.NoError(t, err)
	defer stdout.Close()

	pid := cmd.Process.Pid

	err = Terminate(pid, 2*time.Second, "test-terminate", logger)
	require.NoError(t, err)

	// Reap the child; after that the process must be gone
	_ = cmd.Wait()

	running, err := IsRunning(pid)
	require.NoError(t, err)
	assert.False(t, running)
}
