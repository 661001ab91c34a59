//go:build !windows

package stack

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avsav1n/stackd/pkg/monitoring"
	"github.com/avsav1n/stackd/pkg/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()

	supervisor := NewSupervisor(StackOptions{ForceShutdownTimeout: 10 * time.Second}, newStackTestLogger())
	supervisor.Start(context.Background())
	t.Cleanup(func() { supervisor.Stop(context.Background()) })
	return supervisor
}

func shellService(name, script string) ServiceConfig {
	config := ServiceConfig{
		Name: name,
		Execution: process.ExecutionConfig{
			Command:   "sh",
			Args:      []string{"-c", script},
			WaitDelay: time.Second,
		},
		GracefulTimeout: time.Second,
	}
	setRestartDefaults(&config.Restart)
	return config
}

func waitForServiceState(t *testing.T, supervisor *Supervisor, name string, want ServiceState) {
	t.Helper()

	assert.Eventually(t, func() bool {
		state, err := supervisor.GetServiceState(name)
		return err == nil && state == want
	}, 10*time.Second, 20*time.Millisecond, "service %s never reached state %s", name, want)
}

func TestSupervisor_AddService(t *testing.T) {
	supervisor := newTestSupervisor(t)

	require.NoError(t, supervisor.AddService(shellService("db", "sleep 30")))

	state, err := supervisor.GetServiceState("db")
	require.NoError(t, err)
	assert.Equal(t, ServiceStateRegistered, state)

	// Duplicate registration is rejected
	err = supervisor.AddService(shellService("db", "sleep 30"))
	assert.Error(t, err)

	// Invalid names are rejected
	err = supervisor.AddService(shellService("db/primary", "sleep 30"))
	assert.Error(t, err)
}

func TestSupervisor_HealthyGateOrdersStartup(t *testing.T) {
	dir := t.TempDir()
	readyFile := filepath.Join(dir, "ready")
	okFile := filepath.Join(dir, "app_ok")
	badFile := filepath.Join(dir, "app_bad")

	supervisor := newTestSupervisor(t)

	// The database only becomes probe-healthy after a delay
	db := shellService("db", "sleep 0.3; touch "+readyFile+"; exec sleep 30")
	db.HealthCheck = &monitoring.ProbeSpec{
		Kind:     monitoring.ProbeKindExec,
		Exec:     monitoring.ExecProbeConfig{Command: "test", Args: []string{"-e", readyFile}},
		Interval: 100 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		Retries:  50,
	}
	require.NoError(t, supervisor.AddService(db))

	// The application records whether the database was ready when it started
	app := shellService("app",
		"if [ -e "+readyFile+" ]; then touch "+okFile+"; else touch "+badFile+"; fi; exec sleep 30")
	app.DependsOn = []DependencyConfig{{Service: "db", Condition: ConditionHealthy}}
	require.NoError(t, supervisor.AddService(app))

	require.NoError(t, supervisor.StartAll(context.Background()))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(okFile)
		return err == nil
	}, 10*time.Second, 20*time.Millisecond)

	_, err := os.Stat(badFile)
	assert.True(t, os.IsNotExist(err), "application started before its dependency was healthy")

	waitForServiceState(t, supervisor, "app", ServiceStateRunning)
}

func TestSupervisor_GateFailsWhenDependencyCannotStart(t *testing.T) {
	supervisor := newTestSupervisor(t)

	db := shellService("db", "sleep 30")
	db.Execution.Command = "/non/existent/binary"
	require.NoError(t, supervisor.AddService(db))

	app := shellService("app", "sleep 30")
	app.DependsOn = []DependencyConfig{{Service: "db", Condition: ConditionStarted}}
	require.NoError(t, supervisor.AddService(app))

	require.NoError(t, supervisor.StartAll(context.Background()))

	waitForServiceState(t, supervisor, "db", ServiceStateFailed)
	waitForServiceState(t, supervisor, "app", ServiceStateFailed)
}

func TestSupervisor_UnhealthyDependencyFailsGate(t *testing.T) {
	supervisor := newTestSupervisor(t)

	db := shellService("db", "sleep 30")
	db.HealthCheck = &monitoring.ProbeSpec{
		Kind:     monitoring.ProbeKindExec,
		Exec:     monitoring.ExecProbeConfig{Command: "false"},
		Interval: 100 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		Retries:  2,
	}
	require.NoError(t, supervisor.AddService(db))

	app := shellService("app", "sleep 30")
	app.DependsOn = []DependencyConfig{{Service: "db", Condition: ConditionHealthy}}
	require.NoError(t, supervisor.AddService(app))

	require.NoError(t, supervisor.StartAll(context.Background()))

	// The dependency gate fails instead of starting into a broken stack
	waitForServiceState(t, supervisor, "app", ServiceStateFailed)

	// The unhealthy database is terminated as well
	waitForServiceState(t, supervisor, "db", ServiceStateFailed)
}

func TestSupervisor_GateSurvivesDependencyRestart(t *testing.T) {
	dir := t.TempDir()
	runsFile := filepath.Join(dir, "runs")
	readyFile := filepath.Join(dir, "ready")

	supervisor := newTestSupervisor(t)

	// The database crashes on its first run before the probe reaches any
	// verdict, then comes up healthy on the retry
	db := shellService("db",
		"echo run >> "+runsFile+"; if [ $(wc -l < "+runsFile+") -lt 2 ]; then sleep 0.3; exit 1; fi; "+
			"touch "+readyFile+"; exec sleep 30")
	db.HealthCheck = &monitoring.ProbeSpec{
		Kind:     monitoring.ProbeKindExec,
		Exec:     monitoring.ExecProbeConfig{Command: "test", Args: []string{"-e", readyFile}},
		Interval: 100 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		Retries:  1000,
	}
	db.Restart = RestartConfig{
		Policy:      RestartOnFailure,
		MaxRetries:  3,
		RetryDelay:  20 * time.Millisecond,
		BackoffRate: 1.0,
	}
	require.NoError(t, supervisor.AddService(db))

	app := shellService("app", "sleep 30")
	app.DependsOn = []DependencyConfig{{Service: "db", Condition: ConditionHealthy}}
	require.NoError(t, supervisor.AddService(app))

	require.NoError(t, supervisor.StartAll(context.Background()))

	// The waiter must follow the dependency across the restart instead of
	// being stranded on the crashed attempt
	waitForServiceState(t, supervisor, "db", ServiceStateRunning)
	waitForServiceState(t, supervisor, "app", ServiceStateRunning)
}

func TestSupervisor_HealthyLatchPersistsAfterFailure(t *testing.T) {
	supervisor := newTestSupervisor(t)

	require.NoError(t, supervisor.AddService(shellService("db", "sleep 30")))
	require.NoError(t, supervisor.AddService(shellService("app", "sleep 30")))

	db := supervisor.getService("db")
	app := supervisor.getService("app")
	require.NotNil(t, db)
	require.NotNil(t, app)

	// A dependency that was healthy once satisfies the gate even after it
	// later fails for good
	db.markStarted()
	db.markHealthy()
	db.markFailed()

	err := supervisor.waitForDependency(context.Background(), app, db, ConditionHealthy)
	assert.NoError(t, err)

	// Without the earlier success the same failure fails the gate
	require.NoError(t, supervisor.AddService(shellService("cache", "sleep 30")))
	cache := supervisor.getService("cache")
	require.NotNil(t, cache)
	cache.markStarted()
	cache.markFailed()

	err = supervisor.waitForDependency(context.Background(), app, cache, ConditionHealthy)
	assert.Error(t, err)
}

func TestSupervisor_RestartOnFailure(t *testing.T) {
	dir := t.TempDir()
	counterFile := filepath.Join(dir, "counter")

	supervisor := newTestSupervisor(t)

	service := shellService("app", "echo run >> "+counterFile+"; exit 1")
	service.Restart = RestartConfig{
		Policy:      RestartOnFailure,
		MaxRetries:  2,
		RetryDelay:  20 * time.Millisecond,
		BackoffRate: 1.0,
	}
	require.NoError(t, supervisor.AddService(service))

	require.NoError(t, supervisor.StartAll(context.Background()))

	waitForServiceState(t, supervisor, "app", ServiceStateFailed)

	// Initial run plus two retries
	data, err := os.ReadFile(counterFile)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "run"))
}

func TestSupervisor_NeverPolicyDoesNotRestart(t *testing.T) {
	dir := t.TempDir()
	counterFile := filepath.Join(dir, "counter")

	supervisor := newTestSupervisor(t)

	service := shellService("oneshot", "echo run >> "+counterFile)
	require.NoError(t, supervisor.AddService(service))

	require.NoError(t, supervisor.StartAll(context.Background()))

	waitForServiceState(t, supervisor, "oneshot", ServiceStateStopped)

	data, err := os.ReadFile(counterFile)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "run"))
}

func TestSupervisor_StopTerminatesRunningService(t *testing.T) {
	supervisor := newTestSupervisor(t)

	require.NoError(t, supervisor.AddService(shellService("app", "sleep 30")))
	require.NoError(t, supervisor.StartAll(context.Background()))

	waitForServiceState(t, supervisor, "app", ServiceStateRunning)

	started := time.Now()
	require.NoError(t, supervisor.StopService(context.Background(), "app"))
	assert.Less(t, time.Since(started), 10*time.Second)

	state, err := supervisor.GetServiceState("app")
	require.NoError(t, err)
	assert.Equal(t, ServiceStateStopped, state)
}

func TestSupervisor_StopUnblocksWaitingService(t *testing.T) {
	dir := t.TempDir()
	readyFile := filepath.Join(dir, "never-ready")

	supervisor := newTestSupervisor(t)

	db := shellService("db", "sleep 30")
	db.HealthCheck = &monitoring.ProbeSpec{
		Kind:     monitoring.ProbeKindExec,
		Exec:     monitoring.ExecProbeConfig{Command: "test", Args: []string{"-e", readyFile}},
		Interval: 100 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		Retries:  1000,
	}
	require.NoError(t, supervisor.AddService(db))

	app := shellService("app", "sleep 30")
	app.DependsOn = []DependencyConfig{{Service: "db", Condition: ConditionHealthy}}
	require.NoError(t, supervisor.AddService(app))

	require.NoError(t, supervisor.StartAll(context.Background()))

	waitForServiceState(t, supervisor, "db", ServiceStateRunning)
	waitForServiceState(t, supervisor, "app", ServiceStateWaiting)

	// Stop must not hang on the dependency gate
	require.NoError(t, supervisor.StopService(context.Background(), "app"))

	state, err := supervisor.GetServiceState("app")
	require.NoError(t, err)
	assert.Equal(t, ServiceStateStopped, state)
}

func TestSupervisor_ProbeStateExposed(t *testing.T) {
	supervisor := newTestSupervisor(t)

	db := shellService("db", "sleep 30")
	db.HealthCheck = &monitoring.ProbeSpec{
		Kind:     monitoring.ProbeKindExec,
		Exec:     monitoring.ExecProbeConfig{Command: "true"},
		Interval: 100 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		Retries:  3,
	}
	require.NoError(t, supervisor.AddService(db))

	require.NoError(t, supervisor.StartAll(context.Background()))

	assert.Eventually(t, func() bool {
		state, err := supervisor.GetServiceProbeState("db")
		return err == nil && state.Status == monitoring.ProbeStatusHealthy
	}, 10*time.Second, 20*time.Millisecond)

	// No probe configured means no probe state
	require.NoError(t, supervisor.AddService(shellService("plain", "sleep 30")))
	_, err := supervisor.GetServiceProbeState("plain")
	assert.Error(t, err)
}
