package stack

import (
	"os"
	"testing"
	"time"

	"github.com/avsav1n/stackd/pkg/monitoring"
	"github.com/avsav1n/stackd/pkg/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "stack-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())

	return tmpFile.Name()
}

func TestLoadConfigFromFile(t *testing.T) {
	filename := writeConfigFile(t, `
stack:
  log_level: debug
  force_shutdown_timeout: "45s"
services:
  - name: db
    execution:
      command: /usr/bin/postgres
    healthcheck:
      kind: exec
      exec:
        command: pg_isready
      interval: "30s"
      timeout: "5s"
  - name: app
    execution:
      command: /usr/bin/app
    depends_on:
      - service: db
        condition: healthy
    restart:
      policy: on-failure
`)

	config, err := LoadConfigFromFile(filename)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Stack.LogLevel)
	assert.Equal(t, 45*time.Second, config.Stack.ForceShutdownTimeout)
	require.Len(t, config.Services, 2)

	db := config.Services[0]
	assert.Equal(t, "db", db.Name)
	require.NotNil(t, db.HealthCheck)
	assert.Equal(t, monitoring.ProbeKindExec, db.HealthCheck.Kind)
	assert.Equal(t, 30*time.Second, db.HealthCheck.Interval)
	assert.Equal(t, 5*time.Second, db.HealthCheck.Timeout)

	app := config.Services[1]
	require.Len(t, app.DependsOn, 1)
	assert.Equal(t, "db", app.DependsOn[0].Service)
	assert.Equal(t, ConditionHealthy, app.DependsOn[0].Condition)
	assert.Equal(t, RestartOnFailure, app.Restart.Policy)
}

func TestLoadConfigFromFile_Defaults(t *testing.T) {
	filename := writeConfigFile(t, `
services:
  - name: db
    execution:
      command: /usr/bin/postgres
    healthcheck:
      kind: exec
      exec:
        command: pg_isready
  - name: app
    execution:
      command: /usr/bin/app
    depends_on:
      - service: db
`)

	config, err := LoadConfigFromFile(filename)
	require.NoError(t, err)

	assert.Equal(t, "info", config.Stack.LogLevel)
	assert.Equal(t, 30*time.Second, config.Stack.ForceShutdownTimeout)

	db := config.Services[0]
	require.NotNil(t, db.Enabled)
	assert.True(t, *db.Enabled)
	assert.Equal(t, 10*time.Second, db.Execution.WaitDelay)
	assert.Equal(t, 10*time.Second, db.GracefulTimeout)

	// Probe timing defaults
	require.NotNil(t, db.HealthCheck)
	assert.Equal(t, 90*time.Second, db.HealthCheck.Interval)
	assert.Equal(t, 10*time.Second, db.HealthCheck.Timeout)
	assert.Equal(t, 5, db.HealthCheck.Retries)
	assert.Equal(t, 5*time.Second, db.HealthCheck.StartPeriod)

	// Restart defaults
	assert.Equal(t, RestartNever, db.Restart.Policy)
	assert.Equal(t, 3, db.Restart.MaxRetries)
	assert.Equal(t, 5*time.Second, db.Restart.RetryDelay)
	assert.Equal(t, 1.5, db.Restart.BackoffRate)

	// Dependency condition defaults to started
	app := config.Services[1]
	require.Len(t, app.DependsOn, 1)
	assert.Equal(t, ConditionStarted, app.DependsOn[0].Condition)
}

func TestLoadConfigFromFile_Errors(t *testing.T) {
	_, err := LoadConfigFromFile("/non/existent/stack.yaml")
	assert.Error(t, err)

	filename := writeConfigFile(t, "services: [unclosed")
	_, err = LoadConfigFromFile(filename)
	assert.Error(t, err)
}

func validTestConfig() *StackConfig {
	config := &StackConfig{
		Services: []ServiceConfig{
			{
				Name:      "db",
				Execution: process.ExecutionConfig{Command: "/usr/bin/postgres"},
				HealthCheck: &monitoring.ProbeSpec{
					Kind: monitoring.ProbeKindExec,
					Exec: monitoring.ExecProbeConfig{Command: "pg_isready"},
				},
			},
			{
				Name:      "app",
				Execution: process.ExecutionConfig{Command: "/usr/bin/app"},
				DependsOn: []DependencyConfig{{Service: "db", Condition: ConditionHealthy}},
			},
			{
				Name:      "gateway",
				Execution: process.ExecutionConfig{Command: "/usr/bin/gateway"},
				DependsOn: []DependencyConfig{{Service: "app", Condition: ConditionStarted}},
			},
		},
	}
	setConfigDefaults(config)
	return config
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(config *StackConfig)
		shouldErr bool
	}{
		{"valid_config", func(config *StackConfig) {}, false},
		{"no_services", func(config *StackConfig) { config.Services = nil }, true},
		{"empty_service_name", func(config *StackConfig) { config.Services[0].Name = "" }, true},
		{"invalid_service_name", func(config *StackConfig) { config.Services[0].Name = "db/primary" }, true},
		{
			"duplicate_service_name",
			func(config *StackConfig) { config.Services[1].Name = "db" },
			true,
		},
		{
			"empty_command",
			func(config *StackConfig) { config.Services[0].Execution.Command = "" },
			true,
		},
		{
			"self_dependency",
			func(config *StackConfig) { config.Services[1].DependsOn[0].Service = "app" },
			true,
		},
		{
			"unknown_dependency",
			func(config *StackConfig) { config.Services[1].DependsOn[0].Service = "cache" },
			true,
		},
		{
			"healthy_condition_without_healthcheck",
			func(config *StackConfig) { config.Services[0].HealthCheck = nil },
			true,
		},
		{
			"unknown_dependency_condition",
			func(config *StackConfig) { config.Services[1].DependsOn[0].Condition = "ready" },
			true,
		},
		{
			"dependency_cycle",
			func(config *StackConfig) {
				config.Services[0].DependsOn = []DependencyConfig{{Service: "gateway", Condition: ConditionStarted}}
			},
			true,
		},
		{
			"invalid_restart_policy",
			func(config *StackConfig) { config.Services[0].Restart.Policy = "sometimes" },
			true,
		},
		{
			"backoff_below_one",
			func(config *StackConfig) { config.Services[0].Restart.BackoffRate = 0.5 },
			true,
		},
		{
			"invalid_log_level",
			func(config *StackConfig) { config.Stack.LogLevel = "verbose" },
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validTestConfig()
			tt.mutate(config)

			err := ValidateConfig(config)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStartOrder(t *testing.T) {
	config := validTestConfig()

	order, err := StartOrder(config.Services)
	require.NoError(t, err)
	require.Len(t, order, 3)

	position := make(map[string]int)
	for i, name := range order {
		position[name] = i
	}

	assert.Less(t, position["db"], position["app"])
	assert.Less(t, position["app"], position["gateway"])
}

func TestStartOrder_Cycle(t *testing.T) {
	config := validTestConfig()
	config.Services[0].DependsOn = []DependencyConfig{{Service: "gateway", Condition: ConditionStarted}}

	_, err := StartOrder(config.Services)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}
