package stack

import (
	"os"
	"time"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/monitoring"
	"github.com/avsav1n/stackd/pkg/process"

	"gopkg.in/yaml.v3"
)

// StackConfig represents the top-level configuration file structure
type StackConfig struct {
	Stack    StackOptions    `yaml:"stack"`
	Services []ServiceConfig `yaml:"services"`
}

// StackOptions represents supervisor-level configuration
type StackOptions struct {
	LogLevel             string        `yaml:"log_level,omitempty"`
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty"`
}

// ServiceConfig represents a single service in the stack
type ServiceConfig struct {
	Name            string                  `yaml:"name"`
	Enabled         *bool                   `yaml:"enabled,omitempty"` // Pointer to distinguish unset from false
	Execution       process.ExecutionConfig `yaml:"execution"`
	DependsOn       []DependencyConfig      `yaml:"depends_on,omitempty"`
	HealthCheck     *monitoring.ProbeSpec   `yaml:"healthcheck,omitempty"`
	Restart         RestartConfig           `yaml:"restart,omitempty"`
	GracefulTimeout time.Duration           `yaml:"graceful_timeout,omitempty"`
}

// DependencyCondition controls how far a dependency must have
// progressed before the dependent service is allowed to start.
type DependencyCondition string

const (
	// ConditionStarted gates only on the dependency process being
	// launched. Connection-level failures stay the dependent's problem.
	ConditionStarted DependencyCondition = "started"

	// ConditionHealthy gates on the dependency's readiness probe
	// reporting its first success.
	ConditionHealthy DependencyCondition = "healthy"
)

// DependencyConfig declares an edge in the startup order graph
type DependencyConfig struct {
	Service   string              `yaml:"service"`
	Condition DependencyCondition `yaml:"condition,omitempty"`
}

// RestartPolicy controls what happens when a service process exits or
// its readiness probe turns unhealthy.
type RestartPolicy string

const (
	RestartNever         RestartPolicy = "never"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartAlways        RestartPolicy = "always"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// RestartConfig configures the retry budget for a service
type RestartConfig struct {
	Policy      RestartPolicy `yaml:"policy,omitempty"`
	MaxRetries  int           `yaml:"max_retries,omitempty"`
	RetryDelay  time.Duration `yaml:"retry_delay,omitempty"`
	BackoffRate float64       `yaml:"backoff_rate,omitempty"`
}

// LoadConfigFromFile loads stack configuration from a YAML file
func LoadConfigFromFile(filename string) (*StackConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config StackConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *StackConfig) {
	if config.Stack.LogLevel == "" {
		config.Stack.LogLevel = "info"
	}
	if config.Stack.ForceShutdownTimeout == 0 {
		config.Stack.ForceShutdownTimeout = 30 * time.Second
	}

	for i := range config.Services {
		service := &config.Services[i]

		// Default enabled to true if not specified
		if service.Enabled == nil {
			enabled := true
			service.Enabled = &enabled
		}

		if service.Execution.WaitDelay == 0 {
			service.Execution.WaitDelay = 10 * time.Second
		}
		if service.GracefulTimeout == 0 {
			service.GracefulTimeout = 10 * time.Second
		}

		for j := range service.DependsOn {
			if service.DependsOn[j].Condition == "" {
				service.DependsOn[j].Condition = ConditionStarted
			}
		}

		if service.HealthCheck != nil {
			setProbeDefaults(service.HealthCheck)
		}

		setRestartDefaults(&service.Restart)
	}
}

func setProbeDefaults(spec *monitoring.ProbeSpec) {
	if spec.Interval == 0 {
		spec.Interval = 90 * time.Second
	}
	if spec.Timeout == 0 {
		spec.Timeout = 10 * time.Second
	}
	if spec.Retries == 0 {
		spec.Retries = 5
	}
	if spec.StartPeriod == 0 {
		spec.StartPeriod = 5 * time.Second
	}
}

func setRestartDefaults(config *RestartConfig) {
	if config.Policy == "" {
		config.Policy = RestartNever
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.BackoffRate == 0 {
		config.BackoffRate = 1.5
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *StackConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateStackOptions(&config.Stack); err != nil {
		return errors.NewValidationError("invalid stack configuration", err)
	}

	if err := validateServicesConfig(config.Services); err != nil {
		return errors.NewValidationError("invalid services configuration", err)
	}

	return nil
}

func validateStackOptions(options *StackOptions) error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if options.LogLevel != "" {
		valid := false
		for _, level := range validLogLevels {
			if options.LogLevel == level {
				valid = true
				break
			}
		}
		if !valid {
			return errors.NewValidationError("invalid log level: "+options.LogLevel, nil).
				WithContext("valid_levels", "debug, info, warn, error")
		}
	}

	if options.ForceShutdownTimeout < 0 {
		return errors.NewValidationError("force shutdown timeout cannot be negative", nil)
	}

	return nil
}
