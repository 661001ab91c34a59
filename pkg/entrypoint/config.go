package entrypoint

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/process"
)

// Config describes the application container's startup sequence: the
// migration step, the server worker pool, and the shared socket they
// serve on.
type Config struct {
	// SocketPath is the bind point on the shared volume, read by the
	// gateway.
	SocketPath string `yaml:"socket_path"`

	// Workers is the size of the server worker pool. All workers share
	// one listener; the OS distributes incoming connections.
	Workers int `yaml:"workers,omitempty"`

	// Migrate runs to completion before any worker starts.
	Migrate process.ExecutionConfig `yaml:"migrate"`

	// Server is the worker command. Each worker inherits the shared
	// listener on fd 3.
	Server process.ExecutionConfig `yaml:"server"`

	// TrustForwardedHeaders tells workers to honor X-Forwarded-* from
	// the gateway. Only safe because the socket is reachable solely
	// through the shared volume.
	TrustForwardedHeaders bool `yaml:"trust_forwarded_headers,omitempty"`

	GracefulTimeout time.Duration `yaml:"graceful_timeout,omitempty"`
}

// LoadConfigFromFile loads entrypoint configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setConfigDefaults(config *Config) {
	if config.SocketPath == "" {
		config.SocketPath = "/run/stackd/app.sock"
	}
	if config.Workers == 0 {
		config.Workers = 4
	}
	if config.GracefulTimeout == 0 {
		config.GracefulTimeout = 10 * time.Second
	}
	if config.Migrate.WaitDelay == 0 {
		config.Migrate.WaitDelay = 10 * time.Second
	}
	if config.Server.WaitDelay == 0 {
		config.Server.WaitDelay = 10 * time.Second
	}
}

// ValidateConfig validates entrypoint configuration
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if config.SocketPath == "" {
		return errors.NewValidationError("socket path cannot be empty", nil)
	}

	if config.Workers <= 0 {
		return errors.NewValidationError("workers must be positive", nil)
	}

	if err := process.ValidateExecutionConfig(config.Migrate); err != nil {
		return errors.NewValidationError("invalid migrate configuration", err)
	}

	if err := process.ValidateExecutionConfig(config.Server); err != nil {
		return errors.NewValidationError("invalid server configuration", err)
	}

	return nil
}
