package gateway

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avsav1n/stackd/pkg/errors"
)

// Config is the gateway's routing configuration, loaded from a
// read-only configuration directory mounted into the gateway container.
type Config struct {
	Listen ListenOptions `yaml:"listen"`
	Routes []Route       `yaml:"routes"`
}

type ListenOptions struct {
	// Port is the externally exposed endpoint.
	Port        int           `yaml:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty"`
}

// Route forwards requests under a path prefix to an upstream unix
// socket on the shared volume.
type Route struct {
	Prefix         string `yaml:"prefix"`
	UpstreamSocket string `yaml:"upstream_socket"`
}

const routesFileName = "routes.yaml"

// LoadConfigFromDir loads gateway configuration from the routes file
// inside the configuration directory.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfigFromFile(filepath.Join(dir, routesFileName))
}

// LoadConfigFromFile loads gateway configuration from a YAML file
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
	if config.Listen.Port == 0 {
		config.Listen.Port = 8080
	}
	if config.Listen.ReadTimeout == 0 {
		config.Listen.ReadTimeout = 30 * time.Second
	}
	for i := range config.Routes {
		if config.Routes[i].Prefix == "" {
			config.Routes[i].Prefix = "/"
		}
	}
}

// ValidateConfig validates gateway configuration
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if config.Listen.Port <= 0 || config.Listen.Port > 65535 {
		return errors.NewValidationError("listen port must be between 1 and 65535", nil)
	}

	if len(config.Routes) == 0 {
		return errors.NewValidationError("at least one route is required", nil)
	}

	seenPrefixes := make(map[string]int)
	for i, route := range config.Routes {
		if !strings.HasPrefix(route.Prefix, "/") {
			return errors.NewValidationError("route prefix must start with '/'", nil).
				WithContext("prefix", route.Prefix).WithContext("index", i)
		}
		if route.UpstreamSocket == "" {
			return errors.NewValidationError("route upstream socket cannot be empty", nil).
				WithContext("prefix", route.Prefix).WithContext("index", i)
		}
		if previous, exists := seenPrefixes[route.Prefix]; exists {
			return errors.NewValidationError("duplicate route prefix", nil).
				WithContext("prefix", route.Prefix).
				WithContext("indices", []int{previous, i})
		}
		seenPrefixes[route.Prefix] = i
	}

	return nil
}
