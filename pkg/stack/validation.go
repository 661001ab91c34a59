package stack

import (
	"fmt"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/monitoring"
	"github.com/avsav1n/stackd/pkg/process"
)

// ValidateServiceName validates service name format and constraints
func ValidateServiceName(name string) error {
	if name == "" {
		return errors.NewValidationError("service name cannot be empty", nil)
	}

	if len(name) > 64 {
		return errors.NewValidationError("service name cannot exceed 64 characters", nil)
	}

	for _, char := range name {
		if !isValidNameChar(char) {
			return errors.NewValidationError("service name contains invalid characters: only letters, numbers, hyphens, and underscores are allowed", nil)
		}
	}

	return nil
}

func isValidNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_'
}

func validateServicesConfig(services []ServiceConfig) error {
	if len(services) == 0 {
		return errors.NewValidationError("at least one service is required", nil)
	}

	// Check for duplicate service names
	seenNames := make(map[string]int)
	for i, service := range services {
		if err := ValidateServiceName(service.Name); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid service name at index %d", i),
				err,
			).WithContext("service", service.Name)
		}

		if prevIndex, exists := seenNames[service.Name]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate service name '%s' found at indices %d and %d", service.Name, prevIndex, i),
				nil,
			)
		}
		seenNames[service.Name] = i

		if err := process.ValidateExecutionConfig(service.Execution); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid execution configuration for service '%s'", service.Name),
				err,
			).WithContext("service", service.Name)
		}

		if service.HealthCheck != nil {
			if err := monitoring.ValidateProbeSpec(*service.HealthCheck); err != nil {
				return errors.NewValidationError(
					fmt.Sprintf("invalid healthcheck for service '%s'", service.Name),
					err,
				).WithContext("service", service.Name)
			}
		}

		if err := validateRestartConfig(service.Restart); err != nil {
			return errors.NewValidationError(
				fmt.Sprintf("invalid restart configuration for service '%s'", service.Name),
				err,
			).WithContext("service", service.Name)
		}
	}

	if err := validateDependencies(services, seenNames); err != nil {
		return err
	}

	// Cycle detection doubles as start order computation
	if _, err := StartOrder(services); err != nil {
		return err
	}

	return nil
}

func validateRestartConfig(config RestartConfig) error {
	switch config.Policy {
	case RestartNever, RestartOnFailure, RestartAlways, RestartUnlessStopped:
	default:
		return errors.NewValidationError(
			fmt.Sprintf("unsupported restart policy: %s", config.Policy),
			nil,
		).WithContext("supported_policies", "never, on-failure, always, unless-stopped")
	}

	if config.MaxRetries < 0 {
		return errors.NewValidationError("max retries cannot be negative", nil)
	}
	if config.RetryDelay < 0 {
		return errors.NewValidationError("retry delay cannot be negative", nil)
	}
	if config.BackoffRate < 1.0 {
		return errors.NewValidationError("backoff rate must be at least 1.0", nil)
	}

	return nil
}

func validateDependencies(services []ServiceConfig, names map[string]int) error {
	for _, service := range services {
		for _, dependency := range service.DependsOn {
			if dependency.Service == service.Name {
				return errors.NewValidationError(
					fmt.Sprintf("service '%s' cannot depend on itself", service.Name),
					nil,
				)
			}

			targetIndex, exists := names[dependency.Service]
			if !exists {
				return errors.NewValidationError(
					fmt.Sprintf("service '%s' depends on unknown service '%s'", service.Name, dependency.Service),
					nil,
				).WithContext("service", service.Name).WithContext("dependency", dependency.Service)
			}

			switch dependency.Condition {
			case ConditionStarted:
			case ConditionHealthy:
				// A healthy gate is meaningless without a probe to report health
				if services[targetIndex].HealthCheck == nil {
					return errors.NewValidationError(
						fmt.Sprintf("service '%s' requires '%s' to be healthy, but '%s' has no healthcheck",
							service.Name, dependency.Service, dependency.Service),
						nil,
					).WithContext("service", service.Name).WithContext("dependency", dependency.Service)
				}
			default:
				return errors.NewValidationError(
					fmt.Sprintf("unsupported dependency condition: %s", dependency.Condition),
					nil,
				).WithContext("supported_conditions", "started, healthy")
			}
		}
	}

	return nil
}

// StartOrder returns service names in dependency order: every service
// appears after all of its dependencies. Fails on dependency cycles.
func StartOrder(services []ServiceConfig) ([]string, error) {
	byName := make(map[string]*ServiceConfig, len(services))
	for i := range services {
		byName[services[i].Name] = &services[i]
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	marks := make(map[string]int, len(services))
	order := make([]string, 0, len(services))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch marks[name] {
		case visited:
			return nil
		case visiting:
			return errors.NewValidationError(
				fmt.Sprintf("dependency cycle detected involving service '%s'", name),
				nil,
			).WithContext("path", fmt.Sprintf("%v", append(path, name)))
		}

		marks[name] = visiting
		service := byName[name]
		for _, dependency := range service.DependsOn {
			if _, exists := byName[dependency.Service]; !exists {
				continue // reported by validateDependencies
			}
			if err := visit(dependency.Service, append(path, name)); err != nil {
				return err
			}
		}
		marks[name] = visited
		order = append(order, name)
		return nil
	}

	for i := range services {
		if err := visit(services[i].Name, nil); err != nil {
			return nil, err
		}
	}

	return order, nil
}
