package process

import (
	"github.com/avsav1n/stackd/pkg/errors"
)

// ValidateExecutionConfig validates process execution configuration
func ValidateExecutionConfig(config ExecutionConfig) error {
	if config.Command == "" {
		return errors.NewValidationError("command cannot be empty", nil)
	}

	if config.WaitDelay < 0 {
		return errors.NewValidationError("wait_delay cannot be negative", nil)
	}

	for i, env := range config.Environment {
		if env == "" {
			return errors.NewValidationError("environment entry cannot be empty", nil).WithContext("index", i)
		}
	}

	return nil
}
