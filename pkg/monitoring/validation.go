package monitoring

import (
	"net"

	"github.com/avsav1n/stackd/pkg/errors"
)

// ValidateProbeSpec validates a readiness probe specification
func ValidateProbeSpec(spec ProbeSpec) error {
	if err := validateProbeTiming(spec); err != nil {
		return errors.NewValidationError("invalid probe timing", err)
	}

	switch spec.Kind {
	case ProbeKindExec:
		if spec.Exec.Command == "" {
			return errors.NewValidationError("command is required for exec probe", nil)
		}

	case ProbeKindTCP:
		if spec.TCP.Address == "" {
			return errors.NewValidationError("address is required for TCP probe", nil)
		}
		if _, _, err := net.SplitHostPort(spec.TCP.Address); err != nil {
			return errors.NewValidationError("invalid TCP probe address: "+spec.TCP.Address, err)
		}

	default:
		return errors.NewValidationError("unsupported probe kind: "+string(spec.Kind), nil)
	}

	return nil
}

func validateProbeTiming(spec ProbeSpec) error {
	if spec.Interval <= 0 {
		return errors.NewValidationError("probe interval must be positive", nil)
	}

	if spec.Timeout <= 0 {
		return errors.NewValidationError("probe timeout must be positive", nil)
	}

	if spec.Timeout >= spec.Interval {
		return errors.NewValidationError("probe timeout must be less than interval", nil)
	}

	if spec.Retries <= 0 {
		return errors.NewValidationError("probe retries must be positive", nil)
	}

	if spec.StartPeriod < 0 {
		return errors.NewValidationError("probe start period cannot be negative", nil)
	}

	return nil
}
