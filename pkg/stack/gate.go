package stack

import (
	"context"
	"fmt"

	"github.com/avsav1n/stackd/pkg/errors"
)

// waitForDependencies blocks until every dependency of the service has
// reached its required condition. A dependency that fails to start, or
// whose probe turns unhealthy, fails the gate: the dependent never
// starts instead of starting into a broken stack.
func (s *Supervisor) waitForDependencies(ctx context.Context, entry *serviceEntry) error {
	for _, dependency := range entry.config.DependsOn {
		target := s.getService(dependency.Service)
		if target == nil {
			return errors.NewNotFoundError(
				fmt.Sprintf("dependency '%s' is not registered", dependency.Service),
				nil,
			).WithContext("service", entry.config.Name)
		}

		entry.logger.Infof("Waiting for dependency, service: %s, dependency: %s, condition: %s",
			entry.config.Name, dependency.Service, dependency.Condition)

		if err := s.waitForDependency(ctx, entry, target, dependency.Condition); err != nil {
			return err
		}

		entry.logger.Infof("Dependency satisfied, service: %s, dependency: %s, condition: %s",
			entry.config.Name, dependency.Service, dependency.Condition)
	}

	return nil
}

func (s *Supervisor) waitForDependency(ctx context.Context, entry *serviceEntry, target *serviceEntry, condition DependencyCondition) error {
	// Both conditions require the dependency process to be launched first
	select {
	case <-target.started:
	case <-target.failed:
		return errors.NewDependencyError(
			fmt.Sprintf("dependency '%s' failed to start", target.config.Name),
			nil,
		).WithContext("service", entry.config.Name).WithContext("dependency", target.config.Name)
	case <-entry.stopCh:
		return errors.NewCancelledError("service stop requested while waiting for dependencies", nil).
			WithContext("service", entry.config.Name)
	case <-ctx.Done():
		return errors.NewCancelledError("dependency wait cancelled", ctx.Err()).
			WithContext("service", entry.config.Name).WithContext("dependency", target.config.Name)
	}

	if condition == ConditionStarted {
		return nil
	}

	// The healthy channel lives on the entry, not on any single probe:
	// it latches the first successful check of any start attempt, so a
	// dependency that crashes and restarts before reaching a verdict
	// does not strand its waiters. Unhealthy verdicts feed the
	// dependency's own restart policy; the gate only fails once the
	// dependency gives up entirely.
	select {
	case <-target.healthy:
		return nil
	case <-target.failed:
		// First success latches: a dependency that was once healthy
		// satisfies the gate even when both channels are closed.
		select {
		case <-target.healthy:
			return nil
		default:
		}
		return errors.NewDependencyError(
			fmt.Sprintf("dependency '%s' failed before becoming healthy", target.config.Name),
			nil,
		).WithContext("service", entry.config.Name).WithContext("dependency", target.config.Name)
	case <-entry.stopCh:
		return errors.NewCancelledError("service stop requested while waiting for dependencies", nil).
			WithContext("service", entry.config.Name)
	case <-ctx.Done():
		return errors.NewCancelledError("dependency wait cancelled", ctx.Err()).
			WithContext("service", entry.config.Name).WithContext("dependency", target.config.Name)
	}
}
