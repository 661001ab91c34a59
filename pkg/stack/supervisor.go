package stack

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/logging"
	"github.com/avsav1n/stackd/pkg/monitoring"
	"github.com/avsav1n/stackd/pkg/process"
)

// SupervisorState represents the current state of the supervisor
type SupervisorState string

const (
	// SupervisorStateNotStarted is the initial state before Start() is called
	SupervisorStateNotStarted SupervisorState = "not_started"

	// SupervisorStateRunning means the supervisor can manage services
	SupervisorStateRunning SupervisorState = "running"

	// SupervisorStateStopping means the supervisor is shutting down
	SupervisorStateStopping SupervisorState = "stopping"

	// SupervisorStateStopped means the supervisor has stopped
	SupervisorStateStopped SupervisorState = "stopped"
)

// serviceEntry holds everything the supervisor tracks per service
type serviceEntry struct {
	config       ServiceConfig
	stateMachine *ServiceStateMachine
	logger       logging.Logger

	// started is closed once the process has been launched for the
	// first time. healthy is closed on the first successful probe check
	// of any start attempt, so gate waiters survive a restart of the
	// dependency. failed is closed when the service gives up. stopCh is
	// closed when an explicit stop is requested. done is closed when
	// the lifecycle goroutine returns.
	started chan struct{}
	healthy chan struct{}
	failed  chan struct{}
	stopCh  chan struct{}
	done    chan struct{}

	startedOnce sync.Once
	healthyOnce sync.Once
	failedOnce  sync.Once
	stopOnce    sync.Once

	mutex sync.Mutex
	cmd   *exec.Cmd
	probe monitoring.ReadinessProbe
}

func (e *serviceEntry) markStarted() {
	e.startedOnce.Do(func() { close(e.started) })
}

func (e *serviceEntry) markHealthy() {
	e.healthyOnce.Do(func() { close(e.healthy) })
}

func (e *serviceEntry) markFailed() {
	e.failedOnce.Do(func() { close(e.failed) })
}

func (e *serviceEntry) requestStop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

func (e *serviceEntry) stopRequested() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

func (e *serviceEntry) setCmd(cmd *exec.Cmd) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.cmd = cmd
}

func (e *serviceEntry) currentCmd() *exec.Cmd {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.cmd
}

func (e *serviceEntry) setProbe(probe monitoring.ReadinessProbe) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.probe = probe
}

func (e *serviceEntry) currentProbe() monitoring.ReadinessProbe {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.probe
}

// Supervisor manages the lifecycle of a stack of services: dependency
// gated startup, readiness probing, restart policies and ordered
// shutdown.
type Supervisor struct {
	options  StackOptions
	logger   logging.Logger
	services map[string]*serviceEntry
	order    []string
	state    SupervisorState
	mutex    sync.Mutex
	wg       sync.WaitGroup
}

func NewSupervisor(options StackOptions, logger logging.Logger) *Supervisor {
	return &Supervisor{
		options:  options,
		logger:   logger,
		services: make(map[string]*serviceEntry),
		state:    SupervisorStateNotStarted,
	}
}

func (s *Supervisor) AddService(config ServiceConfig) error {
	if err := ValidateServiceName(config.Name); err != nil {
		return errors.NewValidationError("invalid service name", err).WithContext("service", config.Name)
	}

	if err := process.ValidateExecutionConfig(config.Execution); err != nil {
		return errors.NewValidationError("invalid service execution configuration", err).WithContext("service", config.Name)
	}

	s.logger.Infof("Adding service, name: %s, dependencies: %d, healthcheck: %t, restart_policy: %s",
		config.Name, len(config.DependsOn), config.HealthCheck != nil, config.Restart.Policy)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.services[config.Name]; exists {
		return errors.NewConflictError("service already exists", nil).WithContext("service", config.Name)
	}

	logger := logging.NewPrefixLogger("service: "+config.Name+" , ", s.logger)

	stateMachine := NewServiceStateMachine(config.Name, logger)
	if err := stateMachine.Transition(ServiceStateRegistered, "add", nil); err != nil {
		return errors.NewInternalError("failed to transition service to registered state", err).WithContext("service", config.Name)
	}

	s.services[config.Name] = &serviceEntry{
		config:       config,
		stateMachine: stateMachine,
		logger:       logger,
		started:      make(chan struct{}),
		healthy:      make(chan struct{}),
		failed:       make(chan struct{}),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.order = append(s.order, config.Name)

	s.logger.Infof("Service added, name: %s, state: %s", config.Name, stateMachine.GetCurrentState())
	return nil
}

// Start transitions the supervisor to running. Services are started
// separately with StartAll.
func (s *Supervisor) Start(ctx context.Context) {
	s.logger.Infof("Starting supervisor...")
	s.setState(SupervisorStateRunning)
	s.logger.Infof("Supervisor started")
}

// StartAll launches every registered service. Each service gets its own
// lifecycle goroutine that first waits on its dependency gate, so the
// launch order follows the dependency graph without a global barrier.
func (s *Supervisor) StartAll(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	if s.GetState() != SupervisorStateRunning {
		return errors.NewValidationError("supervisor must be running to start services", nil).
			WithContext("supervisor_state", string(s.GetState()))
	}

	entries := s.getAllServices()

	configs := make([]ServiceConfig, 0, len(entries))
	for _, name := range s.startNames() {
		configs = append(configs, entries[name].config)
	}

	order, err := StartOrder(configs)
	if err != nil {
		return err
	}

	s.logger.Infof("Starting services, count: %d, order: %v", len(order), order)

	for _, name := range order {
		entry := entries[name]

		if entry.config.Enabled != nil && !*entry.config.Enabled {
			s.logger.Infof("Skipping disabled service, name: %s", name)
			continue
		}

		s.wg.Add(1)
		go func(entry *serviceEntry) {
			defer s.wg.Done()
			s.runLifecycle(ctx, entry)
		}(entry)
	}

	return nil
}

// StopService requests a stop, terminates the running process and waits
// for the lifecycle goroutine to finish.
func (s *Supervisor) StopService(ctx context.Context, name string) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	entry := s.getService(name)
	if entry == nil {
		return errors.NewNotFoundError("service not found", nil).WithContext("service", name)
	}

	s.logger.Infof("Stopping service, name: %s", name)

	entry.requestStop()

	// A service whose lifecycle never launched has nothing to wait for
	if entry.stateMachine.GetCurrentState() == ServiceStateRegistered {
		entry.stateMachine.Transition(ServiceStateStopped, "stop", nil)
		return nil
	}

	// A running process is terminated; a service blocked on its gate or
	// restart delay unblocks through stopCh.
	if cmd := entry.currentCmd(); cmd != nil && cmd.Process != nil {
		if err := entry.stateMachine.Transition(ServiceStateStopping, "stop", nil); err != nil {
			entry.logger.Debugf("Stop transition skipped, service: %s, state: %s", name, entry.stateMachine.GetCurrentState())
		}
		if err := process.Terminate(cmd.Process.Pid, entry.config.GracefulTimeout, name, entry.logger); err != nil {
			entry.logger.Warnf("Failed to terminate service process, service: %s, error: %v", name, err)
		}
	}

	select {
	case <-entry.done:
	case <-ctx.Done():
		return errors.NewCancelledError("service stop was cancelled", ctx.Err()).WithContext("service", name)
	}

	s.logger.Infof("Service stopped, name: %s, state: %s", name, entry.stateMachine.GetCurrentState())
	return nil
}

// Stop shuts the stack down in reverse dependency order.
func (s *Supervisor) Stop(ctx context.Context) {
	s.logger.Infof("Stopping supervisor...")

	s.setState(SupervisorStateStopping)

	if ctx == nil {
		ctx = context.Background()
	}

	forceShutdownTimeout := s.options.ForceShutdownTimeout
	if forceShutdownTimeout <= 0 {
		forceShutdownTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, forceShutdownTimeout)
	defer cancel()

	entries := s.getAllServices()
	names := s.startNames()

	configs := make([]ServiceConfig, 0, len(names))
	for _, name := range names {
		configs = append(configs, entries[name].config)
	}

	order, err := StartOrder(configs)
	if err != nil {
		// Fall back to registration order when the graph is broken
		order = names
	}

	errorCollection := errors.NewErrorCollection()
	for i := len(order) - 1; i >= 0; i-- {
		if err := s.StopService(ctx, order[i]); err != nil {
			s.logger.Errorf("Failed to stop service, name: %s, error: %v", order[i], err)
			errorCollection.Add(errors.NewProcessError("failed to stop service", err).WithContext("service", order[i]))
		}
	}

	if errorCollection.HasErrors() {
		s.logger.Errorf("Some services failed to stop: %v", errorCollection.Error())
	}

	s.wg.Wait()
	s.setState(SupervisorStateStopped)

	s.logger.Infof("Supervisor stopped")
}

// GetServiceState returns the current state of a service
func (s *Supervisor) GetServiceState(name string) (ServiceState, error) {
	entry := s.getService(name)
	if entry == nil {
		return ServiceStateUnknown, errors.NewNotFoundError("service not found", nil).WithContext("service", name)
	}
	return entry.stateMachine.GetCurrentState(), nil
}

// GetServiceStateInfo returns state with transition metadata for a service
func (s *Supervisor) GetServiceStateInfo(name string) (ServiceStateInfo, error) {
	entry := s.getService(name)
	if entry == nil {
		return ServiceStateInfo{}, errors.NewNotFoundError("service not found", nil).WithContext("service", name)
	}
	return entry.stateMachine.GetStateInfo(), nil
}

// GetServiceProbeState returns the readiness probe state of a service
func (s *Supervisor) GetServiceProbeState(name string) (monitoring.ProbeState, error) {
	entry := s.getService(name)
	if entry == nil {
		return monitoring.ProbeState{}, errors.NewNotFoundError("service not found", nil).WithContext("service", name)
	}

	probe := entry.currentProbe()
	if probe == nil {
		return monitoring.ProbeState{}, errors.NewNotFoundError("service has no readiness probe", nil).WithContext("service", name)
	}

	return probe.State(), nil
}

// GetState returns the current state of the supervisor
func (s *Supervisor) GetState() SupervisorState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// runLifecycle drives one service from its dependency gate through
// start attempts, probing and the restart policy, until the service
// stops or gives up.
func (s *Supervisor) runLifecycle(ctx context.Context, entry *serviceEntry) {
	defer close(entry.done)

	name := entry.config.Name

	if err := entry.stateMachine.Transition(ServiceStateWaiting, "start", nil); err != nil {
		entry.logger.Errorf("Failed to transition service to waiting state, service: %s, error: %v", name, err)
		entry.markFailed()
		return
	}

	if err := s.waitForDependencies(ctx, entry); err != nil {
		if entry.stopRequested() || ctx.Err() != nil {
			entry.stateMachine.Transition(ServiceStateStopped, "stop", err)
			entry.markFailed()
			return
		}
		entry.logger.Errorf("Dependency gate failed, service: %s, error: %v", name, err)
		entry.stateMachine.Transition(ServiceStateFailed, "start", err)
		entry.markFailed()
		return
	}

	// A stop that raced the gate must not launch the process
	if entry.stopRequested() {
		entry.stateMachine.Transition(ServiceStateStopped, "stop", nil)
		return
	}

	attempt := 0
	delay := entry.config.Restart.RetryDelay

	for {
		if err := entry.stateMachine.Transition(ServiceStateStarting, "start", nil); err != nil {
			entry.logger.Errorf("Failed to transition service to starting state, service: %s, error: %v", name, err)
			entry.markFailed()
			return
		}

		exitCode, runErr := s.runAttempt(ctx, entry)
		if runErr != nil {
			entry.logger.Errorf("Failed to start service, service: %s, error: %v", name, runErr)
			entry.stateMachine.Transition(ServiceStateFailed, "start", runErr)
			entry.markFailed()
			return
		}

		if entry.stopRequested() || ctx.Err() != nil {
			entry.stateMachine.Transition(ServiceStateStopped, "stop", nil)
			return
		}

		if !shouldRestart(entry.config.Restart.Policy, exitCode) {
			if exitCode == 0 {
				entry.logger.Infof("Service exited cleanly, service: %s", name)
				entry.stateMachine.Transition(ServiceStateStopped, "exit", nil)
			} else {
				entry.logger.Errorf("Service failed, service: %s, exit_code: %d", name, exitCode)
				entry.stateMachine.Transition(ServiceStateFailed, "exit", nil)
				entry.markFailed()
			}
			return
		}

		if attempt >= entry.config.Restart.MaxRetries {
			entry.logger.Errorf("Service restart budget exhausted, service: %s, attempts: %d, exit_code: %d",
				name, attempt, exitCode)
			entry.stateMachine.Transition(ServiceStateFailed, "restart", nil)
			entry.markFailed()
			return
		}

		attempt++
		entry.logger.Warnf("Restarting service, service: %s, attempt: %d/%d, delay: %v, exit_code: %d",
			name, attempt, entry.config.Restart.MaxRetries, delay, exitCode)

		if err := entry.stateMachine.Transition(ServiceStateRestarting, "restart", nil); err != nil {
			entry.logger.Errorf("Failed to transition service to restarting state, service: %s, error: %v", name, err)
			entry.markFailed()
			return
		}

		select {
		case <-time.After(delay):
		case <-entry.stopCh:
			entry.stateMachine.Transition(ServiceStateStopped, "stop", nil)
			return
		case <-ctx.Done():
			entry.stateMachine.Transition(ServiceStateStopped, "stop", ctx.Err())
			return
		}

		delay = time.Duration(float64(delay) * entry.config.Restart.BackoffRate)
	}
}

// runAttempt launches the process once and blocks until it exits.
// Returns the exit code; a non-nil error means the process never ran.
func (s *Supervisor) runAttempt(ctx context.Context, entry *serviceEntry) (int, error) {
	name := entry.config.Name

	cmd, stdout, err := process.Start(ctx, entry.config.Execution, name, entry.logger)
	if err != nil {
		return -1, err
	}
	entry.setCmd(cmd)

	go process.ForwardOutput(stdout, name, entry.logger)

	// Each attempt gets a fresh probe: unhealthy is terminal per
	// attempt, a restart starts probing from scratch. The first
	// success of any attempt latches the entry-level healthy channel
	// that gate waiters select on. The probe is in place before
	// started is closed.
	var probe monitoring.ReadinessProbe
	if entry.config.HealthCheck != nil {
		probe = monitoring.NewReadinessProbe(*entry.config.HealthCheck, name, entry.logger)
		probe.SetHealthyCallback(entry.markHealthy)
		probe.SetUnhealthyCallback(func(reason string) {
			entry.logger.Errorf("Service unhealthy, terminating, service: %s, reason: %s", name, reason)
			if err := process.Terminate(cmd.Process.Pid, entry.config.GracefulTimeout, name, entry.logger); err != nil {
				entry.logger.Warnf("Failed to terminate unhealthy service, service: %s, error: %v", name, err)
			}
		})
		entry.setProbe(probe)

		if err := probe.Start(ctx); err != nil {
			process.Terminate(cmd.Process.Pid, entry.config.GracefulTimeout, name, entry.logger)
			cmd.Wait()
			return -1, err
		}
	}

	entry.markStarted()

	if err := entry.stateMachine.Transition(ServiceStateRunning, "start", nil); err != nil {
		entry.logger.Errorf("Failed to transition service to running state, service: %s, error: %v", name, err)
	}

	waitErr := cmd.Wait()
	exitCode := process.ExitCode(waitErr)

	if probe != nil {
		probe.Stop()
	}

	entry.logger.Infof("Service process exited, service: %s, exit_code: %d", name, exitCode)
	return exitCode, nil
}

func shouldRestart(policy RestartPolicy, exitCode int) bool {
	switch policy {
	case RestartAlways, RestartUnlessStopped:
		return true
	case RestartOnFailure:
		return exitCode != 0
	default:
		return false
	}
}

func (s *Supervisor) getService(name string) *serviceEntry {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.services[name]
}

// getAllServices returns a copy of all service entries under lock
func (s *Supervisor) getAllServices() map[string]*serviceEntry {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entriesCopy := make(map[string]*serviceEntry, len(s.services))
	for name, entry := range s.services {
		entriesCopy[name] = entry
	}
	return entriesCopy
}

// startNames returns service names in registration order under lock
func (s *Supervisor) startNames() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string{}, s.order...)
}

func (s *Supervisor) setState(state SupervisorState) {
	s.mutex.Lock()
	s.state = state
	s.mutex.Unlock()
}
