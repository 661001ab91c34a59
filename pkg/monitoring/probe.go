package monitoring

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/logging"
)

type ProbeKind string

const (
	ProbeKindExec ProbeKind = "exec"
	ProbeKindTCP  ProbeKind = "tcp"
)

type ExecProbeConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

type TCPProbeConfig struct {
	Address string `yaml:"address"`
}

// ProbeSpec describes a readiness probe: the check command and its
// timing budget. retries x interval bounds the time from the end of
// start_period until the service is declared unhealthy.
type ProbeSpec struct {
	Kind ProbeKind `yaml:"kind"`

	// Exec probe (shell-invoked readiness command)
	Exec ExecProbeConfig `yaml:"exec,omitempty"`

	// TCP probe
	TCP TCPProbeConfig `yaml:"tcp,omitempty"`

	// Timing parameters
	Interval    time.Duration `yaml:"interval,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Retries     int           `yaml:"retries,omitempty"`
	StartPeriod time.Duration `yaml:"start_period,omitempty"`
}

type ProbeStatus string

const (
	// ProbeStatusStarting covers the start_period grace window; no
	// checks run and no failures are counted.
	ProbeStatusStarting ProbeStatus = "starting"

	// ProbeStatusProbing means checks are running but none has
	// succeeded yet.
	ProbeStatusProbing ProbeStatus = "probing"

	// ProbeStatusHealthy is entered on the first successful check.
	ProbeStatusHealthy ProbeStatus = "healthy"

	// ProbeStatusUnhealthy is terminal for the current start attempt.
	ProbeStatusUnhealthy ProbeStatus = "unhealthy"
)

type ProbeState struct {
	Status              ProbeStatus
	LastCheck           time.Time
	Message             string
	ConsecutiveFailures int
	FirstHealthyAt      time.Time
}

// UnhealthyCallback is invoked once when the probe reaches the
// unhealthy terminal state. Used by the supervisor's restart policy.
type UnhealthyCallback func(reason string)

// ReadinessProbe runs a periodic check against a service and exposes
// its health state to the health gate.
type ReadinessProbe interface {
	Start(ctx context.Context) error
	Stop()
	State() ProbeState

	// Healthy is closed on the first successful check.
	Healthy() <-chan struct{}

	// Unhealthy is closed when the configured number of consecutive
	// failures is reached. Terminal for this start attempt.
	Unhealthy() <-chan struct{}

	// SetHealthyCallback registers a callback invoked once on the first
	// successful check. Used by the supervisor to latch health across
	// restart attempts.
	SetHealthyCallback(callback func())

	SetUnhealthyCallback(callback UnhealthyCallback)
}

type readinessProbe struct {
	spec              ProbeSpec
	state             ProbeState
	healthyCh         chan struct{}
	unhealthyCh       chan struct{}
	stopCh            chan struct{}
	wg                sync.WaitGroup
	mutex             sync.Mutex
	logger            logging.Logger
	id                string
	healthyCallback   func()
	unhealthyCallback UnhealthyCallback
}

func NewReadinessProbe(spec ProbeSpec, id string, logger logging.Logger) ReadinessProbe {
	return &readinessProbe{
		spec:        spec,
		state:       ProbeState{Status: ProbeStatusStarting},
		healthyCh:   make(chan struct{}),
		unhealthyCh: make(chan struct{}),
		stopCh:      make(chan struct{}),
		logger:      logger,
		id:          id,
	}
}

func (p *readinessProbe) Start(ctx context.Context) error {
	p.logger.Infof("Starting readiness probe, id: %s, kind: %s, interval: %v, retries: %d, start_period: %v",
		p.id, p.spec.Kind, p.spec.Interval, p.spec.Retries, p.spec.StartPeriod)

	if err := ValidateProbeSpec(p.spec); err != nil {
		p.logger.Errorf("Probe spec validation failed, id: %s, error: %v", p.id, err)
		return errors.NewValidationError("invalid probe spec", err).WithContext("id", p.id)
	}

	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

func (p *readinessProbe) Stop() {
	p.logger.Debugf("Stopping readiness probe, id: %s", p.id)
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Debugf("Readiness probe stopped, id: %s", p.id)
}

func (p *readinessProbe) State() ProbeState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.state
}

func (p *readinessProbe) Healthy() <-chan struct{} {
	return p.healthyCh
}

func (p *readinessProbe) Unhealthy() <-chan struct{} {
	return p.unhealthyCh
}

func (p *readinessProbe) SetHealthyCallback(callback func()) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.healthyCallback = callback
}

func (p *readinessProbe) SetUnhealthyCallback(callback UnhealthyCallback) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.unhealthyCallback = callback
}

func (p *readinessProbe) loop(ctx context.Context) {
	defer p.wg.Done()

	// Grace window: failures during start_period are not counted
	// because no checks run at all.
	if p.spec.StartPeriod > 0 {
		p.logger.Debugf("Probe start period, id: %s, duration: %v", p.id, p.spec.StartPeriod)
		select {
		case <-time.After(p.spec.StartPeriod):
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}

	p.setStatus(ProbeStatusProbing, "probing started")

	ticker := time.NewTicker(p.spec.Interval)
	defer ticker.Stop()

	// First check runs immediately after the start period.
	if terminal := p.performCheck(ctx); terminal {
		return
	}

	for {
		select {
		case <-ticker.C:
			if terminal := p.performCheck(ctx); terminal {
				return
			}
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// performCheck runs one check and updates state. Returns true when the
// probe has reached its unhealthy terminal state.
func (p *readinessProbe) performCheck(ctx context.Context) bool {
	var healthy bool
	var message string

	switch p.spec.Kind {
	case ProbeKindExec:
		healthy, message = p.checkExec(ctx)
	case ProbeKindTCP:
		healthy, message = p.checkTCP()
	default:
		healthy = false
		message = "unknown probe kind: " + string(p.spec.Kind)
		p.logger.Errorf("Unknown probe kind, id: %s, kind: %s", p.id, p.spec.Kind)
	}

	return p.updateState(healthy, message)
}

func (p *readinessProbe) updateState(healthy bool, message string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.state.LastCheck = time.Now()
	p.state.Message = message

	if healthy {
		p.state.ConsecutiveFailures = 0
		if p.state.Status != ProbeStatusHealthy {
			p.state.Status = ProbeStatusHealthy
			p.state.FirstHealthyAt = p.state.LastCheck
			p.logger.Infof("Readiness probe healthy, id: %s, message: %s", p.id, message)
			close(p.healthyCh)

			if p.healthyCallback != nil {
				callback := p.healthyCallback
				go callback()
			}
		} else {
			p.logger.Debugf("Readiness probe check passed, id: %s", p.id)
		}
		return false
	}

	p.state.ConsecutiveFailures++
	p.logger.Warnf("Readiness probe check failed, id: %s, consecutive_failures: %d, retries: %d, message: %s",
		p.id, p.state.ConsecutiveFailures, p.spec.Retries, message)

	if p.state.ConsecutiveFailures < p.spec.Retries {
		return false
	}

	// Retry budget exhausted: terminal for this start attempt. Gated
	// dependents stay blocked; only a service restart resets the probe.
	p.state.Status = ProbeStatusUnhealthy
	p.logger.Errorf("Readiness probe unhealthy, id: %s, consecutive_failures: %d, message: %s",
		p.id, p.state.ConsecutiveFailures, message)
	close(p.unhealthyCh)

	if p.unhealthyCallback != nil {
		callback := p.unhealthyCallback
		go callback(message)
	}

	return true
}

func (p *readinessProbe) setStatus(status ProbeStatus, message string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.state.Status = status
	p.state.Message = message
}

func (p *readinessProbe) checkExec(ctx context.Context) (bool, string) {
	p.logger.Debugf("Running exec probe, id: %s, command: %s, args: %v", p.id, p.spec.Exec.Command, p.spec.Exec.Args)

	checkCtx, cancel := context.WithTimeout(ctx, p.spec.Timeout)
	defer cancel()

	cmd := exec.CommandContext(checkCtx, p.spec.Exec.Command, p.spec.Exec.Args...)
	output, err := cmd.CombinedOutput()

	if checkCtx.Err() == context.DeadlineExceeded {
		return false, fmt.Sprintf("exec probe timed out after %v", p.spec.Timeout)
	}

	if err != nil {
		return false, fmt.Sprintf("exec probe failed: %v, output: %s", err, string(output))
	}

	return true, "exec probe passed"
}

func (p *readinessProbe) checkTCP() (bool, string) {
	p.logger.Debugf("Running TCP probe, id: %s, address: %s", p.id, p.spec.TCP.Address)

	conn, err := net.DialTimeout("tcp", p.spec.TCP.Address, p.spec.Timeout)
	if err != nil {
		return false, fmt.Sprintf("TCP probe failed: %v", err)
	}
	defer conn.Close()

	return true, "TCP connection successful to " + p.spec.TCP.Address
}
