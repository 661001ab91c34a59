package stack

import (
	"fmt"
	"sync"
	"time"

	"github.com/avsav1n/stackd/pkg/errors"
	"github.com/avsav1n/stackd/pkg/logging"
)

// ServiceState represents the current lifecycle state of a service
type ServiceState string

const (
	// ServiceStateUnknown is the zero value before registration
	ServiceStateUnknown ServiceState = "unknown"

	// ServiceStateRegistered means the service is known but not started
	ServiceStateRegistered ServiceState = "registered"

	// ServiceStateWaiting means the service is blocked on its
	// dependency gate
	ServiceStateWaiting ServiceState = "waiting"

	// ServiceStateStarting means the process launch is in progress
	ServiceStateStarting ServiceState = "starting"

	// ServiceStateRunning means the process is up
	ServiceStateRunning ServiceState = "running"

	// ServiceStateRestarting means the restart policy is scheduling a
	// new start attempt
	ServiceStateRestarting ServiceState = "restarting"

	// ServiceStateStopping means shutdown is in progress
	ServiceStateStopping ServiceState = "stopping"

	// ServiceStateStopped means the process exited after an explicit stop
	ServiceStateStopped ServiceState = "stopped"

	// ServiceStateFailed means the service gave up: start failure,
	// exhausted retry budget, or a failed dependency gate
	ServiceStateFailed ServiceState = "failed"
)

var validTransitions = map[ServiceState][]ServiceState{
	ServiceStateUnknown:    {ServiceStateRegistered},
	ServiceStateRegistered: {ServiceStateWaiting, ServiceStateStarting, ServiceStateStopped},
	ServiceStateWaiting:    {ServiceStateStarting, ServiceStateFailed, ServiceStateStopped},
	ServiceStateStarting:   {ServiceStateRunning, ServiceStateFailed, ServiceStateStopping},
	ServiceStateRunning:    {ServiceStateStopping, ServiceStateRestarting, ServiceStateStopped, ServiceStateFailed},
	ServiceStateRestarting: {ServiceStateStarting, ServiceStateFailed, ServiceStateStopped},
	ServiceStateStopping:   {ServiceStateStopped, ServiceStateFailed},
	ServiceStateStopped:    {ServiceStateWaiting, ServiceStateStarting},
	ServiceStateFailed:     {ServiceStateWaiting, ServiceStateStarting},
}

// ServiceStateInfo provides state with transition metadata
type ServiceStateInfo struct {
	ServiceName    string
	CurrentState   ServiceState
	PreviousState  ServiceState
	LastTransition time.Time
	LastOperation  string
	LastError      error
}

// ServiceStateMachine tracks and validates service lifecycle transitions
type ServiceStateMachine struct {
	serviceName    string
	currentState   ServiceState
	previousState  ServiceState
	lastTransition time.Time
	lastOperation  string
	lastError      error
	mutex          sync.Mutex
	logger         logging.Logger
}

func NewServiceStateMachine(serviceName string, logger logging.Logger) *ServiceStateMachine {
	return &ServiceStateMachine{
		serviceName:    serviceName,
		currentState:   ServiceStateUnknown,
		lastTransition: time.Now(),
		logger:         logger,
	}
}

// Transition moves the service to the target state, rejecting moves the
// lifecycle does not allow.
func (sm *ServiceStateMachine) Transition(target ServiceState, operation string, cause error) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if !sm.isTransitionAllowed(sm.currentState, target) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid state transition from '%s' to '%s' for operation '%s'",
				sm.currentState, target, operation),
			nil,
		).WithContext("service", sm.serviceName).
			WithContext("current_state", string(sm.currentState)).
			WithContext("target_state", string(target))
	}

	sm.logger.Debugf("Service state transition, service: %s, from: %s, to: %s, operation: %s",
		sm.serviceName, sm.currentState, target, operation)

	sm.previousState = sm.currentState
	sm.currentState = target
	sm.lastTransition = time.Now()
	sm.lastOperation = operation
	sm.lastError = cause

	return nil
}

func (sm *ServiceStateMachine) isTransitionAllowed(from, to ServiceState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GetCurrentState returns the current state of the service
func (sm *ServiceStateMachine) GetCurrentState() ServiceState {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.currentState
}

// GetStateInfo returns state with transition metadata
func (sm *ServiceStateMachine) GetStateInfo() ServiceStateInfo {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return ServiceStateInfo{
		ServiceName:    sm.serviceName,
		CurrentState:   sm.currentState,
		PreviousState:  sm.previousState,
		LastTransition: sm.lastTransition,
		LastOperation:  sm.lastOperation,
		LastError:      sm.lastError,
	}
}

// IsOperationAllowed checks whether an operation makes sense in the
// current state without performing it.
func (sm *ServiceStateMachine) IsOperationAllowed(operation string) bool {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	switch operation {
	case "add":
		return sm.currentState == ServiceStateUnknown
	case "start":
		return sm.currentState == ServiceStateRegistered ||
			sm.currentState == ServiceStateStopped ||
			sm.currentState == ServiceStateFailed
	case "stop":
		return sm.currentState == ServiceStateWaiting ||
			sm.currentState == ServiceStateStarting ||
			sm.currentState == ServiceStateRunning ||
			sm.currentState == ServiceStateRestarting
	default:
		return false
	}
}

// ValidateOperation returns a descriptive error when an operation is
// not allowed in the current state.
func (sm *ServiceStateMachine) ValidateOperation(operation string) error {
	if sm.IsOperationAllowed(operation) {
		return nil
	}

	return errors.NewValidationError(
		fmt.Sprintf("operation '%s' is not allowed in state '%s'", operation, sm.GetCurrentState()),
		nil,
	).WithContext("service", sm.serviceName).
		WithContext("current_state", string(sm.GetCurrentState()))
}
