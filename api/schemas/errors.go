package schemas

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the agent's current state.
	ErrInvalidState = errors.New("operation not valid in current agent state")
	// ErrRotationThrottled is returned when manual rotations arrive faster than allowed.
	ErrRotationThrottled = errors.New("rotation throttled")
	// ErrSchedulerStopped is returned for work submitted to a scheduler that is not running.
	ErrSchedulerStopped = errors.New("scheduler is not running")
)

// ConfigError reports invalid configuration or malformed weighted tables. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// EnforcementError reports a privileged OS operation that failed.
type EnforcementError struct {
	Step string
	Err  error
}

func (e *EnforcementError) Error() string {
	return fmt.Sprintf("enforcement step %q failed: %v", e.Step, e.Err)
}

func (e *EnforcementError) Unwrap() error { return e.Err }

// SchedulerTimeoutError reports that the scheduler did not acknowledge cancellation in time.
type SchedulerTimeoutError struct {
	Timeout time.Duration
}

func (e *SchedulerTimeoutError) Error() string {
	return fmt.Sprintf("scheduler did not stop within %s", e.Timeout)
}

// TransportError reports a failed decoy emission.
type TransportError struct {
	Method DecoyMethod
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("decoy %s failed: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("decoy %s to %s failed: %v", e.Method, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
