package types

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionStartFailed is returned when the backend session-start call fails
	ErrSessionStartFailed = errors.New("session start failed")
	// ErrSessionFinalizeFailed is returned when the backend session-stop call fails
	ErrSessionFinalizeFailed = errors.New("session finalize failed")
	// ErrCaptureDropped is returned when the capture adapter failed and the event was dropped
	ErrCaptureDropped = errors.New("capture dropped")
	// ErrStepExists is returned when a step with the same (session, order index) is already queued
	ErrStepExists = errors.New("step already queued")
	// ErrStepNotFound is returned when a queued step does not exist
	ErrStepNotFound = errors.New("step not found")
)

// StateViolationError is returned when an operation is not legal in the current state.
// The controller stays where it was.
type StateViolationError struct {
	Op     string
	From   SessionStatus
	Reason string
}

func (e *StateViolationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("state violation: %s not allowed in %s: %s", e.Op, e.From, e.Reason)
	}
	return fmt.Sprintf("state violation: %s not allowed in %s", e.Op, e.From)
}

// IsStateViolation reports whether err is or wraps a StateViolationError
func IsStateViolation(err error) bool {
	var sv *StateViolationError
	return errors.As(err, &sv)
}

// CaptureError wraps a failure reported by the capture adapter
type CaptureError struct {
	Action ActionType
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Action, e.Err)
}

func (e *CaptureError) Unwrap() []error {
	return []error{ErrCaptureDropped, e.Err}
}
