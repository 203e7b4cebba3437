// api/schemas/errors.go
package schemas

import "fmt"

// Error reason codes for the three external collaborators. Using typed
// constants keeps the controller's recovery policy keyed on values rather
// than on string matching against wrapped messages.
type OracleErrorReason string

const (
	OracleMalformedResponse OracleErrorReason = "malformed_response"
	OracleTimeout           OracleErrorReason = "timeout"
	OracleRateLimited       OracleErrorReason = "rate_limited"
)

// OracleError wraps a failure of the vision oracle. The decision core
// recovers from every reason locally (default Wait or backoff); an oracle
// failure is never fatal to the task.
type OracleError struct {
	Reason OracleErrorReason
	Err    error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle error (%s): %v", e.Reason, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

type ActuatorErrorReason string

const (
	ActuatorTargetUnreachable ActuatorErrorReason = "target_unreachable"
	ActuatorDeviceBusy        ActuatorErrorReason = "device_busy"
)

// ActuatorError reports an input-layer failure. The step executor absorbs
// it as RawSuccess=false in the outcome.
type ActuatorError struct {
	Reason ActuatorErrorReason
	Err    error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("actuator error (%s): %v", e.Reason, e.Err)
}

func (e *ActuatorError) Unwrap() error { return e.Err }

type CaptureErrorReason string

const (
	CaptureDisplayUnavailable CaptureErrorReason = "display_unavailable"
)

// CaptureError reports a screen-capture failure. It is fatal to the current
// cycle; the executor retries the capture once before surfacing it as a
// task failure.
type CaptureError struct {
	Reason CaptureErrorReason
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture error (%s): %v", e.Reason, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// PlanningError reports that the oracle could not produce a usable plan.
// The planner retries once with a simplified prompt before treating it as
// fatal.
type PlanningError struct {
	Phase string // "strategic" or "tactical"
	Err   error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning error (%s): %v", e.Phase, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }
