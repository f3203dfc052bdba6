package bridge

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Typed errors below match them via errors.Is where noted.
var (
	// ErrBridgeUnavailable is matched by every *UnavailableError.
	ErrBridgeUnavailable = errors.New("bridge unavailable")

	// ErrRestartBudgetExceeded is matched by *RestartBudgetExceededError.
	ErrRestartBudgetExceeded = errors.New("restart budget exceeded")

	// ErrRestartInFlight is returned when a restart is requested while
	// another one for the same worker is already in progress.
	ErrRestartInFlight = errors.New("restart already in progress")

	// ErrPendingLimit is returned by Call when the number of outstanding
	// calls has reached the configured maximum.
	ErrPendingLimit = errors.New("too many outstanding calls")

	// ErrAlreadyStarting is returned by Start while another Start is
	// still waiting for the worker to become ready.
	ErrAlreadyStarting = errors.New("worker start already in progress")
)

// StartError reports that the worker process could not be launched or did
// not become ready. It is not retried automatically.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start worker %q: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// TimeoutError reports that a single call did not receive a response within
// its allotted time. Only that call is affected.
type TimeoutError struct {
	ID      int64
	Method  string
	Timeout time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call %d (%s) timed out after %s (limit %s)",
		e.ID, e.Method, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// ProtocolError reports a line of worker output that could not be used: it
// was not valid JSON, or it answered an id with no pending call. It is
// surfaced as an event and never terminates the transport.
type ProtocolError struct {
	Line   string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// UnavailableError settles calls that were pending when the bridge stopped,
// restarted, or lost its worker.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%v: %s", ErrBridgeUnavailable, e.Reason)
}

// Is makes errors.Is(err, ErrBridgeUnavailable) true.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrBridgeUnavailable
}

func unavailable(format string, args ...any) *UnavailableError {
	return &UnavailableError{Reason: fmt.Sprintf(format, args...)}
}

// RestartBudgetExceededError is surfaced when the worker failed more times
// in a row than the restart policy allows. Auto-restart is off afterwards.
type RestartBudgetExceededError struct {
	Restarts    int
	MaxRestarts int
	LastErr     error
}

func (e *RestartBudgetExceededError) Error() string {
	msg := fmt.Sprintf("%v: %d consecutive restarts (max %d)", ErrRestartBudgetExceeded, e.Restarts, e.MaxRestarts)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrRestartBudgetExceeded) true.
func (e *RestartBudgetExceededError) Is(target error) bool {
	return target == ErrRestartBudgetExceeded
}

func (e *RestartBudgetExceededError) Unwrap() error { return e.LastErr }
