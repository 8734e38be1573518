package schema

// State is a step of the invocation state machine. Retries restart the
// machine from StatePending, so there is no retry state.
type State string

const (
	StatePending          State = "PENDING"
	StateRunningChain     State = "RUNNING_CHAIN"
	StateValidatingInput  State = "VALIDATING_INPUT"
	StateRunningHandler   State = "RUNNING_HANDLER"
	StateValidatingOutput State = "VALIDATING_OUTPUT"
	StateSuccess          State = "SUCCESS"
	StateError            State = "ERROR"
)

// Terminal returns true for SUCCESS and ERROR.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError
}

// InvocationStatus is the recorded outcome of a finished invocation.
type InvocationStatus string

const (
	InvocationStatusSuccess   InvocationStatus = "success"
	InvocationStatusFailed    InvocationStatus = "failed"
	InvocationStatusTimedOut  InvocationStatus = "timed_out"
	InvocationStatusSignalled InvocationStatus = "signalled"
	InvocationStatusRejected  InvocationStatus = "rejected"
)

// Event names emitted on invocation spans and in logs.
const (
	EventInvocationStarted   = "invocation_started"
	EventInvocationCompleted = "invocation_completed"
	EventInvocationFailed    = "invocation_failed"
	EventAttemptStarted      = "attempt_started"
	EventAttemptFailed       = "attempt_failed"
	EventAttemptRetrying     = "attempt_retrying"
	EventTimeoutFired        = "timeout_fired"
	EventSignalRaised        = "signal_raised"
	EventCircuitOpen         = "circuit_breaker_open"
	EventCircuitHalfOpen     = "circuit_breaker_half_open"
	EventCircuitClosed       = "circuit_breaker_closed"
)
