// Package rangeerr defines the closed error-kind taxonomy: a small set
// of typed errors that every component categorizes its failures into, so the
// orchestrator can decide what is fatal, what is retryable, and what is
// merely a warning without inspecting error strings.
package rangeerr

import "fmt"

// Kind is one of the closed error kinds. New values are never
// added silently; an unrecognized failure should be mapped to the closest
// existing kind rather than growing the enum ad hoc.
type Kind string

const (
	// Validation covers bad YAML, unknown network names, invalid CIDR/port
	// specs, and missing kvm-auto fields.
	Validation Kind = "ValidationError"

	// Precondition covers a required host tool or base image being absent.
	Precondition Kind = "PreconditionError"

	// Hypervisor covers connect/define/start/undefine failures; Err carries
	// the underlying error.
	Hypervisor Kind = "HypervisorError"

	// Timeout covers any bounded operation exceeding its budget.
	Timeout Kind = "TimeoutError"

	// IPDiscovery covers every IP discovery method being exhausted without
	// a result.
	IPDiscovery Kind = "IPDiscoveryError"

	// Task covers a per-guest task failure. It is non-fatal to the range;
	// the CLI has no option that escalates it to a range failure.
	Task Kind = "TaskError"

	// NetworkPolicy covers a policy compile or apply failure.
	NetworkPolicy Kind = "NetworkPolicyError"

	// Safety covers a command rejected by the Command Executor's safety
	// validator.
	Safety Kind = "SafetyError"

	// Cancelled covers a user-initiated stop.
	Cancelled Kind = "Cancelled"
)

// Error is a typed error carrying one of the Kind values above, an
// operator-facing message, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an *Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind, unwrapping through
// any chain of wrapped errors.
func Is(err error, kind Kind) bool {
	for err != nil {
		if rangeErr, ok := err.(*Error); ok {
			return rangeErr.Kind == kind
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
