package launcher

import (
	"errors"
	"fmt"
)

// Kind classifies launch failures
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration: an identifier or option is empty or malformed
	KindConfiguration
	// KindMissingResource: a bind mount source or device node is absent
	KindMissingResource
	// KindRuntimeInvocation: the runtime executable could not be started
	KindRuntimeInvocation
	// KindChildFailure: the runtime started and exited non-zero
	KindChildFailure
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindMissingResource:
		return "missing resource"
	case KindRuntimeInvocation:
		return "runtime invocation error"
	case KindChildFailure:
		return "child failure"
	default:
		return "launch error"
	}
}

// ExitStatus is the exit code of the container runtime process
type ExitStatus int

// Error is returned by Validate and Launch
type Error struct {
	Kind Kind
	// Check names the check or step that failed, e.g. "bind mount source"
	Check  string
	Err    error
	Status ExitStatus // set for KindChildFailure
}

func (e *Error) Error() string {
	if e.Check == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Check, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

// Process exit codes for failures detected by the launcher itself
const (
	ExitFailure       = 1
	ExitInvalid       = 2
	ExitNotExecutable = 126
	ExitNotFound      = 127
)

// ExitCode maps err to the launcher's process exit code. Child failures
// relay the child's status unchanged.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var le *Error
	if !errors.As(err, &le) {
		return ExitFailure
	}

	switch le.Kind {
	case KindChildFailure:
		return int(le.Status)
	case KindConfiguration, KindMissingResource:
		return ExitInvalid
	case KindRuntimeInvocation:
		if le.Status != 0 {
			return int(le.Status)
		}
		return ExitFailure
	default:
		return ExitFailure
	}
}
