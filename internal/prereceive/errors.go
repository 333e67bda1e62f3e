package prereceive

import (
	"errors"
	"fmt"
	"time"
)

// ErrHookNotFound reports that no hook is installed at the configured path.
// It is not a failure: the step is recorded as a clean skip.
var ErrHookNotFound = errors.New("pre-receive hook not found")

// ErrUnsafeInput reports a push field that cannot be placed on the hook's stdin line.
var ErrUnsafeInput = errors.New("unsafe hook input")

// FaultKind classifies why a hook run produced no usable exit status.
type FaultKind string

const (
	FaultLaunch   FaultKind = "launch"
	FaultIO       FaultKind = "io"
	FaultTimeout  FaultKind = "timeout"
	FaultCanceled FaultKind = "canceled"
	FaultInput    FaultKind = "input"
	FaultConfig   FaultKind = "config"
)

// LaunchError is the failure half of a hook run result. Output captured before
// the fault, if any, is kept for message sourcing.
type LaunchError struct {
	Kind    FaultKind
	Err     error
	Stdout  string
	Stderr  string
	Timeout time.Duration
}

func (e *LaunchError) Error() string {
	switch e.Kind {
	case FaultTimeout:
		return fmt.Sprintf("pre-receive hook timed out after %s", e.Timeout)
	case FaultCanceled:
		return fmt.Sprintf("pre-receive hook canceled: %v", e.Err)
	case FaultLaunch:
		return fmt.Sprintf("launch pre-receive hook: %v", e.Err)
	case FaultIO:
		return fmt.Sprintf("read pre-receive hook output: %v", e.Err)
	case FaultInput:
		return fmt.Sprintf("invalid hook input: %v", e.Err)
	case FaultConfig:
		return fmt.Sprintf("invalid hook configuration: %v", e.Err)
	default:
		return fmt.Sprintf("pre-receive hook %s error: %v", e.Kind, e.Err)
	}
}

func (e *LaunchError) Unwrap() error { return e.Err }

func newFault(kind FaultKind, err error) *LaunchError {
	return &LaunchError{Kind: kind, Err: err}
}
