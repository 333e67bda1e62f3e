package prereceive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MEKXH/pushgate/internal/action"
)

// Outcome is the terminal state of one hook evaluation.
type Outcome string

const (
	OutcomeSkipped     Outcome = "skipped"
	OutcomeApproved    Outcome = "approved"
	OutcomeRejected    Outcome = "rejected"
	OutcomeDeferred    Outcome = "deferred"
	OutcomeMalfunction Outcome = "malfunction"
	OutcomeFailed      Outcome = "failed"
)

// Hook exit codes.
const (
	ExitApprove = 0
	ExitReject  = 1
	ExitDefer   = 2
)

const (
	logNotFound    = "pre-receive hook not found, skipping"
	logApproved    = "push approved by hook"
	logRejected    = "push rejected by hook"
	logDeferred    = "push requires manual approval"
	logFailed      = "push failed, hook returned an error"
	logTruncated   = "hook exited but left processes holding its output, output may be incomplete"
	msgUnknownHook = "unknown pre-receive hook error"
)

// Interpret maps a hook run onto the step and action. runErr must be nil,
// ErrHookNotFound or a *LaunchError; any other error is treated as a launch fault.
func Interpret(step *action.Step, a *action.Action, res ProcessResult, runErr error) Outcome {
	if runErr == nil {
		if res.OutputTruncated {
			step.Log(logTruncated)
		}
		return interpretStatus(step, a, res.Status, res.Stdout, "")
	}

	if errors.Is(runErr, ErrHookNotFound) {
		step.Log(logNotFound)
		return OutcomeSkipped
	}

	var fault *LaunchError
	if !errors.As(runErr, &fault) {
		fault = newFault(FaultLaunch, runErr)
	}

	if fault.Kind == FaultTimeout {
		return interpretStatus(step, a, ExitStatus{Code: -1}, fault.Stdout, fault.Error())
	}

	step.Log(logFailed)
	msg := strings.TrimSpace(fault.Stderr)
	if msg == "" {
		msg = fault.Error()
	}
	step.SetError(msg)
	return OutcomeFailed
}

// interpretStatus handles every case where the hook ran and its verdict, or
// lack of one, is known. timeoutMsg is set when the hook was killed at its deadline.
func interpretStatus(step *action.Step, a *action.Action, status ExitStatus, stdout, timeoutMsg string) Outcome {
	statusText := status.String()
	if timeoutMsg != "" {
		statusText = "timeout"
	}
	step.Logf("hook exited with status %s", statusText)

	if timeoutMsg == "" && !status.Signaled {
		switch status.Code {
		case ExitApprove:
			step.Log(logApproved)
			a.SetAutoApproval()
			return OutcomeApproved
		case ExitReject:
			step.Log(logRejected)
			a.SetAutoRejection()
			return OutcomeRejected
		case ExitDefer:
			step.Log(logDeferred)
			return OutcomeDeferred
		}
	}

	step.Log(fmt.Sprintf("unexpected hook status: %s", statusText))
	msg := strings.TrimSpace(stdout)
	if msg == "" {
		msg = timeoutMsg
	}
	if msg == "" {
		msg = msgUnknownHook
	}
	step.SetError(msg)
	a.SetErrored()
	return OutcomeMalfunction
}
