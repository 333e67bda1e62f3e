//go:build !unix

package prereceive

import (
	"os"
	"os/exec"
)

func configureProcess(cmd *exec.Cmd) {}

func reapProcessGroup(cmd *exec.Cmd) {}

// exitedOnItsOwn cannot tell a kill from an exit code here, so any context
// error wins.
func exitedOnItsOwn(state *os.ProcessState, ctxErr error) bool {
	return ctxErr == nil && state.Exited()
}

func exitStatusOf(state *os.ProcessState) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1}
	}
	code := state.ExitCode()
	if code == -1 {
		return ExitStatus{Code: -1, Signaled: true, Signal: state.String()}
	}
	return ExitStatus{Code: code}
}
