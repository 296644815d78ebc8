package bridge

import (
	"errors"
	"os/exec"
	"syscall"
)

// abnormalExitBase is added to the signal number of a child killed by a
// signal, following the shell convention.
const abnormalExitBase = 128

// exitStatus maps the error returned by exec.Cmd.Wait to an exit code.
// A child terminated by a signal yields an AbnormalExitError; any other
// non-exit error is returned unchanged with FailureStatus.
func exitStatus(waitErr error) (int, error) {
	if waitErr == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return FailureStatus, waitErr
	}

	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		code := abnormalExitBase + int(ws.Signal())
		return code, &AbnormalExitError{Signal: ws.Signal().String(), Code: code}
	}

	if code := exitErr.ExitCode(); code >= 0 {
		return code, nil
	}

	return FailureStatus, &AbnormalExitError{Signal: exitErr.String(), Code: FailureStatus}
}
