package backend

import (
	"errors"
	"os/exec"
	"syscall"
)

// isInterrupt reports whether a subprocess exit was caused by SIGINT. Exit
// after an Abort-delivered interrupt is normal termination, not an error.
func isInterrupt(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return status.Signal() == syscall.SIGINT
	}
	// Shells report death-by-SIGINT as 130.
	return exitErr.ExitCode() == 130
}
