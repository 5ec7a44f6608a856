package trace

import (
	"errors"
	"io/fs"
	"os/exec"
	"syscall"
)

// Exit statuses reported when the traced command does not produce one of
// its own. They follow shell conventions.
const (
	// ExitSetupFailed means the command never ran because the session could
	// not be set up.
	ExitSetupFailed = 125
	// ExitNotExecutable means the command exists but could not be executed.
	ExitNotExecutable = 126
	// ExitNotFound means the command could not be found.
	ExitNotFound = 127

	exitSignalBase = 128
)

// startStatus maps an error from starting a command to its exit status.
func startStatus(err error) int {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return ExitNotFound
	}
	return ExitNotExecutable
}

// waitStatus maps the result of waiting on a command to its exit status. A
// command killed by signal N reports 128+N.
func waitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitNotExecutable
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitSignalBase + int(ws.Signal())
	}
	return exitErr.ExitCode()
}
