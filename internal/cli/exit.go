package cli

import (
	"errors"
	"fmt"
)

// ExitError carries a process exit status out of a command's RunE. Message
// is printed to stderr unless it is empty.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Exit returns an ExitError with no message.
func Exit(code int) error {
	return &ExitError{Code: code}
}

// ExitCode maps the error returned by a command to the process exit status:
// 0 for nil, the carried code for an ExitError, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
