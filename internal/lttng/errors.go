package lttng

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolUnavailable is returned when the lttng control tool cannot be
	// resolved.
	ErrToolUnavailable = errors.New("lttng control tool not available")
	// ErrSessionNameCollision is returned when the session daemon already
	// has a session with the requested name.
	ErrSessionNameCollision = errors.New("tracing session name already in use")
)

// CommandError describes a failed lttng invocation.
type CommandError struct {
	Args     []string
	ExitCode int // -1 when the tool did not exit normally
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("lttng %s: %v", strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
