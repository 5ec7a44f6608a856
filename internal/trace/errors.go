package trace

import (
	"errors"
	"fmt"

	"github.com/majorcontext/kprof/internal/lttng"
)

var (
	// ErrNoCommand is returned when there is nothing to trace.
	ErrNoCommand = errors.New("no command to trace")
	// ErrInterrupted is returned when a signal arrives before the traced
	// command starts.
	ErrInterrupted = errors.New("interrupted during setup")
)

// SessionCreateError is returned when the session could not be created.
// Nothing exists on the daemon side, so no cleanup is attempted.
type SessionCreateError struct {
	Session string
	Err     error
}

func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("creating session %s: %v", e.Session, e.Err)
}

func (e *SessionCreateError) Unwrap() error { return e.Err }

// SessionStartError is returned when tracing could not be started. The
// session is still destroyed.
type SessionStartError struct {
	Session string
	Err     error
}

func (e *SessionStartError) Error() string {
	return fmt.Sprintf("starting session %s: %v", e.Session, e.Err)
}

func (e *SessionStartError) Unwrap() error { return e.Err }

// CleanupError records a failed stop or destroy. It is logged, never
// returned to the caller of Run.
type CleanupError struct {
	Session string
	Op      string // "stop" or "destroy"
	Err     error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("%s session %s: %v", e.Op, e.Session, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// EventFailure is one catalog entry that could not be enabled.
type EventFailure struct {
	Event lttng.Event
	Err   error
}

func (f EventFailure) Error() string {
	return fmt.Sprintf("enabling %s: %v", f.Event, f.Err)
}

func (f EventFailure) Unwrap() error { return f.Err }
