// Package lttng drives the LTTng session daemon through the lttng
// command-line control tool.
package lttng

import "context"

// Controller is the session control surface used by the orchestrator.
type Controller interface {
	// Available returns ErrToolUnavailable if no session call can be made.
	Available(ctx context.Context) error
	Create(ctx context.Context, name, outputPath string) error
	EnableEvent(ctx context.Context, session string, ev Event) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Destroy(ctx context.Context, name string) error
	// List returns the sessions known to the daemon.
	List(ctx context.Context) ([]SessionInfo, error)
}

// SessionInfo is a daemon-side session as reported by List.
type SessionInfo struct {
	Name    string
	Path    string
	Enabled bool // actively tracing
}
