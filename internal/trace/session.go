package trace

import (
	"context"
	"fmt"

	"github.com/majorcontext/kprof/internal/lttng"
)

// State is the lifecycle position of a tracing session.
type State int

const (
	StateUnset State = iota
	StateCreated
	StateEventsEnabled
	StateStarted
	StateStopped
	StateDestroyed
)

var stateNames = [...]string{
	StateUnset:         "unset",
	StateCreated:       "created",
	StateEventsEnabled: "events-enabled",
	StateStarted:       "started",
	StateStopped:       "stopped",
	StateDestroyed:     "destroyed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Live reports whether a session in this state holds daemon-side resources.
func (s State) Live() bool {
	return s != StateUnset && s != StateDestroyed
}

// Session drives one daemon-side session through its lifecycle. Transitions
// are linear; Destroy is issued at most once.
type Session struct {
	Name       string
	OutputPath string

	ctl   lttng.Controller
	state State

	// onTransition, if set, observes every state change.
	onTransition func(State)
}

// NewSession returns an unset session.
func NewSession(ctl lttng.Controller, name, outputPath string) *Session {
	return &Session{Name: name, OutputPath: outputPath, ctl: ctl}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

func (s *Session) set(st State) {
	s.state = st
	if s.onTransition != nil {
		s.onTransition(st)
	}
}

func (s *Session) require(want State, op string) error {
	if s.state != want {
		return fmt.Errorf("cannot %s session %s in state %s", op, s.Name, s.state)
	}
	return nil
}

// Create creates the session on the daemon.
func (s *Session) Create(ctx context.Context) error {
	if err := s.require(StateUnset, "create"); err != nil {
		return err
	}
	if err := s.ctl.Create(ctx, s.Name, s.OutputPath); err != nil {
		return &SessionCreateError{Session: s.Name, Err: err}
	}
	s.set(StateCreated)
	return nil
}

// Enable enables each event in catalog. Failures are collected, never fatal.
// stop is consulted before each call; when it returns true the remaining
// events are skipped and the session stays in Created.
func (s *Session) Enable(ctx context.Context, catalog []lttng.Event, stop func() bool) (enabled []string, failed []EventFailure) {
	if err := s.require(StateCreated, "enable events on"); err != nil {
		return nil, nil
	}
	for _, ev := range catalog {
		if stop != nil && stop() {
			return enabled, failed
		}
		if err := s.ctl.EnableEvent(ctx, s.Name, ev); err != nil {
			failed = append(failed, EventFailure{Event: ev, Err: err})
			continue
		}
		enabled = append(enabled, ev.String())
	}
	s.set(StateEventsEnabled)
	return enabled, failed
}

// Start begins collection.
func (s *Session) Start(ctx context.Context) error {
	if err := s.require(StateEventsEnabled, "start"); err != nil {
		return err
	}
	if err := s.ctl.Start(ctx, s.Name); err != nil {
		return &SessionStartError{Session: s.Name, Err: err}
	}
	s.set(StateStarted)
	return nil
}

// Stop ends collection. It is a no-op unless the session is Started.
func (s *Session) Stop(ctx context.Context) error {
	if s.state != StateStarted {
		return nil
	}
	err := s.ctl.Stop(ctx, s.Name)
	s.set(StateStopped)
	if err != nil {
		return &CleanupError{Session: s.Name, Op: "stop", Err: err}
	}
	return nil
}

// Destroy tears the session down. It issues the destroy call only from a
// live state and moves to Destroyed whether or not the call succeeds, so a
// second Destroy does nothing.
func (s *Session) Destroy(ctx context.Context) error {
	if !s.state.Live() {
		return nil
	}
	err := s.ctl.Destroy(ctx, s.Name)
	s.set(StateDestroyed)
	if err != nil {
		return &CleanupError{Session: s.Name, Op: "destroy", Err: err}
	}
	return nil
}
