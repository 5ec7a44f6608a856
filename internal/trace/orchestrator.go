// Package trace runs a command inside an LTTng kernel tracing session and
// guarantees the session is torn down on every exit path the process can
// observe.
package trace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/majorcontext/kprof/internal/id"
	"github.com/majorcontext/kprof/internal/log"
	"github.com/majorcontext/kprof/internal/lttng"
	"github.com/majorcontext/kprof/internal/session"
	"github.com/majorcontext/kprof/internal/term"
	"github.com/majorcontext/kprof/internal/ui"
)

// DefaultOutputDir is created under the working directory when no output
// directory is given.
const DefaultOutputDir = "lttng-traces"

// Signals intercepted for the lifetime of Run.
var interceptSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

// Options configures one traced run.
type Options struct {
	// Command is the program and its arguments. Required.
	Command []string
	// SessionName defaults to kprof-<pid>-<random>.
	SessionName string
	// OutputDir defaults to ./lttng-traces. The trace is written to
	// <OutputDir>/<SessionName>.
	OutputDir string

	// Stdio of the traced command; nil means the process's own.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Signals replaces the process signal subscription when non-nil.
	Signals <-chan os.Signal
}

// Result describes a traced run.
type Result struct {
	SessionName string
	TracePath   string
	// Ran is true when the traced command was started.
	Ran bool
	// ExitCode is the command's exit status, or ExitSetupFailed when it
	// never ran.
	ExitCode int
	Enabled  []string
	Failed   []EventFailure
	// Duration is the wall time of the traced command.
	Duration time.Duration
	// Cleanup holds stop/destroy failures. They never change ExitCode.
	Cleanup []error
}

// Orchestrator runs commands under tracing sessions.
type Orchestrator struct {
	ctl      lttng.Controller
	registry *session.Manager
	catalog  []lttng.Event
}

// New returns an orchestrator using ctl. registry may be nil, in which case
// sessions are not recorded for later reaping.
func New(ctl lttng.Controller, registry *session.Manager) *Orchestrator {
	return &Orchestrator{ctl: ctl, registry: registry, catalog: lttng.KernelCatalog}
}

// Run traces opts.Command. Errors returned before the command starts are
// setup failures; once the command has run, err is nil and the command's
// status is in Result.ExitCode. Whenever the session was created, it is
// stopped (if started) and destroyed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (res *Result, err error) {
	if len(opts.Command) == 0 {
		return nil, ErrNoCommand
	}
	if err := o.ctl.Available(ctx); err != nil {
		if !errors.Is(err, lttng.ErrToolUnavailable) {
			err = fmt.Errorf("%w: %w", lttng.ErrToolUnavailable, err)
		}
		return nil, err
	}

	name := opts.SessionName
	if name == "" {
		name = id.SessionName(os.Getpid())
	}
	outDir, err := resolveOutputDir(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	res = &Result{
		SessionName: name,
		TracePath:   filepath.Join(outDir, name),
		ExitCode:    ExitSetupFailed,
	}

	log.SetSession(name)
	defer log.ClearSession()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := opts.Signals
	if sigCh == nil {
		ch := make(chan os.Signal, 4)
		signal.Notify(ch, interceptSignals...)
		defer signal.Stop(ch)
		sigCh = ch
	}
	fwd := newForwarder(cancel, !stdinIsTerminal(opts.Stdin))
	go fwd.loop(sigCh)
	defer fwd.close()

	// Control calls are never cancelled mid-flight; a signal only prevents
	// the next setup step. Each call is bounded by the controller's timeout.
	ctlCtx := context.WithoutCancel(ctx)

	sess := NewSession(o.ctl, name, res.TracePath)
	sess.onTransition = o.recordTransition(sess)

	ui.Step("Creating session %s (output %s)", name, res.TracePath)
	if err := sess.Create(ctlCtx); err != nil {
		return res, err
	}
	o.register(sess, opts.Command)

	// Registered immediately after the session exists: every return below,
	// and panic unwinding, passes through here.
	defer func() {
		res.Cleanup = o.finalize(ctlCtx, sess)
	}()

	if interrupted := fwd.interrupted(); interrupted != nil {
		return res, fmt.Errorf("%w by %s", ErrInterrupted, interrupted)
	}

	ui.Step("Enabling %d kernel events", len(o.catalog))
	res.Enabled, res.Failed = sess.Enable(ctlCtx, o.catalog, func() bool { return runCtx.Err() != nil })
	for _, f := range res.Failed {
		log.Debug("event not enabled", "event", f.Event.String(), "error", f.Err)
		ui.Warnf("could not enable %s", f.Event)
	}
	if interrupted := fwd.interrupted(); interrupted != nil {
		return res, fmt.Errorf("%w by %s", ErrInterrupted, interrupted)
	}
	if len(res.Failed) > 0 {
		ui.Warnf("%d of %d events enabled; tracing continues with the rest", len(res.Enabled), len(o.catalog))
	}

	ui.Step("Starting session %s", name)
	if err := sess.Start(ctlCtx); err != nil {
		return res, err
	}

	ui.Step("Running %s", strings.Join(opts.Command, " "))
	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	}
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	}

	start := time.Now()
	started, err := fwd.start(cmd)
	if !started {
		if err == nil {
			return res, fmt.Errorf("%w by %s", ErrInterrupted, fwd.interrupted())
		}
		res.ExitCode = startStatus(err)
		log.Debug("command did not start", "command", opts.Command[0], "error", err)
		ui.Errorf("%s: %v", opts.Command[0], err)
		return res, nil
	}
	res.Ran = true
	waitErr := cmd.Wait()
	fwd.exited()
	res.Duration = time.Since(start)
	res.ExitCode = waitStatus(waitErr)
	log.Info("command finished", "exit_code", res.ExitCode, "duration", res.Duration)

	return res, nil
}

// finalize stops and destroys the session, swallowing errors.
func (o *Orchestrator) finalize(ctx context.Context, sess *Session) []error {
	var errs []error
	if sess.State() == StateStarted {
		ui.Step("Stopping session %s", sess.Name)
		if err := sess.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	ui.Step("Destroying session %s", sess.Name)
	if err := sess.Destroy(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, err := range errs {
		log.Debug("session cleanup failed", "error", err)
		ui.Warn(err.Error())
	}
	// A record left behind after a failed destroy lets reap retry once this
	// process is gone.
	if !destroyFailed(errs) {
		o.unregister(sess.Name)
	}
	return errs
}

func destroyFailed(errs []error) bool {
	for _, err := range errs {
		var ce *CleanupError
		if errors.As(err, &ce) && ce.Op == "destroy" {
			return true
		}
	}
	return false
}

func (o *Orchestrator) register(sess *Session, command []string) {
	if o.registry == nil {
		return
	}
	if !session.ValidName(sess.Name) {
		log.Debug("session name not recordable, skipping registry", "name", sess.Name)
		return
	}
	if _, err := o.registry.Create(sess.Name, filepath.Dir(sess.OutputPath), sess.OutputPath, sess.State().String(), command); err != nil {
		log.Warn("recording session", "error", err)
	}
}

func (o *Orchestrator) recordTransition(sess *Session) func(State) {
	return func(st State) {
		log.Debug("session transition", "state", st.String())
		if o.registry == nil || st == StateCreated || st == StateDestroyed || !session.ValidName(sess.Name) {
			return
		}
		if err := o.registry.UpdateState(sess.Name, st.String()); err != nil {
			log.Debug("updating session record", "error", err)
		}
	}
}

func (o *Orchestrator) unregister(name string) {
	if o.registry == nil || !session.ValidName(name) {
		return
	}
	if err := o.registry.Delete(name); err != nil {
		log.Warn("removing session record", "error", err)
	}
}

func resolveOutputDir(dir string) (string, error) {
	if dir == "" {
		dir = DefaultOutputDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving output directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	return abs, nil
}

func stdinIsTerminal(r io.Reader) bool {
	if r == nil {
		return term.IsTerminal(os.Stdin)
	}
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(f)
}

// forwarder owns the signal policy for one run. Before the command starts a
// signal cancels setup; while it runs, signals are passed to it; afterwards
// they are ignored so cleanup can finish.
type forwarder struct {
	cancel           context.CancelFunc
	forwardInterrupt bool

	mu     sync.Mutex
	proc   *os.Process
	done   bool
	sig    os.Signal // first signal received during setup
	closed chan struct{}
	once   sync.Once
}

func newForwarder(cancel context.CancelFunc, forwardInterrupt bool) *forwarder {
	return &forwarder{
		cancel:           cancel,
		forwardInterrupt: forwardInterrupt,
		closed:           make(chan struct{}),
	}
}

func (f *forwarder) loop(sigCh <-chan os.Signal) {
	for {
		select {
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			f.handle(sig)
		case <-f.closed:
			return
		}
	}
}

func (f *forwarder) handle(sig os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.done:
		log.Debug("signal ignored during cleanup", "signal", sig)
	case f.proc != nil:
		if sig == syscall.SIGINT && !f.forwardInterrupt {
			log.Debug("interrupt delivered by terminal", "signal", sig)
			return
		}
		log.Debug("forwarding signal", "signal", sig, "pid", f.proc.Pid)
		_ = f.proc.Signal(sig)
	default:
		if f.sig == nil {
			f.sig = sig
			ui.Warnf("received %s, aborting setup", sig)
		}
		f.cancel()
	}
}

// start starts cmd unless a signal already arrived. It holds the lock across
// Start so a signal cannot slip in between the check and the first forward.
func (f *forwarder) start(cmd *exec.Cmd) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sig != nil {
		return false, nil
	}
	if err := cmd.Start(); err != nil {
		f.done = true
		return false, err
	}
	f.proc = cmd.Process
	return true, nil
}

func (f *forwarder) exited() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proc = nil
	f.done = true
}

func (f *forwarder) interrupted() os.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sig
}

func (f *forwarder) close() {
	f.once.Do(func() {
		f.mu.Lock()
		f.done = true
		f.mu.Unlock()
		close(f.closed)
	})
}
