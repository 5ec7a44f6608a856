package lttng

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/majorcontext/kprof/internal/log"
)

// CLI implements Controller by running the lttng binary.
type CLI struct {
	name    string
	timeout time.Duration

	mu  sync.Mutex
	bin string // resolved path, set by Available
}

// NewCLI returns a controller for the lttng binary at path (a bare name is
// looked up on PATH). timeout bounds every invocation; zero disables it.
func NewCLI(path string, timeout time.Duration) *CLI {
	if path == "" {
		path = "lttng"
	}
	return &CLI{name: path, timeout: timeout}
}

// Available resolves the binary. It issues no session calls.
func (c *CLI) Available(ctx context.Context) error {
	_, err := c.resolve()
	return err
}

// Path returns the resolved binary path, or "" if it cannot be found.
func (c *CLI) Path() string {
	bin, _ := c.resolve()
	return bin
}

func (c *CLI) resolve() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bin != "" {
		return c.bin, nil
	}
	bin, err := exec.LookPath(c.name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrToolUnavailable, c.name, err)
	}
	c.bin = bin
	return bin, nil
}

// Create creates a session writing to outputPath.
func (c *CLI) Create(ctx context.Context, name, outputPath string) error {
	_, err := c.run(ctx, "create", name, "--output="+outputPath)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && strings.Contains(strings.ToLower(cmdErr.Stderr), "already exists") {
		return fmt.Errorf("%w: %s: %w", ErrSessionNameCollision, name, err)
	}
	return err
}

// EnableEvent enables one kernel event in session.
func (c *CLI) EnableEvent(ctx context.Context, session string, ev Event) error {
	_, err := c.run(ctx, enableArgs(session, ev)...)
	return err
}

func enableArgs(session string, ev Event) []string {
	args := []string{"enable-event", "--kernel", "--session=" + session}
	if ev.Syscall {
		return append(args, "--syscall", "--all")
	}
	return append(args, ev.Name)
}

// Start starts tracing.
func (c *CLI) Start(ctx context.Context, name string) error {
	_, err := c.run(ctx, "start", name)
	return err
}

// Stop stops tracing and flushes buffers to the output path.
func (c *CLI) Stop(ctx context.Context, name string) error {
	_, err := c.run(ctx, "stop", name)
	return err
}

// Destroy tears down the session. Trace data already written is kept.
func (c *CLI) Destroy(ctx context.Context, name string) error {
	_, err := c.run(ctx, "destroy", name)
	return err
}

// miList is the machine interface output of "lttng --mi=xml list". Elements
// are matched by local name, so the schema namespace is ignored.
type miList struct {
	XMLName  xml.Name    `xml:"command"`
	Sessions []miSession `xml:"output>sessions>session"`
	Success  bool        `xml:"success"`
}

type miSession struct {
	Name    string `xml:"name"`
	Path    string `xml:"path"`
	Enabled bool   `xml:"enabled"`
}

// List returns the sessions the daemon knows about.
func (c *CLI) List(ctx context.Context) ([]SessionInfo, error) {
	out, err := c.run(ctx, "--mi=xml", "list")
	if err != nil {
		return nil, err
	}
	return parseList(out)
}

func parseList(data []byte) ([]SessionInfo, error) {
	var doc miList
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing lttng list output: %w", err)
	}
	sessions := make([]SessionInfo, 0, len(doc.Sessions))
	for _, s := range doc.Sessions {
		sessions = append(sessions, SessionInfo{Name: s.Name, Path: s.Path, Enabled: s.Enabled})
	}
	return sessions, nil
}

// Version returns the first line of "lttng --version".
func (c *CLI) Version(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "--version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return line, nil
}

// run invokes lttng and returns its stdout. The tool runs in its own process
// group so a terminal interrupt aimed at the traced command cannot kill a
// cleanup call in flight.
func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	bin, err := c.resolve()
	if err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	start := time.Now()
	err = cmd.Run()
	log.Debug("lttng call", "args", args, "duration", time.Since(start), "error", err)
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return nil, &CommandError{Args: args, ExitCode: code, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}
