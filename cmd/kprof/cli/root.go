// Package cli implements the kprof command-line interface using Cobra.
// The root command runs a program under an LTTng kernel tracing session;
// subcommands inspect and clean up sessions and past runs.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	intcli "github.com/majorcontext/kprof/internal/cli"
	"github.com/majorcontext/kprof/internal/config"
	"github.com/majorcontext/kprof/internal/history"
	"github.com/majorcontext/kprof/internal/log"
	"github.com/majorcontext/kprof/internal/lttng"
	"github.com/majorcontext/kprof/internal/session"
	"github.com/majorcontext/kprof/internal/trace"
	"github.com/majorcontext/kprof/internal/ui"
)

var (
	verbose     bool
	jsonOut     bool
	sessionName string
	outputDir   string

	globalCfg *config.GlobalConfig
)

var rootCmd = &cobra.Command{
	Use:   "kprof [flags] [--] COMMAND [ARGS...]",
	Short: "Run a command under an LTTng kernel tracing session",
	Long: `kprof creates an LTTng kernel session, enables a fixed set of scheduler,
memory, block, network, interrupt and syscall events, runs COMMAND, and
then stops and destroys the session. The trace is written to
<output-dir>/<session-name>.

The session is destroyed on every exit path kprof can observe, including
failed setup and interrupts. Sessions left behind by a killed kprof can be
cleaned up with 'kprof reap'.

kprof exits with COMMAND's exit status. If COMMAND never ran because the
session could not be set up, it exits with 125.

Flags after COMMAND belong to COMMAND. Use -- to trace a program whose
name matches a kprof subcommand.

Examples:
  kprof ./a.out --iterations 10
  kprof --session-name bench --output-dir /tmp/traces -- make -j8`,
	Args:              cobra.ArbitraryArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runTrace,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	log.Close()
	reportError(err)
	return err
}

// reportError prints err unless it is an exit status with nothing to say.
func reportError(err error) {
	if err == nil {
		return
	}
	var exitErr *intcli.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Message != "" {
			fmt.Fprintf(os.Stderr, "kprof: %s\n", exitErr.Message)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// usageError prints the usage text and returns exit status 1.
func usageError(cmd *cobra.Command, err error) error {
	cmd.PrintErrln(cmd.UsageString())
	return &intcli.ExitError{Code: 1, Message: err.Error()}
}

func setup(cmd *cobra.Command, args []string) error {
	globalCfg, _ = config.LoadGlobal()
	if err := log.Init(log.Options{
		Verbose:       verbose,
		JSONFormat:    jsonOut,
		DebugDir:      config.DebugDir(),
		RetentionDays: globalCfg.Debug.RetentionDays,
	}); err != nil {
		// Non-fatal: the stderr logger is still installed.
		cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
	}
	return nil
}

func newController() *lttng.CLI {
	return lttng.NewCLI(globalCfg.Trace.LTTngPath, globalCfg.Trace.ControlTimeout)
}

func newRegistry() *session.Manager {
	return session.NewManager(config.SessionsDir())
}

func runTrace(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return usageError(cmd, trace.ErrNoCommand)
	}
	if sessionName != "" && !session.ValidName(sessionName) {
		return usageError(cmd, fmt.Errorf("invalid session name %q", sessionName))
	}
	dir := outputDir
	if dir == "" {
		dir = globalCfg.Trace.OutputDir
	}

	started := time.Now()
	res, err := trace.New(newController(), newRegistry()).Run(cmd.Context(), trace.Options{
		Command:     args,
		SessionName: sessionName,
		OutputDir:   dir,
	})
	recordRun(args, started, res, err)

	if err == nil && res.Ran {
		ui.Infof("Trace: %s", intcli.ShortenPath(res.TracePath))
	}
	return traceExit(res, err)
}

// traceExit maps the outcome of a traced run to the process exit status.
func traceExit(res *trace.Result, err error) error {
	switch {
	case err == nil:
		if res.ExitCode == 0 {
			return nil
		}
		return intcli.Exit(res.ExitCode)
	case errors.Is(err, trace.ErrNoCommand), errors.Is(err, lttng.ErrToolUnavailable):
		return &intcli.ExitError{Code: 1, Message: err.Error()}
	}
	code := trace.ExitSetupFailed
	if res != nil {
		code = res.ExitCode
	}
	return &intcli.ExitError{Code: code, Message: err.Error()}
}

// runRecorder is the part of the history store recordRun writes to.
type runRecorder interface {
	RecordRun(history.Run) error
}

var openHistory = func() (runRecorder, func(), error) {
	store, err := history.Open(config.HistoryPath())
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

// recordRun writes the run to history. Failures are logged and ignored.
func recordRun(command []string, started time.Time, res *trace.Result, runErr error) {
	if res == nil {
		return
	}
	store, closeFn, err := openHistory()
	if err != nil {
		log.Warn("history unavailable", "error", err)
		return
	}
	defer closeFn()
	if err := store.RecordRun(historyRun(command, started, res, runErr)); err != nil {
		log.Warn("recording run history", "error", err)
	}
}

func historyRun(command []string, started time.Time, res *trace.Result, runErr error) history.Run {
	run := history.Run{
		Session:   res.SessionName,
		Command:   command,
		Ran:       res.Ran,
		ExitCode:  res.ExitCode,
		Enabled:   len(res.Enabled),
		TracePath: res.TracePath,
		StartedAt: started,
		Duration:  res.Duration,
	}
	for _, f := range res.Failed {
		run.Failed = append(run.Failed, f.Event.String())
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return run
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")

	rootCmd.Flags().StringVar(&sessionName, "session-name", "", "tracing session name (default kprof-<pid>-<random>)")
	rootCmd.Flags().StringVar(&outputDir, "output-dir", "", "directory the trace is written under (default ./lttng-traces)")
	rootCmd.Flags().SetInterspersed(false)

	rootCmd.SetFlagErrorFunc(usageError)
}
