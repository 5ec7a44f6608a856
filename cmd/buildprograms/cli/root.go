// Package cli implements the buildprograms command, which downloads and
// builds the fixed set of sample programs used for trace collection.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	intcli "github.com/majorcontext/kprof/internal/cli"
	"github.com/majorcontext/kprof/internal/build"
	"github.com/majorcontext/kprof/internal/config"
	"github.com/majorcontext/kprof/internal/history"
	"github.com/majorcontext/kprof/internal/log"
	"github.com/majorcontext/kprof/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "buildprograms",
	Short: "Download and build the sample programs with profiling-friendly flags",
	Long: `Downloads each sample program's source archive, extracts it into
<base>/builds/<name>/ and builds it with -O2 -g -fno-omit-frame-pointer.
Build output goes to <base>/logs/<name>_build.log.

A failing project never stops the others. The exit status is 1 if any
project failed.

The base directory defaults to ../programs (config build.base_dir, env
KPROF_BUILD_BASE).`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBuild,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	var exitErr *intcli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, _ := config.LoadGlobal()
	if err := log.Init(log.Options{
		DebugDir:      config.DebugDir(),
		RetentionDays: cfg.Debug.RetentionDays,
	}); err != nil {
		cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := build.NewPipeline(cfg.Build.BaseDir, cfg.Build.HTTPTimeout)
	store := openHistory()
	if store != nil {
		defer store.Close()
	}

	if failed := buildAll(ctx, cmd.OutOrStdout(), p, build.Programs, store); failed > 0 {
		return intcli.Exit(1)
	}
	return nil
}

// buildRecorder is the part of the history store buildAll writes to.
type buildRecorder interface {
	RecordBuild(history.Build) error
}

// buildAll runs every spec, records the results and prints the summary. It
// returns the number of projects that did not build.
func buildAll(ctx context.Context, w io.Writer, p *build.Pipeline, specs []build.Spec, store buildRecorder) int {
	log.Info("build pipeline starting", "base", p.BaseDir, "projects", len(specs))
	results := p.RunAll(ctx, specs)

	if store != nil {
		for _, r := range results {
			if err := store.RecordBuild(historyEntry(r)); err != nil {
				log.Warn("recording build history", "project", r.Name, "error", err)
				break
			}
		}
	}

	failed := printSummary(w, results)
	log.Info("build pipeline finished", "failed", failed)
	return failed
}

func historyEntry(r build.ProjectResult) history.Build {
	b := history.Build{
		Project:   r.Name,
		OK:        r.OK(),
		LogPath:   r.LogPath,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
	}
	if r.Err != nil {
		b.Stage = string(r.Err.Stage)
		b.Detail = r.Err.Error()
	}
	return b
}

// printSummary writes one line per project and returns the failure count.
func printSummary(w io.Writer, results []build.ProjectResult) int {
	failed := 0
	fmt.Fprintln(w)
	fmt.Fprintln(w, color.Bold.Sprint("Summary"))
	for _, r := range results {
		var status string
		switch {
		case r.Err == nil:
			status = color.Success.Sprintf("%-18s", "ok")
		case r.Err.Stage == build.StageSkipped:
			status = color.Warn.Sprintf("%-18s", "skipped")
			failed++
		default:
			status = color.Danger.Sprintf("%-18s", "FAILED ("+string(r.Err.Stage)+")")
			failed++
		}
		fmt.Fprintf(w, "  %-10s %s %s\n", r.Name, status, intcli.ShortenPath(r.LogPath))
	}
	if failed > 0 {
		fmt.Fprintf(w, "\n%d of %d projects failed\n", failed, len(results))
	} else {
		fmt.Fprintf(w, "\nall %d projects built\n", len(results))
	}
	return failed
}

// openHistory opens the history database. Failure only costs the record.
func openHistory() *history.Store {
	store, err := history.Open(config.HistoryPath())
	if err != nil {
		log.Warn("history unavailable", "error", err)
		ui.Warnf("history unavailable: %v", err)
		return nil
	}
	return store
}
