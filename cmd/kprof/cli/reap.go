package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/majorcontext/kprof/internal/trace"
	"github.com/majorcontext/kprof/internal/ui"
)

var reapDryRun bool

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Destroy sessions left behind by kprof processes that are gone",
	Long: `Finds session records whose owning kprof process no longer exists, then
stops and destroys their LTTng sessions and removes the records. Sessions
owned by a running kprof are never touched.

A record whose destroy fails is kept so a later reap can retry.`,
	Args: cobra.NoArgs,
	RunE: runReap,
}

func init() {
	rootCmd.AddCommand(reapCmd)
	reapCmd.Flags().BoolVar(&reapDryRun, "dry-run", false, "report what would be reaped without changing anything")
}

func runReap(cmd *cobra.Command, args []string) error {
	results, err := trace.Reap(cmd.Context(), newController(), newRegistry(), reapDryRun)
	if err != nil {
		return err
	}
	if failed := writeReap(cmd.OutOrStdout(), results, reapDryRun); failed > 0 {
		return fmt.Errorf("%d sessions could not be destroyed", failed)
	}
	return nil
}

// writeReap prints one line per orphan and returns how many failed.
func writeReap(w io.Writer, results []trace.ReapResult, dryRun bool) int {
	if len(results) == 0 {
		fmt.Fprintln(w, "No orphaned sessions")
		return 0
	}
	failed := 0
	for _, r := range results {
		switch {
		case dryRun:
			fmt.Fprintf(w, "%s (pid %d): would be %s\n", r.Record.Name, r.Record.PID, r.Action)
		case r.Action == trace.ReapFailed:
			failed++
			fmt.Fprintf(w, "%s %s: %v\n", ui.FailTag(), r.Record.Name, r.Err)
		default:
			fmt.Fprintf(w, "%s %s: %s\n", ui.OKTag(), r.Record.Name, r.Action)
		}
	}
	return failed
}
