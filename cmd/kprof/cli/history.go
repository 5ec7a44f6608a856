package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	intcli "github.com/majorcontext/kprof/internal/cli"
	"github.com/majorcontext/kprof/internal/config"
	"github.com/majorcontext/kprof/internal/history"
	"github.com/majorcontext/kprof/internal/ui"
)

var (
	historyLimit  int
	historyBuilds bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent traced runs or builds",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")
	historyCmd.Flags().BoolVar(&historyBuilds, "builds", false, "show buildprograms results instead of traced runs")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := history.Open(config.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()

	w := cmd.OutOrStdout()
	if historyBuilds {
		builds, err := store.RecentBuilds(historyLimit)
		if err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(w, builds)
		}
		writeBuilds(w, builds)
		return nil
	}

	runs, err := store.RecentRuns(historyLimit)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(w, runs)
	}
	writeRuns(w, runs)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No traced runs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSESSION\tEXIT\tEVENTS\tDURATION\tCOMMAND")
	for _, r := range runs {
		exit := fmt.Sprint(r.ExitCode)
		if !r.Ran {
			exit = ui.Red(exit)
		}
		events := fmt.Sprint(r.Enabled)
		if len(r.Failed) > 0 {
			events = fmt.Sprintf("%d (%d failed)", r.Enabled, len(r.Failed))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			intcli.FormatTimeAgo(r.StartedAt), r.Session, exit, events,
			intcli.FormatDuration(r.Duration), intcli.Truncate(strings.Join(r.Command, " "), 40))
	}
	tw.Flush()
}

func writeBuilds(w io.Writer, builds []history.Build) {
	if len(builds) == 0 {
		fmt.Fprintln(w, "No builds")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tPROJECT\tRESULT\tDURATION\tLOG")
	for _, b := range builds {
		result := ui.Green("ok")
		if !b.OK {
			result = ui.Red("failed (" + b.Stage + ")")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			intcli.FormatTimeAgo(b.StartedAt), b.Project, result,
			intcli.FormatDuration(b.Duration), intcli.ShortenPath(b.LogPath))
	}
	tw.Flush()
}
