package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	intcli "github.com/majorcontext/kprof/internal/cli"
	"github.com/majorcontext/kprof/internal/session"
	"github.com/majorcontext/kprof/internal/ui"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List tracing sessions owned by kprof processes",
	Long: `Lists the session records kprof keeps while a traced run is in progress.

A record whose owning process is gone is an orphan: its LTTng session may
still exist on the daemon. Use 'kprof reap' to clean orphans up.`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	records, err := newRegistry().List()
	if err != nil {
		return err
	}
	if jsonOut {
		return writeSessionsJSON(cmd.OutOrStdout(), records)
	}
	writeSessions(cmd.OutOrStdout(), records)
	return nil
}

type sessionJSON struct {
	*session.Record
	Alive bool `json:"alive"`
}

func writeSessionsJSON(w io.Writer, records []*session.Record) error {
	out := make([]sessionJSON, 0, len(records))
	for _, r := range records {
		out = append(out, sessionJSON{Record: r, Alive: r.Alive()})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeSessions(w io.Writer, records []*session.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No sessions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tPID\tOWNER\tCREATED\tTRACE")
	for _, r := range records {
		owner := "running"
		if !r.Alive() {
			owner = ui.Yellow("gone")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.Name, r.State, r.PID, owner, intcli.FormatTimeAgo(r.CreatedAt), intcli.ShortenPath(r.TracePath))
	}
	tw.Flush()
}
