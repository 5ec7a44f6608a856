package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/kprof/internal/config"
	"github.com/majorcontext/kprof/internal/doctor"
	"github.com/majorcontext/kprof/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnostic information about the tracing environment",
	Long: `Displays diagnostic information for debugging kprof:

- kprof version and platform
- the lttng tool and whether the session daemon responds
- whether the current user may trace the kernel
- local state, including orphaned sessions`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, ui.Bold("kprof doctor"))
	fmt.Fprintln(w)

	reg := doctor.NewRegistry()
	reg.Register(&doctor.VersionSection{Version: version})
	reg.Register(&doctor.LTTngSection{Tool: newController()})
	reg.Register(doctor.NewPermissionSection())
	reg.Register(&doctor.StateSection{
		ConfigDir:   config.GlobalConfigDir(),
		HistoryPath: config.HistoryPath(),
		Registry:    newRegistry(),
	})

	if failed := reg.Run(w); failed > 0 {
		return fmt.Errorf("%d checks reported problems", failed)
	}
	return nil
}
