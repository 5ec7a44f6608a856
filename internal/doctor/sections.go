package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"runtime"
	"slices"
	"text/tabwriter"

	"golang.org/x/sys/unix"

	"github.com/majorcontext/kprof/internal/lttng"
	"github.com/majorcontext/kprof/internal/session"
	"github.com/majorcontext/kprof/internal/ui"
)

// TracingGroup is the group lttng-sessiond grants kernel tracing to.
const TracingGroup = "tracing"

// VersionSection shows the kprof version and platform.
type VersionSection struct {
	Version string
}

func (s *VersionSection) Name() string { return "Version" }

func (s *VersionSection) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "kprof:\t%s\n", s.Version)
	fmt.Fprintf(tw, "Platform:\t%s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(tw, "Go:\t%s\n", runtime.Version())
	return tw.Flush()
}

// Tool is the part of the lttng CLI the doctor inspects.
type Tool interface {
	Available(ctx context.Context) error
	Path() string
	Version(ctx context.Context) (string, error)
	List(ctx context.Context) ([]lttng.SessionInfo, error)
}

// LTTngSection checks that the lttng tool and session daemon respond.
type LTTngSection struct {
	Tool Tool
}

func (s *LTTngSection) Name() string { return "LTTng" }

func (s *LTTngSection) Print(w io.Writer) error {
	ctx := context.Background()
	if err := s.Tool.Available(ctx); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Path:\t%s\n", s.Tool.Path())
	if v, err := s.Tool.Version(ctx); err != nil {
		fmt.Fprintf(tw, "Version:\t%s %v\n", ui.WarnTag(), err)
	} else {
		fmt.Fprintf(tw, "Version:\t%s\n", v)
	}

	sessions, err := s.Tool.List(ctx)
	if err != nil {
		fmt.Fprintf(tw, "Session daemon:\t%s not reachable\n", ui.FailTag())
		tw.Flush()
		return fmt.Errorf("listing sessions: %w", err)
	}
	active := 0
	for _, sess := range sessions {
		if sess.Enabled {
			active++
		}
	}
	fmt.Fprintf(tw, "Session daemon:\t%s %d sessions (%d active)\n", ui.OKTag(), len(sessions), active)
	return tw.Flush()
}

// PermissionSection reports whether the current user may trace the kernel.
type PermissionSection struct {
	UID    int
	User   string
	Groups []string
}

// NewPermissionSection describes the current process's credentials.
func NewPermissionSection() *PermissionSection {
	s := &PermissionSection{UID: unix.Getuid()}
	u, err := user.Current()
	if err != nil {
		return s
	}
	s.User = u.Username
	gids, err := u.GroupIds()
	if err != nil {
		return s
	}
	for _, gid := range gids {
		if g, err := user.LookupGroupId(gid); err == nil {
			s.Groups = append(s.Groups, g.Name)
		}
	}
	return s
}

func (s *PermissionSection) Name() string { return "Permissions" }

var errNoKernelAccess = errors.New("kernel tracing requires root or membership in the " + TracingGroup + " group")

func (s *PermissionSection) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "User:\t%s (uid %d)\n", s.User, s.UID)
	defer tw.Flush()

	switch {
	case s.UID == 0:
		fmt.Fprintf(tw, "Kernel tracing:\t%s running as root\n", ui.OKTag())
	case slices.Contains(s.Groups, TracingGroup):
		fmt.Fprintf(tw, "Kernel tracing:\t%s member of %s\n", ui.OKTag(), TracingGroup)
	default:
		return errNoKernelAccess
	}
	return nil
}

// StateSection shows kprof's local state.
type StateSection struct {
	ConfigDir   string
	HistoryPath string
	Registry    *session.Manager
}

func (s *StateSection) Name() string { return "State" }

func (s *StateSection) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Config dir:\t%s\n", s.ConfigDir)
	fmt.Fprintf(tw, "History:\t%s%s\n", s.HistoryPath, missing(s.HistoryPath))

	records, err := s.Registry.List()
	if err != nil {
		tw.Flush()
		return fmt.Errorf("reading session records: %w", err)
	}
	orphans := 0
	for _, r := range records {
		if !r.Alive() {
			orphans++
		}
	}
	fmt.Fprintf(tw, "Session records:\t%d\n", len(records))
	if orphans > 0 {
		fmt.Fprintf(tw, "Orphaned sessions:\t%s %d (run 'kprof reap')\n", ui.WarnTag(), orphans)
	} else {
		fmt.Fprintf(tw, "Orphaned sessions:\t0\n")
	}
	return tw.Flush()
}

func missing(path string) string {
	if _, err := os.Stat(path); err != nil {
		return " " + ui.Dim("(not created yet)")
	}
	return ""
}
