package doctor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/kprof/internal/lttng"
	"github.com/majorcontext/kprof/internal/session"
	"github.com/majorcontext/kprof/internal/ui"
)

func TestMain(m *testing.M) {
	ui.SetColorEnabled(false)
	os.Exit(m.Run())
}

// mockSection is a test implementation of Section
type mockSection struct {
	name   string
	output string
	err    error
}

func (m *mockSection) Name() string {
	return m.name
}

func (m *mockSection) Print(w io.Writer) error {
	w.Write([]byte(m.output))
	return m.err
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.Sections())

	reg.Register(&mockSection{name: "section1"})
	reg.Register(&mockSection{name: "section2"})

	sections := reg.Sections()
	require.Len(t, sections, 2)
	assert.Equal(t, "section1", sections[0].Name())
	assert.Equal(t, "section2", sections[1].Name())
}

func TestRegistry_RunContinuesAfterFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&mockSection{name: "Version", output: "v1.0.0\n"})
	reg.Register(&mockSection{name: "LTTng", err: errors.New("lttng: not found")})
	reg.Register(&mockSection{name: "State", output: "0 records\n"})

	var buf bytes.Buffer
	failed := reg.Run(&buf)

	assert.Equal(t, 1, failed)
	out := buf.String()
	assert.Contains(t, out, "v1.0.0")
	assert.Contains(t, out, "lttng: not found")
	assert.Contains(t, out, "0 records")
	assert.Less(t, strings.Index(out, "Version"), strings.Index(out, "State"))
}

type fakeTool struct {
	availErr error
	listErr  error
	sessions []lttng.SessionInfo
}

func (f *fakeTool) Available(context.Context) error { return f.availErr }
func (f *fakeTool) Path() string                    { return "/usr/bin/lttng" }
func (f *fakeTool) Version(context.Context) (string, error) {
	return "lttng (LTTng Trace Control) 2.13.11 - Nordicité", nil
}
func (f *fakeTool) List(context.Context) ([]lttng.SessionInfo, error) {
	return f.sessions, f.listErr
}

func TestLTTngSection(t *testing.T) {
	tool := &fakeTool{sessions: []lttng.SessionInfo{{Name: "a", Enabled: true}, {Name: "b"}}}
	var buf bytes.Buffer
	require.NoError(t, (&LTTngSection{Tool: tool}).Print(&buf))
	assert.Contains(t, buf.String(), "/usr/bin/lttng")
	assert.Contains(t, buf.String(), "2.13.11")
	assert.Contains(t, buf.String(), "2 sessions (1 active)")
}

func TestLTTngSection_Unavailable(t *testing.T) {
	tool := &fakeTool{availErr: fmt.Errorf("%w: lttng: not found", lttng.ErrToolUnavailable)}
	err := (&LTTngSection{Tool: tool}).Print(io.Discard)
	assert.ErrorIs(t, err, lttng.ErrToolUnavailable)
}

func TestLTTngSection_DaemonDown(t *testing.T) {
	tool := &fakeTool{listErr: errors.New("no session daemon")}
	var buf bytes.Buffer
	err := (&LTTngSection{Tool: tool}).Print(&buf)
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "not reachable")
}

func TestPermissionSection(t *testing.T) {
	tests := []struct {
		name    string
		section PermissionSection
		wantErr bool
	}{
		{"root", PermissionSection{UID: 0, User: "root"}, false},
		{"tracing group", PermissionSection{UID: 1000, User: "dev", Groups: []string{"dev", TracingGroup}}, false},
		{"unprivileged", PermissionSection{UID: 1000, User: "dev", Groups: []string{"dev"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.section.Print(io.Discard)
			if tt.wantErr {
				assert.ErrorIs(t, err, errNoKernelAccess)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStateSection(t *testing.T) {
	dir := t.TempDir()
	reg := session.NewManager(filepath.Join(dir, "sessions"))
	_, err := reg.Create("live", "/out", "/out/live", "started", []string{"true"})
	require.NoError(t, err)

	// A record whose owner is gone.
	orphanDir := filepath.Join(dir, "sessions", "gone")
	require.NoError(t, os.MkdirAll(orphanDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(orphanDir, "metadata.json"),
		[]byte(`{"name":"gone","pid":0,"state":"started"}`), 0o644))

	var buf bytes.Buffer
	s := &StateSection{ConfigDir: dir, HistoryPath: filepath.Join(dir, "history.db"), Registry: reg}
	require.NoError(t, s.Print(&buf))

	out := buf.String()
	assert.Contains(t, out, "not created yet")
	assert.Regexp(t, `Session records:\s+2\n`, out)
	assert.Contains(t, out, "1 (run 'kprof reap')")
}

func TestVersionSection(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&VersionSection{Version: "1.2.3"}).Print(&buf))
	assert.Contains(t, buf.String(), "1.2.3")
}
