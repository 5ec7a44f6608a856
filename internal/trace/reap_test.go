package trace

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/kprof/internal/lttng"
	"github.com/majorcontext/kprof/internal/session"
)

// writeRecord stores a session record owned by pid.
func writeRecord(t *testing.T, dir, name string, pid int) {
	t.Helper()
	rec := session.Record{Name: name, PID: pid, State: "started", TracePath: "/out/" + name, CreatedAt: time.Now()}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name, "metadata.json"), data, 0644))
}

func reapFixture(t *testing.T) (*session.Manager, string) {
	dir := t.TempDir()
	writeRecord(t, dir, "live", os.Getpid())
	writeRecord(t, dir, "orphan", 0)
	writeRecord(t, dir, "gone", 0)
	return session.NewManager(dir), dir
}

func TestReap(t *testing.T) {
	reg, _ := reapFixture(t)
	ctl := &fakeController{sessions: []lttng.SessionInfo{{Name: "orphan"}, {Name: "live"}}}

	results, err := Reap(context.Background(), ctl, reg, false)
	require.NoError(t, err)
	require.Len(t, results, 2)

	actions := map[string]ReapAction{}
	for _, r := range results {
		actions[r.Record.Name] = r.Action
	}
	assert.Equal(t, map[string]ReapAction{"orphan": ReapDestroyed, "gone": ReapForgotten}, actions)

	assert.Equal(t, 1, ctl.count("stop orphan"))
	assert.Equal(t, 1, ctl.count("destroy orphan"))
	assert.Equal(t, 0, ctl.count("destroy live"), "live owner is never touched")
	assert.Equal(t, 0, ctl.count("destroy gone"))

	recs, err := reg.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "live", recs[0].Name)
}

func TestReap_DryRun(t *testing.T) {
	reg, _ := reapFixture(t)
	ctl := &fakeController{sessions: []lttng.SessionInfo{{Name: "orphan"}}}

	results, err := Reap(context.Background(), ctl, reg, true)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, []string{"list"}, ctl.Calls())

	recs, _ := reg.List()
	assert.Len(t, recs, 3)
}

func TestReap_DestroyFailureKeepsRecord(t *testing.T) {
	reg, _ := reapFixture(t)
	ctl := &fakeController{
		sessions:   []lttng.SessionInfo{{Name: "orphan"}},
		destroyErr: errors.New("daemon busy"),
	}

	results, err := Reap(context.Background(), ctl, reg, false)
	require.NoError(t, err)

	for _, r := range results {
		if r.Record.Name == "orphan" {
			assert.Equal(t, ReapFailed, r.Action)
			assert.Error(t, r.Err)
		}
	}
	_, err = reg.Get("orphan")
	assert.NoError(t, err, "record kept for a later retry")
}

func TestReap_NoOrphans(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "live", os.Getpid())
	ctl := &fakeController{}

	results, err := Reap(context.Background(), ctl, session.NewManager(dir), false)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, ctl.Calls(), "daemon not queried without orphans")
}

func TestReap_ToolUnavailable(t *testing.T) {
	reg, _ := reapFixture(t)
	_, err := Reap(context.Background(), &fakeController{unavailable: true}, reg, false)
	assert.True(t, errors.Is(err, lttng.ErrToolUnavailable))
}
