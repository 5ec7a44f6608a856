package trace

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/kprof/internal/log"
	"github.com/majorcontext/kprof/internal/lttng"
	"github.com/majorcontext/kprof/internal/session"
)

// reapConcurrency bounds parallel control calls while reaping.
const reapConcurrency = 4

// ReapAction is what Reap did, or would do, with one orphan.
type ReapAction string

const (
	// ReapDestroyed means the daemon session was stopped and destroyed.
	ReapDestroyed ReapAction = "destroyed"
	// ReapForgotten means the daemon no longer had the session; only the
	// record was removed.
	ReapForgotten ReapAction = "forgotten"
	// ReapFailed means destroy failed and the record was kept.
	ReapFailed ReapAction = "failed"
)

// ReapResult reports one orphaned session.
type ReapResult struct {
	Record *session.Record
	Action ReapAction
	Err    error
}

// Reap cleans up sessions whose owning kprof process is gone. Sessions owned
// by a live process are never touched. With dryRun, nothing is changed and
// each result carries the action that would be taken.
func Reap(ctx context.Context, ctl lttng.Controller, registry *session.Manager, dryRun bool) ([]ReapResult, error) {
	if err := ctl.Available(ctx); err != nil {
		return nil, err
	}
	orphans, err := registry.Orphans()
	if err != nil {
		return nil, fmt.Errorf("listing session records: %w", err)
	}
	if len(orphans) == 0 {
		return nil, nil
	}

	daemon, err := ctl.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing daemon sessions: %w", err)
	}
	known := make(map[string]bool, len(daemon))
	for _, s := range daemon {
		known[s.Name] = true
	}

	results := make([]ReapResult, len(orphans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reapConcurrency)
	for i, rec := range orphans {
		i, rec := i, rec
		g.Go(func() error {
			res := ReapResult{Record: rec, Action: ReapDestroyed}
			if !known[rec.Name] {
				res.Action = ReapForgotten
			}
			if dryRun {
				results[i] = res
				return nil
			}

			if res.Action == ReapDestroyed {
				if err := ctl.Stop(gctx, rec.Name); err != nil {
					log.Debug("stopping orphaned session", "session", rec.Name, "error", err)
				}
				if err := ctl.Destroy(gctx, rec.Name); err != nil {
					res.Action = ReapFailed
					res.Err = &CleanupError{Session: rec.Name, Op: "destroy", Err: err}
					results[i] = res
					return nil
				}
			}

			if err := registry.Delete(rec.Name); err != nil {
				log.Warn("removing session record", "session", rec.Name, "error", err)
			}
			log.Info("reaped session", "session", rec.Name, "pid", rec.PID, "action", res.Action)
			results[i] = res
			return nil
		})
	}
	err = g.Wait()
	return results, err
}
