package build

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/majorcontext/kprof/internal/log"
	"github.com/majorcontext/kprof/internal/ui"
)

// ProjectResult is the outcome of one project.
type ProjectResult struct {
	Name    string
	WorkDir string
	LogPath string
	// Err is nil on success.
	Err       *BuildFailure
	StartedAt time.Time
	Duration  time.Duration
}

// OK reports whether the project built.
func (r ProjectResult) OK() bool { return r.Err == nil }

// Pipeline builds projects under BaseDir:
//
//	<base>/builds/<name>/        work directory, reset before every fetch
//	<base>/logs/<name>_build.log combined build output, truncated per run
type Pipeline struct {
	BaseDir string
	Client  *http.Client
	// Env is appended to the process environment of every build command.
	Env []string
}

// NewPipeline returns a pipeline rooted at baseDir whose downloads time out
// after httpTimeout (zero means no timeout).
func NewPipeline(baseDir string, httpTimeout time.Duration) *Pipeline {
	return &Pipeline{
		BaseDir: baseDir,
		Client:  &http.Client{Timeout: httpTimeout},
		Env: []string{
			"CFLAGS=" + ProfileFlags,
			"CXXFLAGS=" + ProfileFlags,
		},
	}
}

// WorkDir returns the work directory of project name.
func (p *Pipeline) WorkDir(name string) string {
	return filepath.Join(p.BaseDir, "builds", name)
}

// LogPath returns the build log of project name.
func (p *Pipeline) LogPath(name string) string {
	return filepath.Join(p.BaseDir, "logs", name+"_build.log")
}

// RunAll processes specs in order, one at a time. A failing project never
// stops the others; once ctx is cancelled the remaining projects are marked
// skipped.
func (p *Pipeline) RunAll(ctx context.Context, specs []Spec) []ProjectResult {
	results := make([]ProjectResult, 0, len(specs))
	for i, spec := range specs {
		res := ProjectResult{
			Name:      spec.Name,
			WorkDir:   p.WorkDir(spec.Name),
			LogPath:   p.LogPath(spec.Name),
			StartedAt: time.Now(),
		}
		if ctx.Err() != nil {
			res.Err = &BuildFailure{Project: spec.Name, Stage: StageSkipped, Detail: "not attempted", Err: ctx.Err()}
			results = append(results, res)
			continue
		}

		ui.Step("[%d/%d] %s", i+1, len(specs), spec.Name)
		res.Err = p.run(ctx, spec)
		res.Duration = time.Since(res.StartedAt)
		if res.Err != nil {
			log.Debug("project failed", "project", spec.Name, "stage", res.Err.Stage, "error", res.Err)
			ui.Errorf("%v", res.Err)
		} else {
			log.Debug("project built", "project", spec.Name, "duration", res.Duration)
		}
		results = append(results, res)
	}
	return results
}

func (p *Pipeline) run(ctx context.Context, spec Spec) (failure *BuildFailure) {
	fail := func(stage Stage, detail string, err error) *BuildFailure {
		return &BuildFailure{Project: spec.Name, Stage: stage, Detail: detail, Err: err}
	}

	workDir := p.WorkDir(spec.Name)
	if err := resetDir(workDir); err != nil {
		return fail(StagePrepare, "resetting work directory", err)
	}
	logPath := p.LogPath(spec.Name)
	logFile, err := openLog(logPath)
	if err != nil {
		return fail(StagePrepare, "opening build log", err)
	}
	defer func() {
		if failure != nil && failure.Stage != StageBuild {
			fmt.Fprintf(logFile, "buildprograms: %v\n", failure)
		}
		logFile.Close()
	}()

	ui.Info("    downloading " + spec.URL)
	archive, err := download(ctx, p.Client, spec.URL, workDir)
	if err != nil {
		return fail(StageDownload, spec.URL, err)
	}

	ui.Info("    extracting " + filepath.Base(archive))
	if err := extract(archive, workDir); err != nil {
		return fail(StageExtract, filepath.Base(archive), err)
	}
	if err := os.Remove(archive); err != nil {
		return fail(StageExtract, "removing archive", err)
	}

	ui.Info("    building (log: " + logPath + ")")
	if err := p.build(ctx, spec, workDir, logFile); err != nil {
		if ctx.Err() != nil {
			return fail(StageBuild, "interrupted", err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fail(StageBuild, fmt.Sprintf("exit status %d, see %s", exitErr.ExitCode(), logPath), err)
		}
		return fail(StageBuild, "", err)
	}
	return nil
}

// resetDir removes dir and everything in it, then creates it empty.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// openLog creates or truncates a build log.
func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// build runs spec.Command through the shell with stdout and stderr sent to
// logFile. The command gets its own process group so cancellation can stop
// every process it spawned.
func (p *Pipeline) build(ctx context.Context, spec Spec, workDir string, logFile *os.File) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", spec.Command)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Run(); err != nil {
		return err
	}
	return logFile.Sync()
}
