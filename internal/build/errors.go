package build

import "fmt"

// Stage names the pipeline step a project failed in.
type Stage string

const (
	StagePrepare  Stage = "prepare"
	StageDownload Stage = "download"
	StageExtract  Stage = "extract"
	StageBuild    Stage = "build"
	// StageSkipped marks projects not attempted because the run was
	// cancelled.
	StageSkipped Stage = "skipped"
)

// BuildFailure is a per-project failure. It never stops the pipeline.
type BuildFailure struct {
	Project string
	Stage   Stage
	Detail  string
	Err     error
}

func (e *BuildFailure) Error() string {
	msg := fmt.Sprintf("%s: %s failed", e.Project, e.Stage)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildFailure) Unwrap() error { return e.Err }
