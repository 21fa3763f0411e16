package pipeline

import (
	"context"

	"github.com/subtitleworks/core/pkg/types"
)

// ProgressFunc reports progress within a pipeline stage: a percent already
// mapped into the job's global progress band, the stage name, a
// human-readable message, and an optional step-level detail.
type ProgressFunc func(percent int, stage, message string, detail *types.StageDetail)

// ShouldCancelFunc reports whether the running job has been asked to stop.
// The pipeline consults it at stage and batch boundaries.
type ShouldCancelFunc func() bool

// Runner drives a single job's pipeline stages to completion. Engine (this
// package) implements it; jobmanager depends only on the interface (via a
// type alias) so the two packages stay decoupled from each other's internals.
type Runner interface {
	// Run executes job from its starting stage (determined by job.Kind)
	// through to completion, invoking report as progress is made and
	// consulting shouldCancel at checkpoints. A *StageError signals a
	// structured stage failure; any other error is treated as unexpected.
	Run(ctx context.Context, job *types.Job, report ProgressFunc, shouldCancel ShouldCancelFunc) (*types.Result, error)

	// Salvage attempts to synthesize a partial result for job after a
	// late-stage failure, reading whatever intermediate artifacts the run
	// left behind (on-disk stage logs for file/url jobs, the job's resume
	// sentences for resume jobs). It returns (nil, nil) when nothing
	// salvageable is found.
	Salvage(job *types.Job) (*types.Result, error)
}
