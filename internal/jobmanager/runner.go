package jobmanager

import "github.com/subtitleworks/core/internal/pipeline"

// ProgressFunc, ShouldCancelFunc, and Runner alias internal/pipeline's
// definitions. jobmanager only calls through Runner; it never constructs
// one, so the concrete Engine lives in internal/pipeline, which already
// sits below jobmanager in the import graph (StageError and friends).
type (
	ProgressFunc     = pipeline.ProgressFunc
	ShouldCancelFunc = pipeline.ShouldCancelFunc
	Runner           = pipeline.Runner
)
