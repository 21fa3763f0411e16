package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/subtitleworks/core/internal/asrdispatch"
	"github.com/subtitleworks/core/internal/drift"
	"github.com/subtitleworks/core/internal/ffmpeg"
	"github.com/subtitleworks/core/internal/observe"
	"github.com/subtitleworks/core/internal/subtitle"
	"github.com/subtitleworks/core/internal/translate"
	"github.com/subtitleworks/core/internal/urlcache"
	"github.com/subtitleworks/core/pkg/types"
)

// Progress bands from SPEC_FULL.md §4.6. Stages not listed here (e.g. the
// gap between asr and llm_translate) have no externally reported movement;
// the percent simply holds at the previous band's end until the next stage
// starts.
const (
	bandDownloadStart, bandDownloadEnd = 3, 12
	bandExtractEnd                     = 30
	bandASRStart, bandASREnd           = 30, 42
	bandTranslateStart, bandTranslateEnd = 72, 90
	bandAlignStart, bandAlignEnd       = 92, 97
)

// cancelPollInterval is how often a watcher goroutine polls ShouldCancelFunc
// while a stage is blocked inside a component that has no native cancellation
// hook of its own (only a context.Context).
const cancelPollInterval = 150 * time.Millisecond

// TranslatorFor resolves the translate.Strategy to use for a job's configured
// LLM model, returning the missing_llm_api_key-class error when the model
// isn't wired to a usable provider. Constructed by cmd/subtitlecore at
// startup from internal/config.Registry.
type TranslatorFor func(opts types.Options) (translate.Strategy, error)

// Deps wires the Engine to every domain component the pipeline stages call.
// Every field is a concrete, already-constructed collaborator; selecting
// *which* backend to use for a given provider name is cmd/subtitlecore's
// wiring concern, not the Engine's.
type Deps struct {
	Extractor    *ffmpeg.Extractor
	URLIngestor  *urlcache.Ingestor
	ASR          *asrdispatch.Dispatcher
	TranslatorFor TranslatorFor

	DriftThresholds drift.Thresholds
	SplitOptions    subtitle.SplitOptions

	// Metrics records stage_duration_seconds and asr_provider_fallback_total.
	// Defaults to observe.DefaultMetrics() when nil.
	Metrics *observe.Metrics
}

// Engine sequences a job's stages per SPEC_FULL.md §4.6. It implements Runner.
type Engine struct {
	deps Deps
}

var _ Runner = (*Engine)(nil)

// New returns an Engine driven by deps, filling in documented defaults for
// any zero-value threshold/option field.
func New(deps Deps) *Engine {
	if deps.DriftThresholds == (drift.Thresholds{}) {
		deps.DriftThresholds = drift.DefaultThresholds()
	}
	if deps.SplitOptions == (subtitle.SplitOptions{}) {
		deps.SplitOptions = subtitle.DefaultSplitOptions()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Engine{deps: deps}
}

// mapBand linearly projects done/total onto [start, end], clamping to the
// band and guarding against a zero total.
func mapBand(done, total, start, end int) int {
	if total <= 0 {
		return start
	}
	if done < 0 {
		done = 0
	}
	if done > total {
		done = total
	}
	pct := start + (end-start)*done/total
	if pct < start {
		return start
	}
	if pct > end {
		return end
	}
	return pct
}

// watchCancel derives a cancellable context from ctx that is cancelled early
// whenever shouldCancel() reports true, for components (urlcache, ffmpeg, an
// LLM HTTP call) that only understand context cancellation and have no
// ShouldCancelFunc parameter of their own. Callers must invoke the returned
// stop func once the component call returns.
func watchCancel(ctx context.Context, shouldCancel ShouldCancelFunc) (context.Context, func()) {
	watched, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-watched.Done():
				return
			case <-ticker.C:
				if shouldCancel() {
					cancel()
					return
				}
			}
		}
	}()
	return watched, func() {
		close(done)
		cancel()
	}
}

// checkCancel returns ErrCancelled wrapped into a StageError for stage if
// shouldCancel reports true, otherwise nil. Called at every stage boundary
// and at batch/segment boundaries within a stage.
func checkCancel(stage string, shouldCancel ShouldCancelFunc) error {
	if shouldCancel() {
		return NewStageError(stage, CodeCancelRequested, ErrCancelled)
	}
	return nil
}

// traced wraps fn in an OpenTelemetry span named "pipeline.<stage>" carrying
// job_id and status_revision attributes, per SPEC_FULL.md §4.6's tracing
// expansion, and records the call's wall time as stage_duration_seconds.
func (e *Engine) traced(ctx context.Context, job *types.Job, stage string, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "pipeline."+stage)
	defer span.End()
	span.SetAttributes(
		observe.Attr("job_id", job.JobID),
		observe.Attr("status_revision", strconv.FormatUint(job.StatusRevision, 10)),
	)
	started := time.Now()
	err := fn(ctx)
	e.deps.Metrics.RecordStageDuration(ctx, stage, time.Since(started).Seconds())
	return err
}

// Run executes job's stage sequence. The starting stage is selected by
// job.Kind: full/url jobs start at (download_source then) extract_audio;
// resume jobs start directly at llm_translate.
func (e *Engine) Run(ctx context.Context, job *types.Job, report ProgressFunc, shouldCancel ShouldCancelFunc) (*types.Result, error) {
	log := observe.Logger(ctx)

	var (
		audioPath    string
		sentences    []types.Sentence
		wordSegments []types.WordSegment
		stats        types.Stats
		err          error
	)

	if job.Kind == types.JobKindResume {
		sentences = job.ResumeSentences
		wordSegments = job.ResumeWordSegments
	} else {
		if job.SourceMode == types.SourceModeURL {
			if err = checkCancel(StageDownloadSource, shouldCancel); err != nil {
				return nil, err
			}
			if audioPath, err = e.runDownloadSource(ctx, job, report, shouldCancel); err != nil {
				return nil, err
			}
		} else {
			audioPath = job.VideoPath
		}

		if err = checkCancel(StageExtractAudio, shouldCancel); err != nil {
			return nil, err
		}
		var wavPath string
		if wavPath, err = e.runExtractAudio(ctx, job, audioPath, report, shouldCancel); err != nil {
			return nil, err
		}

		if err = checkCancel(StageASR, shouldCancel); err != nil {
			return nil, err
		}
		if sentences, wordSegments, stats, err = e.runASR(ctx, job, wavPath, report, shouldCancel); err != nil {
			return nil, err
		}

		if err = writeSalvageSnapshot(job.WorkDir, sentences, wordSegments); err != nil {
			log.Warn("pipeline: write salvage snapshot failed", "job_id", job.JobID, "error", err)
		}
	}

	if err = checkCancel(StageLLMTranslate, shouldCancel); err != nil {
		return nil, err
	}
	translated, err := e.runLLMTranslate(ctx, job, sentences, report, shouldCancel)
	if err != nil {
		return nil, err
	}

	if err = checkCancel(StageAlignAndBuild, shouldCancel); err != nil {
		return nil, err
	}
	result, err := e.runAlignAndBuild(ctx, job, translated, wordSegments, stats, report, shouldCancel)
	if err != nil {
		return nil, err
	}

	return result, nil
}
