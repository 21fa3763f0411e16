package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/subtitleworks/core/internal/align"
	"github.com/subtitleworks/core/internal/drift"
	"github.com/subtitleworks/core/internal/subtitle"
	"github.com/subtitleworks/core/pkg/types"
)

// qwenWordStreamModel is the one ASR model whose word timestamps only
// support the aligner's proportional word-stream fallback, per §4.1/§4.3.
const qwenWordStreamModel = "cloud_qwen3_asr_flash_filetrans"

// maxWordStreamFallbackRatio is the hard quality gate on AlignmentQwenWordStreamFallback
// mode: internal/align computes FallbackRatio but leaves enforcing it to the caller.
const maxWordStreamFallbackRatio = 0.10

// runAlignAndBuild maps translated sentences onto word timestamps, applies
// drift correction, renumbers the timeline, and emits both SRT files.
func (e *Engine) runAlignAndBuild(ctx context.Context, job *types.Job, sentences []types.Sentence, words []types.WordSegment, stats types.Stats, report ProgressFunc, shouldCancel ShouldCancelFunc) (*types.Result, error) {
	report(bandAlignStart, StageAlignAndBuild, "aligning timestamps", nil)

	var result *types.Result
	err := e.traced(ctx, job, StageAlignAndBuild, func(_ context.Context) error {
		aligned, diag, alignErr := align.Align(sentences, words, align.Options{
			AllowWordStreamFallback: job.Options.ASRModel == qwenWordStreamModel,
		})
		if alignErr != nil {
			return classifyAlignErr(alignErr)
		}
		if diag.AlignmentMode == types.AlignmentQwenWordStreamFallback && diag.FallbackRatio > maxWordStreamFallbackRatio {
			return NewStageError(StageAlignAndBuild, CodeTimestampAlignmentFailed,
				errors.New("align: word-stream fallback ratio exceeds quality gate")).WithDetail(diag)
		}
		stats.Alignment = diag

		if shouldCancel() {
			return NewStageError(StageAlignAndBuild, CodeCancelRequested, ErrCancelled)
		}

		corrected, syncDiag := drift.ApplyAdaptiveDriftCorrection(aligned, words, diag.AlignmentQualityScore, e.deps.DriftThresholds)
		job.SyncDiagnostics = syncDiag

		split := subtitle.SplitOverlong(corrected, e.deps.SplitOptions)
		subs := subtitle.NormalizeTimeline(split)

		if err := writeSRTFiles(job.WorkDir, subs); err != nil {
			return NewStageError(StageAlignAndBuild, CodePipelineUnexpectedError, err)
		}

		result = &types.Result{Subtitles: subs, Stats: stats}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report(bandAlignEnd, StageAlignAndBuild, "subtitles built", nil)
	return result, nil
}

func writeSRTFiles(workDir string, subs []types.Subtitle) error {
	if err := os.WriteFile(filepath.Join(workDir, "src.srt"), []byte(subtitle.WriteSRT(subs)), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workDir, "src_trans.srt"), []byte(subtitle.WriteBilingualSRT(subs)), 0o644)
}

func classifyAlignErr(err error) error {
	if errors.Is(err, align.ErrWordSegmentsEmpty) {
		return NewStageError(StageAlignAndBuild, CodeTimestampAlignmentFailed, err)
	}
	var alignErr *align.AlignmentError
	if errors.As(err, &alignErr) {
		return NewStageError(StageAlignAndBuild, CodeTimestampAlignmentFailed, err).WithDetail(alignErr)
	}
	return NewStageError(StageAlignAndBuild, CodeTimestampAlignmentFailed, err)
}
