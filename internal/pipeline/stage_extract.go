package pipeline

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/subtitleworks/core/internal/ffmpeg"
	"github.com/subtitleworks/core/pkg/types"
)

// runExtractAudio produces a mono 16kHz WAV from sourcePath. FFmpeg's own
// progress isn't parsed (see internal/ffmpeg), so this stage reports only
// its start and its end.
func (e *Engine) runExtractAudio(ctx context.Context, job *types.Job, sourcePath string, report ProgressFunc, shouldCancel ShouldCancelFunc) (string, error) {
	if e.deps.Extractor == nil {
		return "", NewStageError(StageExtractAudio, CodeFFmpegMissing, errors.New("pipeline: no ffmpeg extractor configured"))
	}

	extractStart := 0
	if job.SourceMode == types.SourceModeURL {
		extractStart = bandDownloadEnd
	}
	report(extractStart, StageExtractAudio, "extracting audio", nil)

	watched, stop := watchCancel(ctx, shouldCancel)
	defer stop()

	wavPath := filepath.Join(job.WorkDir, "audio.wav")
	err := e.traced(watched, job, StageExtractAudio, func(spanCtx context.Context) error {
		return e.deps.Extractor.ExtractAudio(spanCtx, sourcePath, wavPath)
	})
	if err != nil {
		return "", classifyExtractErr(err)
	}

	report(bandExtractEnd, StageExtractAudio, "audio extracted", nil)
	return wavPath, nil
}

func classifyExtractErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return NewStageError(StageExtractAudio, CodeCancelRequested, ErrCancelled)
	case errors.Is(err, ffmpeg.ErrMissing):
		return NewStageError(StageExtractAudio, CodeFFmpegMissing, err)
	default:
		return NewStageError(StageExtractAudio, CodeFFmpegExtractFailed, err)
	}
}
