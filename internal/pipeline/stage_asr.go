package pipeline

import (
	"context"
	"errors"

	"github.com/subtitleworks/core/internal/asr"
	"github.com/subtitleworks/core/internal/asrdispatch"
	"github.com/subtitleworks/core/pkg/types"
)

// runASR transcribes wavPath through the provider chain selected for the
// job's (runtime, profile, fallback) options, returning untranslated
// per-segment sentences plus the flattened word stream the aligner needs.
func (e *Engine) runASR(ctx context.Context, job *types.Job, wavPath string, report ProgressFunc, shouldCancel ShouldCancelFunc) ([]types.Sentence, []types.WordSegment, types.Stats, error) {
	if e.deps.ASR == nil {
		return nil, nil, types.Stats{}, NewStageError(StageASR, CodeASRProviderChainEmpty, errors.New("pipeline: no asr dispatcher configured"))
	}

	report(bandASRStart, StageASR, "transcribing audio", nil)

	watched, stop := watchCancel(ctx, shouldCancel)
	defer stop()

	req := asr.TranscribeRequest{
		AudioPath: wavPath,
		Language:  job.Options.Language,
		Model:     job.Options.ASRModel,
		ProgressFunc: func(done, total int) {
			report(mapBand(done, total, bandASRStart, bandASREnd), StageASR, "transcribing audio", &types.StageDetail{
				Key: "asr_segments", Label: "transcribing audio", Done: done, Total: total, Unit: "segments",
			})
		},
	}

	var (
		result            *asr.TranscribeResult
		effectiveProvider string
		fallbackUsed      bool
	)
	err := e.traced(watched, job, StageASR, func(spanCtx context.Context) error {
		var innerErr error
		result, effectiveProvider, fallbackUsed, innerErr = e.deps.ASR.Transcribe(spanCtx, job.Options, req)
		return innerErr
	})
	if err != nil {
		return nil, nil, types.Stats{}, classifyASRErr(err)
	}
	if fallbackUsed {
		e.deps.Metrics.RecordASRProviderFallback(ctx, effectiveProvider)
	}
	if len(result.Segments) == 0 {
		return nil, nil, types.Stats{}, NewStageError(StageASR, CodeASREmptySegments, errors.New("asr: provider returned no segments"))
	}

	words, err := asr.ToWordSegments(result, asrSourceTag(effectiveProvider))
	if err != nil {
		if errors.Is(err, asr.ErrWordTimestampsMissing) {
			return nil, nil, types.Stats{}, NewStageError(StageASR, CodeWordTimestampsMissing, err)
		}
		return nil, nil, types.Stats{}, NewStageError(StageASR, CodeASRAllProvidersFailed, err)
	}

	sentences := make([]types.Sentence, 0, len(result.Segments))
	for _, seg := range result.Segments {
		if seg.Text == "" {
			continue
		}
		sentences = append(sentences, types.Sentence{Text: seg.Text})
	}

	stats := types.Stats{
		ASRProviderEffective: effectiveProvider,
		ASRFallbackUsed:      fallbackUsed,
		ASRRuntimeEffective:  job.Options.ASRRuntime,
		ASRModelEffective:    job.Options.ASRModel,
	}

	report(bandASREnd, StageASR, "audio transcribed", nil)
	return sentences, words, stats, nil
}

// asrSourceTag collapses a dispatcher chain-entry name down to the "cloud"/
// "local" source tag WordSegment.Source expects.
func asrSourceTag(effectiveProvider string) string {
	switch effectiveProvider {
	case asrdispatch.NameLocalWhisperX, asrdispatch.NameLocalFasterWhisper:
		return "local"
	default:
		return "cloud"
	}
}

func classifyASRErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return NewStageError(StageASR, CodeCancelRequested, ErrCancelled)
	case errors.Is(err, asrdispatch.ErrChainEmpty):
		return NewStageError(StageASR, CodeASRProviderChainEmpty, err)
	case errors.Is(err, asrdispatch.ErrAllProvidersFailed):
		return NewStageError(StageASR, CodeASRAllProvidersFailed, err)
	default:
		return NewStageError(StageASR, CodeASRAllProvidersFailed, err)
	}
}
