package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/subtitleworks/core/internal/translate"
	"github.com/subtitleworks/core/pkg/types"
)

// accessDeniedHints mirrors internal/protocol's noFallbackHintTokens: text
// that indicates an auth/billing failure rather than a transient request
// error, surfaced here as llm_access_denied instead of llm_request_failed.
var accessDeniedHints = []string{
	"invalid api key", "incorrect api key", "authentication", "unauthorized",
	"forbidden", "insufficient_quota", "insufficient quota", "billing",
}

// runLLMTranslate delegates to the Strategy selected for the job's LLM
// model, mapping its progress reports onto the 72-90% band. QwenMTDirectStrategy
// only reports once at completion (see internal/translate's DESIGN.md note),
// so that band holds at its start value until the single callback fires.
func (e *Engine) runLLMTranslate(ctx context.Context, job *types.Job, sentences []types.Sentence, report ProgressFunc, shouldCancel ShouldCancelFunc) ([]types.Sentence, error) {
	if e.deps.TranslatorFor == nil {
		return nil, NewStageError(StageLLMTranslate, CodeMissingLLMAPIKey, errors.New("pipeline: no translator configured"))
	}
	strategy, err := e.deps.TranslatorFor(job.Options)
	if err != nil {
		return nil, classifyTranslateSetupErr(err)
	}

	report(bandTranslateStart, StageLLMTranslate, "translating", nil)

	watched, stop := watchCancel(ctx, shouldCancel)
	defer stop()

	var translated []types.Sentence
	prevDone := 0
	err = e.traced(watched, job, StageLLMTranslate, func(spanCtx context.Context) error {
		var innerErr error
		translated, _, innerErr = strategy.Translate(spanCtx, sentences, job.Options.SourceLanguage, job.Options.TargetLanguage,
			func(done, total int) {
				report(mapBand(done, total, bandTranslateStart, bandTranslateEnd), StageLLMTranslate, "translating", &types.StageDetail{
					Key: "translate_batches", Label: "translating", Done: done, Total: total, Unit: "sentences",
				})
				if done > prevDone {
					e.deps.Metrics.RecordTranslationBatchSize(spanCtx, done-prevDone)
					prevDone = done
				}
			})
		return innerErr
	})
	if err != nil {
		return nil, classifyTranslateErr(err)
	}

	report(bandTranslateEnd, StageLLMTranslate, "translation complete", nil)
	return translated, nil
}

func classifyTranslateSetupErr(err error) error {
	return NewStageError(StageLLMTranslate, CodeMissingLLMAPIKey, err)
}

func classifyTranslateErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return NewStageError(StageLLMTranslate, CodeCancelRequested, ErrCancelled)
	case errors.Is(err, translate.ErrKeyMismatch), errors.Is(err, translate.ErrInvalidJSON):
		return NewStageError(StageLLMTranslate, CodeLLMInvalidJSON, err)
	case containsAnyFold(err.Error(), accessDeniedHints):
		return NewStageError(StageLLMTranslate, CodeLLMAccessDenied, err)
	default:
		return NewStageError(StageLLMTranslate, CodeLLMRequestFailed, err)
	}
}

func containsAnyFold(text string, hints []string) bool {
	lower := strings.ToLower(text)
	for _, h := range hints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}
