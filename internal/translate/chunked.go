package translate

import (
	"context"
	"fmt"

	"github.com/subtitleworks/core/internal/observe"
	"github.com/subtitleworks/core/internal/protocol"
	"github.com/subtitleworks/core/pkg/provider/llm"
	"github.com/subtitleworks/core/pkg/types"
)

// Dual batching limits from SPEC_FULL.md §4.4.
const (
	defaultMaxItems = 28
	defaultMaxChars = 2600
	defaultMinItems = 8
)

// ChunkedLLMStrategy is the standard translation path: partition sentences
// into batches under dual (item-count, char-count) limits, call a generic
// chat-completion LLM with a row-keyed JSON prompt, and validate the
// response's key set.
type ChunkedLLMStrategy struct {
	provider llm.Provider
	guard    *protocolGuard
	maxItems int
	maxChars int
	minItems int
}

var _ Strategy = (*ChunkedLLMStrategy)(nil)

// NewChunkedLLMStrategy returns a ChunkedLLMStrategy with the spec's default
// batching limits and no protocol negotiation (direct provider.Complete
// calls) — suitable for tests and call sites with no shared ProbeCache.
func NewChunkedLLMStrategy(provider llm.Provider) *ChunkedLLMStrategy {
	return &ChunkedLLMStrategy{
		provider: provider,
		maxItems: defaultMaxItems,
		maxChars: defaultMaxChars,
		minItems: defaultMinItems,
	}
}

// NewChunkedLLMStrategyWithProtocol is like NewChunkedLLMStrategy but routes
// every Complete call through Component B's protocol negotiation/retry
// policy (see protocolGuard), keyed by baseURL/model/apiKey in cache and
// reporting fallbacks through metrics.
func NewChunkedLLMStrategyWithProtocol(provider llm.Provider, baseURL, model, apiKey string, cache *protocol.ProbeCache, metrics *observe.Metrics) *ChunkedLLMStrategy {
	s := NewChunkedLLMStrategy(provider)
	s.guard = newProtocolGuard(provider, baseURL, model, apiKey, cache, metrics)
	return s
}

func (s *ChunkedLLMStrategy) Translate(ctx context.Context, sentences []types.Sentence, sourceLanguage, targetLanguage string, progress ProgressFunc) ([]types.Sentence, llm.Usage, error) {
	lines := make([]string, len(sentences))
	for i, sent := range sentences {
		lines[i] = sent.Text
	}

	out := make([]types.Sentence, len(sentences))
	copy(out, sentences)

	var totalUsage llm.Usage
	for _, batch := range splitBatches(lines, s.maxItems, s.maxChars, s.minItems) {
		if err := ctx.Err(); err != nil {
			return nil, totalUsage, err
		}
		batchLines := lines[batch.start:batch.end]
		payload, err := encodePayload(batchLines)
		if err != nil {
			return nil, totalUsage, err
		}

		resp, err := completeVia(ctx, s.provider, s.guard, llm.CompletionRequest{
			SystemPrompt: translationSystemPrompt(sourceLanguage, targetLanguage, len(batchLines)),
			Messages:     []types.Message{{Role: "user", Content: payload}},
			Temperature:  0,
		})
		if err != nil {
			return nil, totalUsage, fmt.Errorf("translate: chunk [%d,%d): %w", batch.start, batch.end, err)
		}

		parsed, err := decodeResponse(resp.Content, len(batchLines))
		if err != nil {
			return nil, totalUsage, fmt.Errorf("translate: chunk [%d,%d): %w", batch.start, batch.end, err)
		}
		translations := orderedTranslations(parsed, len(batchLines))
		for i, t := range translations {
			out[batch.start+i].Translation = t
		}

		totalUsage.PromptTokens += resp.Usage.PromptTokens
		totalUsage.CompletionTokens += resp.Usage.CompletionTokens
		totalUsage.TotalTokens += resp.Usage.TotalTokens

		if progress != nil {
			progress(batch.end, len(lines))
		}
	}

	return out, totalUsage, nil
}

func translationSystemPrompt(sourceLanguage, targetLanguage string, count int) string {
	return fmt.Sprintf(
		"You translate subtitle lines from %s to %s. "+
			"The user message is a JSON object mapping id_0..id_%d to source lines. "+
			"Reply with a JSON object using the exact same keys, each value the translated line. "+
			"Do not add, remove, or rename keys.",
		sourceLanguage, targetLanguage, count-1,
	)
}
