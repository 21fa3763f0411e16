// Package translate batches sentence rows, calls an LLM provider to produce
// translations, and validates the row-keyed JSON response shape (Component D).
package translate

import (
	"context"

	"github.com/subtitleworks/core/internal/observe"
	"github.com/subtitleworks/core/internal/protocol"
	"github.com/subtitleworks/core/pkg/provider/llm"
	"github.com/subtitleworks/core/pkg/types"
)

// ProgressFunc reports translation progress as done out of total sentences
// completed so far. It may be called zero or more times before Translate
// returns and is never called concurrently. A nil ProgressFunc is valid and
// must be tolerated by every Strategy implementation.
type ProgressFunc func(done, total int)

// Strategy translates a batch of sentences in place, returning the same
// sentences with Translation populated and the aggregate token usage for
// metering.
type Strategy interface {
	Translate(ctx context.Context, sentences []types.Sentence, sourceLanguage, targetLanguage string, progress ProgressFunc) ([]types.Sentence, llm.Usage, error)
}

// QwenMTFlashModelName is the model identifier that selects
// QwenMTDirectStrategy instead of ChunkedLLMStrategy at pipeline construction
// time.
const QwenMTFlashModelName = "qwen-mt-flash"

// NewStrategy selects ChunkedLLMStrategy or QwenMTDirectStrategy based on the
// configured model name, per SPEC_FULL.md §4.4 and Design Note §9's
// "monkey-patched shortcut → explicit strategy" decision.
func NewStrategy(provider llm.Provider, model string) Strategy {
	if model == QwenMTFlashModelName {
		return NewQwenMTDirectStrategy(provider)
	}
	return NewChunkedLLMStrategy(provider)
}

// NewStrategyWithProtocol is like NewStrategy but routes every LLM call
// through Component B's protocol negotiation and retry policy, keyed by
// baseURL/model/apiKey in cache (a single process-lifetime ProbeCache shared
// across every configured LLM backend).
func NewStrategyWithProtocol(provider llm.Provider, model, baseURL, apiKey string, cache *protocol.ProbeCache, metrics *observe.Metrics) Strategy {
	if model == QwenMTFlashModelName {
		return NewQwenMTDirectStrategyWithProtocol(provider, baseURL, model, apiKey, cache, metrics)
	}
	return NewChunkedLLMStrategyWithProtocol(provider, baseURL, model, apiKey, cache, metrics)
}
