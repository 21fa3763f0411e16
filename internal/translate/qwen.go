package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/subtitleworks/core/internal/observe"
	"github.com/subtitleworks/core/internal/protocol"
	"github.com/subtitleworks/core/pkg/provider/llm"
	"github.com/subtitleworks/core/pkg/types"
)

// maxContextSplitDepth bounds the context-length-fallback recursive split,
// per SPEC_FULL.md §4.4.
const maxContextSplitDepth = 12

// contextLengthHints are error-text substrings that indicate the provider
// rejected a request for exceeding its context window, triggering the
// recursive split-and-retry fallback rather than a terminal failure.
var contextLengthHints = []string{
	"maximum context", "context length", "too long", "token", "length",
	"input is too long",
}

// QwenMTDirectStrategy bypasses batching entirely (one call per recursion
// leaf), sending the translation_options-style request shape qwen-mt models
// expect. The llm.Provider abstraction has no field for provider-specific
// extensions like translation_options, so it is folded into the system
// prompt alongside the row-keyed payload.
type QwenMTDirectStrategy struct {
	provider llm.Provider
	guard    *protocolGuard
}

var _ Strategy = (*QwenMTDirectStrategy)(nil)

// NewQwenMTDirectStrategy returns a QwenMTDirectStrategy with no protocol
// negotiation (direct provider.Complete calls) — suitable for tests and call
// sites with no shared ProbeCache.
func NewQwenMTDirectStrategy(provider llm.Provider) *QwenMTDirectStrategy {
	return &QwenMTDirectStrategy{provider: provider}
}

// NewQwenMTDirectStrategyWithProtocol is like NewQwenMTDirectStrategy but
// routes every Complete call through Component B's protocol negotiation/retry
// policy (see protocolGuard).
func NewQwenMTDirectStrategyWithProtocol(provider llm.Provider, baseURL, model, apiKey string, cache *protocol.ProbeCache, metrics *observe.Metrics) *QwenMTDirectStrategy {
	s := NewQwenMTDirectStrategy(provider)
	s.guard = newProtocolGuard(provider, baseURL, model, apiKey, cache, metrics)
	return s
}

// Translate reports progress only once, after the whole call tree completes:
// the context-length recursive split (translateLines/splitAndRetry) has no
// stable notion of total batch count up front, so finer-grained (done, total)
// reporting isn't attempted here.
func (s *QwenMTDirectStrategy) Translate(ctx context.Context, sentences []types.Sentence, sourceLanguage, targetLanguage string, progress ProgressFunc) ([]types.Sentence, llm.Usage, error) {
	lines := make([]string, len(sentences))
	for i, sent := range sentences {
		lines[i] = sent.Text
	}

	translations, usage, err := s.translateLines(ctx, lines, sourceLanguage, targetLanguage, 0)
	if err != nil {
		return nil, usage, err
	}

	out := make([]types.Sentence, len(sentences))
	copy(out, sentences)
	for i, t := range translations {
		out[i].Translation = t
	}
	if progress != nil {
		progress(len(lines), len(lines))
	}
	return out, usage, nil
}

func (s *QwenMTDirectStrategy) translateLines(ctx context.Context, lines []string, sourceLanguage, targetLanguage string, depth int) ([]string, llm.Usage, error) {
	var usage llm.Usage
	if len(lines) == 0 {
		return nil, usage, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, usage, err
	}

	payload, err := encodePayload(lines)
	if err != nil {
		return nil, usage, err
	}

	resp, err := completeVia(ctx, s.provider, s.guard, llm.CompletionRequest{
		SystemPrompt: qwenMTSystemPrompt(sourceLanguage, targetLanguage),
		Messages:     []types.Message{{Role: "user", Content: payload}},
		Temperature:  0,
	})
	if err != nil {
		if isContextLengthError(err.Error()) && depth < maxContextSplitDepth && len(lines) > 1 {
			return s.splitAndRetry(ctx, lines, sourceLanguage, targetLanguage, depth)
		}
		return nil, usage, fmt.Errorf("translate(qwen-mt): %w", err)
	}

	parsed, err := decodeResponse(resp.Content, len(lines))
	if err != nil {
		if depth < maxContextSplitDepth && len(lines) > 1 {
			return s.splitAndRetry(ctx, lines, sourceLanguage, targetLanguage, depth)
		}
		return nil, usage, err
	}

	usage.PromptTokens = resp.Usage.PromptTokens
	usage.CompletionTokens = resp.Usage.CompletionTokens
	usage.TotalTokens = resp.Usage.TotalTokens
	return orderedTranslations(parsed, len(lines)), usage, nil
}

func (s *QwenMTDirectStrategy) splitAndRetry(ctx context.Context, lines []string, sourceLanguage, targetLanguage string, depth int) ([]string, llm.Usage, error) {
	mid := len(lines) / 2
	left, leftUsage, err := s.translateLines(ctx, lines[:mid], sourceLanguage, targetLanguage, depth+1)
	if err != nil {
		return nil, leftUsage, err
	}
	right, rightUsage, err := s.translateLines(ctx, lines[mid:], sourceLanguage, targetLanguage, depth+1)
	if err != nil {
		return nil, leftUsage, err
	}
	usage := llm.Usage{
		PromptTokens:     leftUsage.PromptTokens + rightUsage.PromptTokens,
		CompletionTokens: leftUsage.CompletionTokens + rightUsage.CompletionTokens,
		TotalTokens:      leftUsage.TotalTokens + rightUsage.TotalTokens,
	}
	return append(left, right...), usage, nil
}

func isContextLengthError(errorText string) bool {
	text := strings.ToLower(errorText)
	for _, hint := range contextLengthHints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}

func qwenMTSystemPrompt(sourceLanguage, targetLanguage string) string {
	return fmt.Sprintf(
		"translation_options={\"source_lang\":%q,\"target_lang\":%q}. "+
			"The user message is a JSON object mapping id_N keys to source lines; translate each "+
			"independently and reply either as a JSON object with the same keys, or as newline-delimited "+
			"\"id_N: translation\" lines. Do not add, remove, or rename keys.",
		sourceLanguage, targetLanguage,
	)
}
