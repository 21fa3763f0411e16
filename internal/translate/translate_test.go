package translate

import (
	"context"
	"errors"
	"testing"

	"github.com/subtitleworks/core/pkg/provider/llm"
	llmmock "github.com/subtitleworks/core/pkg/provider/llm/mock"
	"github.com/subtitleworks/core/pkg/types"
)

// funcProvider lets a test vary its response per call, unlike llmmock.Provider
// which always returns the same fixed response.
type funcProvider struct {
	llm.Provider
	complete func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (f *funcProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return f.complete(ctx, req)
}

func sentences(texts ...string) []types.Sentence {
	out := make([]types.Sentence, len(texts))
	for i, t := range texts {
		out[i] = types.Sentence{Text: t}
	}
	return out
}

func TestSplitBatches_RespectsItemAndCharLimits(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = "x"
	}
	batches := splitBatches(lines, 28, 2600, 8)
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2 (30 items split at max_items=28)", len(batches))
	}
	if batches[0].end-batches[0].start != 28 {
		t.Fatalf("first batch size = %d, want 28", batches[0].end-batches[0].start)
	}
}

func TestSplitBatches_CharLimitYieldsUntilMinItems(t *testing.T) {
	// Each line is 600 chars; the char limit (2600) would trigger a flush after
	// 4 lines, but min_items=8 keeps all 5 lines in one batch.
	longLine := make([]byte, 600)
	for i := range longLine {
		longLine[i] = 'a'
	}
	lines := make([]string, 5)
	for i := range lines {
		lines[i] = string(longLine)
	}
	batches := splitBatches(lines, 28, 2600, 8)
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1 (5 lines < min_items=8, char limit should yield)", len(batches))
	}
}

func TestChunkedLLMStrategy_Translate(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"id_0":"你好","id_1":"世界"}`,
			Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	strategy := NewChunkedLLMStrategy(provider)

	out, usage, err := strategy.Translate(context.Background(), sentences("hello", "world"), "en", "zh", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Translation != "你好" || out[1].Translation != "世界" {
		t.Fatalf("translations = %+v", out)
	}
	if usage.TotalTokens != 15 {
		t.Fatalf("usage = %+v, want total 15", usage)
	}
}

func TestChunkedLLMStrategy_ReportsProgressPerBatch(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"id_0":"你好","id_1":"世界"}`},
	}
	strategy := NewChunkedLLMStrategy(provider)

	var calls [][2]int
	_, _, err := strategy.Translate(context.Background(), sentences("hello", "world"), "en", "zh",
		func(done, total int) { calls = append(calls, [2]int{done, total}) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 1 || calls[0] != [2]int{2, 2} {
		t.Fatalf("progress calls = %v, want a single (2,2) call", calls)
	}
}

func TestChunkedLLMStrategy_KeyMismatchFails(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"id_0":"只有一行"}`},
	}
	strategy := NewChunkedLLMStrategy(provider)

	_, _, err := strategy.Translate(context.Background(), sentences("hello", "world"), "en", "zh", nil)
	if !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("err = %v, want ErrKeyMismatch", err)
	}
}

func TestQwenMTDirectStrategy_NewlineFormat(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "id_0: 你好\nid_1: 世界"},
	}
	strategy := NewQwenMTDirectStrategy(provider)

	out, _, err := strategy.Translate(context.Background(), sentences("hello", "world"), "en", "zh", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Translation != "你好" || out[1].Translation != "世界" {
		t.Fatalf("translations = %+v", out)
	}
}

func TestQwenMTDirectStrategy_ContextLengthFallbackSplits(t *testing.T) {
	var calls int
	provider := &funcProvider{
		complete: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("maximum context length exceeded")
			}
			// After the split, each half (1 line) succeeds.
			return &llm.CompletionResponse{Content: `{"id_0":"翻译"}`}, nil
		},
	}
	strategy := NewQwenMTDirectStrategy(provider)

	out, _, err := strategy.Translate(context.Background(), sentences("hello", "world"), "en", "zh", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Translation != "翻译" || out[1].Translation != "翻译" {
		t.Fatalf("translations = %+v", out)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (1 failed + 2 split retries)", calls)
	}
}
