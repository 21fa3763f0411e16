package align

import (
	"errors"
	"testing"

	"github.com/subtitleworks/core/pkg/types"
)

func words(specs ...[3]any) []types.WordSegment {
	out := make([]types.WordSegment, 0, len(specs))
	for i, s := range specs {
		out = append(out, types.WordSegment{
			ID:    i,
			Start: s[0].(float64),
			End:   s[1].(float64),
			Word:  s[2].(string),
		})
	}
	return out
}

func TestAlign_ExactMatch(t *testing.T) {
	ws := words(
		[3]any{0.0, 0.5, "hello"},
		[3]any{0.6, 1.5, "world"},
		[3]any{1.6, 2.0, "how"},
		[3]any{2.1, 2.4, "are"},
		[3]any{2.5, 3.0, "you"},
	)
	rows := []types.Sentence{
		{Text: "Hello world"},
		{Text: "How are you"},
	}

	aligned, diag, err := Align(rows, ws, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(aligned) != 2 {
		t.Fatalf("got %d aligned rows, want 2", len(aligned))
	}
	if aligned[0].Start != 0.0 || aligned[0].End != 1.6 {
		t.Fatalf("row0 = %+v, want start=0 end=1.6", aligned[0])
	}
	if aligned[1].Start != 1.6 || aligned[1].End != 3.0 {
		t.Fatalf("row1 = %+v, want start=1.6 end=3.0", aligned[1])
	}
	if diag.ExactMatchRows != 2 || diag.AlignmentQualityScore != 1.0 {
		t.Fatalf("diagnostics = %+v, want 2 exact matches, quality 1.0", diag)
	}
}

func TestAlign_FuzzyMatch(t *testing.T) {
	ws := words(
		[3]any{0.0, 0.4, "the"},
		[3]any{0.5, 0.9, "quick"},
		[3]any{1.0, 1.3, "brown"},
		[3]any{1.4, 1.8, "fox"},
	)
	// Sentence has a typo relative to the word stream ("foxx" vs "fox"); it
	// must still align via the fuzzy window since the LCS ratio clears 0.70.
	rows := []types.Sentence{{Text: "the quick brown foxx"}}

	aligned, diag, err := Align(rows, ws, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(aligned) != 1 {
		t.Fatalf("got %d rows, want 1", len(aligned))
	}
	if diag.FuzzyMatchRows != 1 {
		t.Fatalf("diag = %+v, want 1 fuzzy match", diag)
	}
}

func TestAlign_WordStreamFallback(t *testing.T) {
	ws := words(
		[3]any{0.0, 0.3, "alpha"},
		[3]any{0.4, 0.7, "beta"},
		[3]any{0.8, 1.1, "gamma"},
		[3]any{1.2, 1.5, "delta"},
	)
	// Text bears no resemblance to the transcript (simulating a provider
	// whose timestamps are reliable but whose text differs, e.g. translated
	// captions aligned against a foreign-language ASR word stream).
	rows := []types.Sentence{
		{Text: "completely unrelated text one"},
		{Text: "completely unrelated text two"},
	}

	aligned, diag, err := Align(rows, ws, Options{AllowWordStreamFallback: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(aligned) != 2 {
		t.Fatalf("got %d rows, want 2", len(aligned))
	}
	if diag.FallbackRows != 2 || diag.AlignmentMode != types.AlignmentQwenWordStreamFallback {
		t.Fatalf("diag = %+v, want 2 fallback rows in qwen_word_stream_fallback mode", diag)
	}
}

func TestAlign_NoMatchFails(t *testing.T) {
	ws := words([3]any{0.0, 0.3, "alpha"})
	rows := []types.Sentence{{Text: "zzz zzz zzz zzz zzz"}}

	_, _, err := Align(rows, ws, Options{})
	var alignErr *AlignmentError
	if !errors.As(err, &alignErr) {
		t.Fatalf("err = %v, want *AlignmentError", err)
	}
}

func TestAlign_EmptyWordSegments(t *testing.T) {
	_, _, err := Align([]types.Sentence{{Text: "hi"}}, nil, Options{})
	if !errors.Is(err, ErrWordSegmentsEmpty) {
		t.Fatalf("err = %v, want ErrWordSegmentsEmpty", err)
	}
}
