// Package asr defines the Provider abstraction for batch speech-to-text
// backends used by the pipeline's ASR stage (Component C).
//
// Unlike a live microphone session, a Provider here transcribes a whole audio
// file in one call and must return word-level timestamps: downstream
// alignment (internal/align) has no other source of timing information.
package asr

import (
	"context"
	"errors"

	"github.com/subtitleworks/core/pkg/types"
)

// errNotSupported is returned by optional capabilities a given backend lacks.
var errNotSupported = errors.New("asr: not supported by this provider")

// ErrWordTimestampsMissing indicates the provider returned segments without
// word-level timing, which the pipeline cannot proceed without.
var ErrWordTimestampsMissing = errors.New("asr: word_timestamps_missing")

// Segment is one ASR-recognized span of speech with its constituent words.
type Segment struct {
	Start float64
	End   float64
	Text  string
	Words []Word
}

// Word is a single recognized token with timing.
type Word struct {
	Word       string
	Start      float64
	End        float64
	Confidence float64
}

// TranscribeRequest carries everything a Provider needs to transcribe one file.
type TranscribeRequest struct {
	// AudioPath is a 16kHz mono WAV file produced by the extract_audio stage.
	AudioPath string

	// Language is a BCP-47 hint; empty means auto-detect where supported.
	Language string

	// Model optionally overrides the provider's default model name.
	Model string

	// ProgressFunc, if non-nil, is called with (done, total) as transcription
	// makes incremental progress. total may be 0 when progress is unknown.
	ProgressFunc func(done, total int)
}

// TranscribeResult is the output of a successful Transcribe call.
type TranscribeResult struct {
	Segments []Segment
}

// Provider is the abstraction over any batch ASR backend — a cloud
// OpenAI-compatible transcription endpoint or a locally loaded model.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe runs speech recognition on the file named in req and returns
	// timed segments with word-level timestamps. Implementations must respect
	// ctx cancellation.
	Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error)

	// Name identifies this provider instance for logging, metering, and
	// provider-chain diagnostics (e.g. "cloud_paraformer_v2").
	Name() string
}

// ToWordSegments flattens a TranscribeResult into a single ordered word-level
// stream annotated with the originating segment index and a source tag, the
// shape the aligner (internal/align) consumes. Returns ErrWordTimestampsMissing
// if no segment carries any words.
func ToWordSegments(result *TranscribeResult, source string) ([]types.WordSegment, error) {
	var out []types.WordSegment
	id := 1
	for segIdx, seg := range result.Segments {
		for _, w := range seg.Words {
			out = append(out, types.WordSegment{
				ID:              id,
				Start:           w.Start,
				End:             w.End,
				Word:            w.Word,
				Confidence:      w.Confidence,
				ASRSegmentIndex: segIdx,
				Source:          source,
			})
			id++
		}
	}
	if len(out) == 0 {
		return nil, ErrWordTimestampsMissing
	}
	return out, nil
}
