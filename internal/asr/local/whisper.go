// Package local provides batch ASR backends realized as Go wrappers around
// locally loaded model runtimes: whisper.cpp (faster-whisper / whisperx
// stand-ins — see SPEC_FULL.md §6 for the mapping).
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/subtitleworks/core/internal/asr"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Provider implements asr.Provider using whisper.cpp Go bindings (CGo),
// transcribing an entire audio file in one call. The model is loaded once
// and shared across all concurrent Transcribe calls; each call opens its own
// whisper.cpp context (contexts are not thread-safe, models are).
type Provider struct {
	mu       sync.Mutex // serializes access to the shared model's context creation
	model    whisperlib.Model
	name     string
	language string
}

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the default BCP-47 language hint. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New loads a whisper.cpp model from modelPath and returns a Provider
// identified by name (e.g. "local_whisperx", "local_faster_whisper" — the
// spec treats these as distinct backends even though both may be realized by
// the same whisper.cpp binding with different model weights).
func New(name, modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("asr/local: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("asr/local: load model %q: %w", modelPath, err)
	}
	p := &Provider{model: model, name: name, language: "en"}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Name returns the backend identifier this Provider was constructed with.
func (p *Provider) Name() string { return p.name }

// Transcribe decodes the WAV file at req.AudioPath, runs whisper.cpp
// inference, and returns segments with word-level timestamps (whisper.cpp
// reports token-level timing natively via NextSegment/Tokens).
func (p *Provider) Transcribe(ctx context.Context, req asr.TranscribeRequest) (*asr.TranscribeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("asr/local: context already cancelled: %w", err)
	}

	samples, err := decodeWAVMono16(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("asr/local: decode wav: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	p.mu.Lock()
	wctx, err := p.model.NewContext()
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("asr/local: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("asr/local: set language %q: %w", lang, err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("asr/local: process audio: %w", err)
	}

	var segments []asr.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("asr/local: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		words := make([]asr.Word, 0, len(seg.Tokens))
		for _, tok := range seg.Tokens {
			w := strings.TrimSpace(tok.Text)
			if w == "" {
				continue
			}
			words = append(words, asr.Word{
				Word:  w,
				Start: tok.Start.Seconds(),
				End:   tok.End.Seconds(),
			})
		}
		segments = append(segments, asr.Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  text,
			Words: words,
		})
	}

	return &asr.TranscribeResult{Segments: segments}, nil
}
