// Package cloud implements a batch ASR backend against OpenAI-compatible
// multipart transcription endpoints (paraformer-v2, qwen3-asr-flash-filetrans).
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/subtitleworks/core/internal/asr"
)

// requestTimeout matches the cloud ASR budget in SPEC_FULL.md §5.
const requestTimeout = 180 * time.Second

// endpointPaths are tried in order, mirroring the teacher's http client's
// willingness to retry an alternate path shape before giving up.
var endpointPaths = []string{"/audio/transcriptions", "/files/transcriptions"}

// fieldVariant describes one combination of request fields to try against an
// endpoint, per SPEC_FULL.md §4.2's field-variant retry order.
type fieldVariant struct {
	name                string
	granularitiesArray  bool // timestamp_granularities[]=word&=segment
	granularitiesScalar bool // timestamp_granularities=word
	responseFormat      bool // response_format=verbose_json
}

var fieldVariants = []fieldVariant{
	{name: "array_granularities", granularitiesArray: true, responseFormat: true},
	{name: "scalar_granularity", granularitiesScalar: true, responseFormat: true},
	{name: "verbose_json_only", responseFormat: true},
	{name: "bare"},
}

// Provider implements asr.Provider against a single cloud transcription
// endpoint, negotiating path and field-variant shape on first use.
type Provider struct {
	name       string
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client

	shouldFallback func(statusCode int, errorText string) bool
}

var _ asr.Provider = (*Provider)(nil)

// New returns a Provider identified by name, calling model at baseURL.
// shouldFallback classifies a failed attempt as worth retrying with the next
// endpoint/field-variant combination; pass nil to use a permissive default
// that always retries non-2xx responses (tests construct it directly; the
// registry wires internal/protocol.ShouldFallback in production).
func New(name, model, baseURL, apiKey string, shouldFallback func(int, string) bool) *Provider {
	if shouldFallback == nil {
		shouldFallback = func(status int, _ string) bool { return status != 200 }
	}
	return &Provider{
		name:           name,
		model:          model,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		httpClient:     &http.Client{Timeout: requestTimeout},
		shouldFallback: shouldFallback,
	}
}

func (p *Provider) Name() string { return p.name }

// Transcribe uploads the audio file at req.AudioPath, trying endpoint paths
// and field variants in order until one succeeds or all are exhausted.
func (p *Provider) Transcribe(ctx context.Context, req asr.TranscribeRequest) (*asr.TranscribeResult, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	var lastErr error
	for _, path := range endpointPaths {
		for _, variant := range fieldVariants {
			result, status, body, err := p.attempt(ctx, path, variant, model, req)
			if err == nil {
				return result, nil
			}
			lastErr = err
			if !p.shouldFallback(status, body) {
				return nil, fmt.Errorf("asr/cloud: %s %s (%s): %w", p.name, path, variant.name, err)
			}
		}
	}
	return nil, fmt.Errorf("asr/cloud: %s: all endpoint/field variants exhausted: %w", p.name, lastErr)
}

func (p *Provider) attempt(ctx context.Context, path string, variant fieldVariant, model string, req asr.TranscribeRequest) (*asr.TranscribeResult, int, string, error) {
	file, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, 0, "", fmt.Errorf("open %q: %w", req.AudioPath, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writeField(writer, "model", model); err != nil {
		return nil, 0, "", err
	}
	if req.Language != "" {
		if err := writeField(writer, "language", req.Language); err != nil {
			return nil, 0, "", err
		}
	}
	if variant.responseFormat {
		if err := writeField(writer, "response_format", "verbose_json"); err != nil {
			return nil, 0, "", err
		}
	}
	if variant.granularitiesArray {
		if err := writeField(writer, "timestamp_granularities[]", "word"); err != nil {
			return nil, 0, "", err
		}
		if err := writeField(writer, "timestamp_granularities[]", "segment"); err != nil {
			return nil, 0, "", err
		}
	}
	if variant.granularitiesScalar {
		if err := writeField(writer, "timestamp_granularities", "word"); err != nil {
			return nil, 0, "", err
		}
	}

	part, err := writer.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, 0, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, 0, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, 0, "", err
	}

	url := p.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, 0, "", err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, "", err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, string(respBody), fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	result, err := parseVerboseJSON(respBody)
	if err != nil {
		return nil, resp.StatusCode, string(respBody), err
	}
	return result, resp.StatusCode, "", nil
}

func writeField(w *multipart.Writer, name, value string) error {
	return w.WriteField(name, value)
}

// verboseJSONResponse matches the OpenAI verbose_json transcription shape,
// covering both segment- and word-level timestamp arrays.
type verboseJSONResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

func parseVerboseJSON(body []byte) (*asr.TranscribeResult, error) {
	var parsed verboseJSONResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode verbose_json response: %w", err)
	}

	if len(parsed.Segments) > 0 {
		segments := make([]asr.Segment, 0, len(parsed.Segments))
		for _, s := range parsed.Segments {
			words := make([]asr.Word, 0, len(s.Words))
			for _, w := range s.Words {
				words = append(words, asr.Word{Word: w.Word, Start: w.Start, End: w.End})
			}
			segments = append(segments, asr.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text), Words: words})
		}
		return &asr.TranscribeResult{Segments: segments}, nil
	}

	// Some providers return a flat top-level "words" array with no segment
	// grouping; synthesize a single segment spanning the whole transcript.
	if len(parsed.Words) > 0 {
		words := make([]asr.Word, 0, len(parsed.Words))
		var start, end float64
		for i, w := range parsed.Words {
			words = append(words, asr.Word{Word: w.Word, Start: w.Start, End: w.End})
			if i == 0 {
				start = w.Start
			}
			end = w.End
		}
		return &asr.TranscribeResult{Segments: []asr.Segment{{Start: start, End: end, Text: strings.TrimSpace(parsed.Text), Words: words}}}, nil
	}

	return nil, fmt.Errorf("asr/cloud: response has neither segments nor words: %s", truncate(string(body), 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
