package cloud

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/subtitleworks/core/internal/asr"
)

func writeTempAudio(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVEfmt "), 0o600); err != nil {
		t.Fatalf("write temp audio: %v", err)
	}
	return path
}

func TestProvider_Transcribe_FirstVariantSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/audio/transcriptions" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello world","segments":[{"start":0,"end":1.5,"text":"hello world","words":[{"word":"hello","start":0,"end":0.5},{"word":"world","start":0.6,"end":1.5}]}]}`))
	}))
	defer srv.Close()

	p := New("cloud_paraformer_v2", "paraformer-v2", srv.URL, "key", nil)
	result, err := p.Transcribe(context.Background(), transcribeReq(writeTempAudio(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (should succeed on first variant)", calls)
	}
	if len(result.Segments) != 1 || len(result.Segments[0].Words) != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestProvider_Transcribe_FallsBackToNextVariantOn400(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if len(paths) < 3 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"unknown parameter: timestamp_granularities[]"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hi","segments":[{"start":0,"end":1,"text":"hi","words":[{"word":"hi","start":0,"end":1}]}]}`))
	}))
	defer srv.Close()

	p := New("cloud_paraformer_v2", "paraformer-v2", srv.URL, "key", func(status int, text string) bool {
		return status == http.StatusBadRequest
	})
	result, err := p.Transcribe(context.Background(), transcribeReq(writeTempAudio(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("attempts = %d, want 3", len(paths))
	}
	if result.Segments[0].Text != "hi" {
		t.Fatalf("unexpected text %q", result.Segments[0].Text)
	}
}

func TestProvider_Transcribe_TerminalErrorStopsImmediately(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	p := New("cloud_paraformer_v2", "paraformer-v2", srv.URL, "bad-key", func(status int, text string) bool {
		return status != http.StatusUnauthorized
	})
	_, err := p.Transcribe(context.Background(), transcribeReq(writeTempAudio(t)))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (terminal error should not retry)", calls)
	}
}

func transcribeReq(path string) asr.TranscribeRequest {
	return asr.TranscribeRequest{AudioPath: path}
}
