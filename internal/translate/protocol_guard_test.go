package translate

import (
	"context"
	"errors"
	"testing"

	"github.com/subtitleworks/core/internal/observe"
	"github.com/subtitleworks/core/internal/protocol"
	"github.com/subtitleworks/core/pkg/provider/llm"
)

func TestCompleteVia_NilGuardCallsProviderDirectly(t *testing.T) {
	var calls int
	provider := &funcProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		calls++
		return &llm.CompletionResponse{Content: "ok"}, nil
	}}

	resp, err := completeVia(context.Background(), provider, nil, llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" || calls != 1 {
		t.Fatalf("resp = %+v calls = %d, want ok/1", resp, calls)
	}
}

func TestProtocolGuard_ColdConfigRetriesOnFallbackWorthyError(t *testing.T) {
	var calls int
	provider := &funcProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("unknown parameter: response_format")
		}
		return &llm.CompletionResponse{Content: "retried-ok"}, nil
	}}

	cache := protocol.NewProbeCache()
	guard := newProtocolGuard(provider, "https://api.example.com/v1", "gpt-4o-mini", "sk-test", cache, observe.DefaultMetrics())

	resp, err := guard.complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "retried-ok" || calls != 2 {
		t.Fatalf("resp = %+v calls = %d, want retried-ok/2", resp, calls)
	}

	candidates := protocol.NegotiateCandidates("https://api.example.com/v1", "gpt-4o-mini")
	key := protocol.Key("https://api.example.com/v1", "gpt-4o-mini", "sk-test", candidates)
	if _, ok := cache.Lookup(key); !ok {
		t.Fatal("expected the successful retry to populate the probe cache")
	}
}

func TestProtocolGuard_ColdConfigDoesNotRetryTerminalError(t *testing.T) {
	var calls int
	provider := &funcProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		calls++
		return nil, errors.New("invalid api key provided")
	}}

	cache := protocol.NewProbeCache()
	guard := newProtocolGuard(provider, "https://api.example.com/v1", "gpt-4o-mini", "sk-test", cache, observe.DefaultMetrics())

	_, err := guard.complete(context.Background(), llm.CompletionRequest{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (auth error should not be retried)", calls)
	}
}

func TestProtocolGuard_WarmConfigFailsFastWithoutRetry(t *testing.T) {
	var calls int
	provider := &funcProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		calls++
		return nil, errors.New("unknown parameter: response_format")
	}}

	cache := protocol.NewProbeCache()
	candidates := protocol.NegotiateCandidates("https://api.example.com/v1", "gpt-4o-mini")
	key := protocol.Key("https://api.example.com/v1", "gpt-4o-mini", "sk-test", candidates)
	cache.Record(key, candidates[0])

	guard := newProtocolGuard(provider, "https://api.example.com/v1", "gpt-4o-mini", "sk-test", cache, observe.DefaultMetrics())

	_, err := guard.complete(context.Background(), llm.CompletionRequest{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (a warm config should fail fast, no retry grace)", calls)
	}
}

func TestNewProtocolGuard_NilCacheReturnsNilGuard(t *testing.T) {
	provider := &funcProvider{}
	if g := newProtocolGuard(provider, "https://api.example.com/v1", "gpt-4o-mini", "sk-test", nil, nil); g != nil {
		t.Fatalf("guard = %v, want nil when cache is nil", g)
	}
}
