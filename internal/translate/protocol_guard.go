package translate

import (
	"context"

	"github.com/subtitleworks/core/internal/observe"
	"github.com/subtitleworks/core/internal/protocol"
	"github.com/subtitleworks/core/pkg/provider/llm"
)

// protocolGuard wraps an llm.Provider's Complete call with Component B's
// protocol negotiation and error classification (SPEC_FULL.md §4.2/§4.4). A
// provider configuration the cache has already seen succeed ("warm") gets no
// retry grace on failure — renegotiating a shape that's known to work is
// pointless, so the failure is real. A configuration seen for the first time
// this process ("cold") gets exactly one retry, gated on ShouldFallback
// judging the failure a transient protocol-shape mismatch rather than a
// terminal one (auth, billing, bad request).
type protocolGuard struct {
	provider llm.Provider
	baseURL  string
	model    string
	apiKey   string
	cache    *protocol.ProbeCache
	metrics  *observe.Metrics
}

// newProtocolGuard returns nil when cache is nil, so call sites that don't
// wire a shared ProbeCache (direct strategy construction in tests) fall back
// to plain, unguarded provider.Complete passthrough.
func newProtocolGuard(provider llm.Provider, baseURL, model, apiKey string, cache *protocol.ProbeCache, metrics *observe.Metrics) *protocolGuard {
	if cache == nil {
		return nil
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &protocolGuard{
		provider: provider,
		baseURL:  baseURL,
		model:    model,
		apiKey:   apiKey,
		cache:    cache,
		metrics:  metrics,
	}
}

// completeVia runs req through provider directly if guard is nil, or through
// guard's negotiated retry policy otherwise. Call sites always route through
// this helper instead of provider.Complete so strategies never need their own
// nil check.
func completeVia(ctx context.Context, provider llm.Provider, guard *protocolGuard, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if guard == nil {
		return provider.Complete(ctx, req)
	}
	return guard.complete(ctx, req)
}

func (g *protocolGuard) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	candidates := protocol.NegotiateCandidates(g.baseURL, g.model)
	key := protocol.Key(g.baseURL, g.model, g.apiKey, candidates)
	_, warm := g.cache.Lookup(key)

	resp, err := g.provider.Complete(ctx, req)
	if err == nil {
		g.cache.Record(key, candidates[0])
		return resp, nil
	}
	if warm {
		return resp, err
	}

	// statusCode is always 0 here: llm.Provider's error surface doesn't carry
	// an HTTP status back to the caller, same as the network-error case
	// ShouldFallback documents — classification falls back to errorText alone.
	if !protocol.ShouldFallback(0, err.Error()) {
		return resp, err
	}

	g.metrics.RecordLLMProtocolFallback(ctx)
	retryResp, retryErr := g.provider.Complete(ctx, req)
	if retryErr != nil {
		return retryResp, retryErr
	}
	g.cache.Record(key, candidates[0])
	return retryResp, nil
}
