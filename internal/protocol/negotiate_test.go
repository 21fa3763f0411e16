package protocol

import "testing"

func TestNegotiateCandidates_ExplicitResponsesSuffix(t *testing.T) {
	candidates := NegotiateCandidates("https://api.example.com/v1/responses", "gpt-4o-mini")
	if candidates[0] != ProtocolResponses || candidates[1] != ProtocolChat {
		t.Fatalf("candidates = %v, want [responses, chat]", candidates)
	}
}

func TestNegotiateCandidates_ExplicitChatCompletionsSuffix(t *testing.T) {
	candidates := NegotiateCandidates("https://api.example.com/v1/chat/completions", "o1-preview")
	if candidates[0] != ProtocolChat || candidates[1] != ProtocolResponses {
		t.Fatalf("candidates = %v, want [chat, responses] (explicit URL wins over model prefix)", candidates)
	}
}

func TestNegotiateCandidates_ModelPrefixHint(t *testing.T) {
	candidates := NegotiateCandidates("https://api.example.com/v1", "o1-preview")
	if candidates[0] != ProtocolResponses || candidates[1] != ProtocolChat {
		t.Fatalf("candidates = %v, want [responses, chat] for o1-prefixed model with no URL hint", candidates)
	}
}

func TestNegotiateCandidates_DefaultsToChat(t *testing.T) {
	candidates := NegotiateCandidates("https://api.example.com/v1", "gpt-4o-mini")
	if candidates[0] != ProtocolChat || candidates[1] != ProtocolResponses {
		t.Fatalf("candidates = %v, want [chat, responses] for an unhinted non-prefixed model", candidates)
	}
}

func TestShouldFallback_AuthErrorsNeverFallback(t *testing.T) {
	if ShouldFallback(401, "invalid api key") {
		t.Fatal("401 invalid api key should not fall back")
	}
	if ShouldFallback(0, "Authentication failed: incorrect API key provided") {
		t.Fatal("auth error text with unknown status should not fall back")
	}
	if ShouldFallback(403, "insufficient_quota: billing required") {
		t.Fatal("billing error should not fall back")
	}
}

func TestShouldFallback_UnknownStatusDefaultsToRetry(t *testing.T) {
	if !ShouldFallback(0, "connection reset by peer") {
		t.Fatal("unknown status with no auth/billing hint should default to retry")
	}
}

func TestShouldFallback_ServerErrorsFallback(t *testing.T) {
	if !ShouldFallback(503, "service unavailable") {
		t.Fatal("5xx should fall back")
	}
}

func TestShouldFallback_404FallsBack(t *testing.T) {
	if !ShouldFallback(404, "not found") {
		t.Fatal("404 should always fall back regardless of body text")
	}
}

func TestShouldFallback_400RequiresHintToken(t *testing.T) {
	if ShouldFallback(400, "missing required field: messages") {
		t.Fatal("400 without a fallback hint token should not retry")
	}
	if !ShouldFallback(400, "unknown parameter: response_format") {
		t.Fatal("400 with an 'unknown parameter' hint should retry the other protocol")
	}
}
