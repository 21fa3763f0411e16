// Package protocol decides which of the two competing OpenAI-compatible HTTP
// shapes ("responses" vs "chat-completions") to speak to a given LLM base
// URL/model, and classifies transport errors as retryable-via-fallback or
// terminal (Component B).
package protocol

import (
	"net/url"
	"strings"
)

// Protocol is one of the two competing LLM request shapes.
type Protocol string

const (
	ProtocolResponses Protocol = "responses"
	ProtocolChat      Protocol = "chat"
)

// responsesPreferredModelPrefixes lists model name prefixes that favor the
// "responses" protocol absent an explicit URL hint.
var responsesPreferredModelPrefixes = []string{"gpt-5", "o1", "o3", "o4"}

// fallbackHintTokens, found in an HTTP 400 error body, indicate the endpoint
// itself rejected the request shape (wrong protocol), so falling back to the
// other protocol is worth trying.
var fallbackHintTokens = []string{
	"unsupported", "not support", "not_supported", "unknown parameter",
	"unrecognized", "unknown url", "unknown endpoint", "no route",
	"route not found", "not found", "method not allowed", "invalid endpoint",
	"cannot post",
}

// noFallbackHintTokens indicate an authentication/billing failure that will
// recur identically on the fallback protocol, so falling back wastes a round trip.
var noFallbackHintTokens = []string{
	"invalid api key", "incorrect api key", "authentication", "unauthorized",
	"forbidden", "insufficient_quota", "insufficient quota", "billing",
}

// httpFallbackStatuses are status codes that always warrant a protocol
// fallback attempt regardless of error text.
var httpFallbackStatuses = map[int]bool{
	404: true, 405: true, 406: true, 408: true, 410: true, 415: true,
	421: true, 422: true, 425: true, 426: true, 429: true,
}

// NegotiateCandidates returns the ordered [first, second] protocol list for a
// given base URL and model, per SPEC_FULL.md §4.2.
func NegotiateCandidates(baseURL, model string) []Protocol {
	raw := strings.TrimSpace(baseURL)
	modelLower := strings.ToLower(strings.TrimSpace(model))

	first := ProtocolChat
	explicit := false

	normalized := strings.ToLower(strings.TrimRight(raw, "/"))
	switch {
	case strings.HasSuffix(normalized, "/responses"):
		first = ProtocolResponses
		explicit = true
	case strings.HasSuffix(normalized, "/chat/completions"), strings.HasSuffix(normalized, "/completions"):
		first = ProtocolChat
		explicit = true
	}

	if !explicit {
		if path := urlPath(raw); path != "" {
			pathLower := strings.ToLower(path)
			switch {
			case strings.HasSuffix(pathLower, "/responses"):
				first = ProtocolResponses
				explicit = true
			case strings.HasSuffix(pathLower, "/chat/completions"), strings.HasSuffix(pathLower, "/completions"):
				first = ProtocolChat
				explicit = true
			}
		}
	}

	if !explicit && hasAnyPrefix(modelLower, responsesPreferredModelPrefixes) {
		first = ProtocolResponses
	}

	second := ProtocolChat
	if first == ProtocolChat {
		second = ProtocolResponses
	}
	return []Protocol{first, second}
}

// urlPath best-effort parses raw as a URL (adding a scheme if missing) and
// returns its path component, or "" if parsing fails.
func urlPath(raw string) string {
	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	return u.Path
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// ShouldFallback decides whether a failed call against the current protocol
// should be retried against the next candidate protocol, given the HTTP
// status (0/absent for network errors) and the lowercased error body text.
func ShouldFallback(statusCode int, errorText string) bool {
	text := strings.ToLower(errorText)
	if containsAny(text, noFallbackHintTokens) {
		return false
	}
	if statusCode == 0 {
		return true
	}
	if statusCode == 401 || statusCode == 403 {
		return false
	}
	if statusCode >= 500 {
		return true
	}
	if httpFallbackStatuses[statusCode] {
		return true
	}
	if statusCode == 400 {
		return containsAny(text, fallbackHintTokens)
	}
	return containsAny(text, fallbackHintTokens)
}

func containsAny(text string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
