package urlcache

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	urlScanPattern    = regexp.MustCompile(`(?i)https?://[^\s<>'"` + "`" + `]+`)
	urlTrailingTrimRe = regexp.MustCompile(`[)\]}>,.;!?。！？；，、》】）]+$`)
	urlInlineBreakRe  = regexp.MustCompile(`[，。！？；、）】》]`)
)

// NormalizeSourceURL accepts either a raw http(s) URL or free-text that
// contains one, and returns a canonical scheme+host(lowercased)+path+query
// form suitable as a cache key. It returns ErrInvalidSourceURL when no
// usable URL can be recovered.
func NormalizeSourceURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidSourceURL)
	}

	if isValidHTTPURL(value) {
		return canonicalize(value), nil
	}

	for _, candidate := range extractHTTPURLCandidates(value) {
		return candidate, nil
	}

	return "", fmt.Errorf("%w: url=%s", ErrInvalidSourceURL, truncate(value, 200))
}

func isValidHTTPURL(value string) bool {
	parsed, err := url.Parse(value)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

func canonicalize(value string) string {
	parsed, err := url.Parse(value)
	if err != nil {
		return value
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	out := url.URL{
		Scheme:   strings.ToLower(parsed.Scheme),
		Host:     strings.ToLower(parsed.Host),
		Path:     path,
		RawQuery: parsed.RawQuery,
	}
	return out.String()
}

// extractHTTPURLCandidates scans free text for the first de-duplicated set
// of plausible http(s) URLs, trimming trailing punctuation (including CJK
// closing punctuation) and cutting at the first inline CJK break character.
func extractHTTPURLCandidates(raw string) []string {
	if raw == "" {
		return nil
	}
	var candidates []string
	seen := make(map[string]bool)
	for _, matched := range urlScanPattern.FindAllString(raw, -1) {
		cleaned := urlTrailingTrimRe.ReplaceAllString(strings.TrimSpace(matched), "")
		if loc := urlInlineBreakRe.FindStringIndex(cleaned); loc != nil {
			cleaned = strings.TrimSpace(cleaned[:loc[0]])
		}
		if !isValidHTTPURL(cleaned) {
			continue
		}
		key := strings.ToLower(cleaned)
		if seen[key] {
			continue
		}
		seen[key] = true
		candidates = append(candidates, canonicalize(cleaned))
	}
	return candidates
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
