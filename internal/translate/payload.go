package translate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// idKey formats the row-keyed payload key for line index i, e.g. "id_0".
func idKey(i int) string { return fmt.Sprintf("id_%d", i) }

// encodePayload builds the {id_0: text0, id_1: text1, ...} JSON object sent
// to the provider for a batch of lines.
func encodePayload(lines []string) (string, error) {
	payload := make(map[string]string, len(lines))
	for i, line := range lines {
		payload[idKey(i)] = line
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("translate: encode payload: %w", err)
	}
	return string(raw), nil
}

var newlineIDLineRe = regexp.MustCompile(`^\s*id_(\d+)\s*:\s*(.+?)\s*$`)

// decodeResponse parses a provider response as either a JSON object or the
// newline-delimited "id_N: text" fallback format (used by qwen-mt-flash),
// and validates that its key set exactly equals {id_0, ..., id_{n-1}}.
func decodeResponse(raw string, n int) (map[string]string, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = stripCodeFence(trimmed)

	result := map[string]string{}
	var asJSON map[string]string
	if err := json.Unmarshal([]byte(trimmed), &asJSON); err == nil {
		result = asJSON
	} else {
		for _, line := range strings.Split(trimmed, "\n") {
			m := newlineIDLineRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			result["id_"+m[1]] = m[2]
		}
		if len(result) == 0 {
			return nil, ErrInvalidJSON
		}
	}

	want := make(map[string]bool, n)
	for i := range n {
		want[idKey(i)] = true
	}
	if len(result) != len(want) {
		return nil, ErrKeyMismatch
	}
	for k, v := range result {
		if !want[k] || strings.TrimSpace(v) == "" {
			return nil, ErrKeyMismatch
		}
	}
	return result, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

// orderedTranslations returns translations[idKey(0)], translations[idKey(1)], ...
func orderedTranslations(result map[string]string, n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = result[idKey(i)]
	}
	return out
}
