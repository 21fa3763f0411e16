package subtitle

import (
	"regexp"
	"strings"

	"github.com/subtitleworks/core/pkg/types"
)

// SplitOptions configures the line-length policy. Callers normally derive
// these from internal/config; DefaultSplitOptions mirrors SPEC_FULL.md §4.9.
type SplitOptions struct {
	MaxLength        int
	TargetMultiplier float64
	MaxRounds        int
}

// DefaultSplitOptions returns the spec's literal threshold values.
func DefaultSplitOptions() SplitOptions {
	return SplitOptions{MaxLength: 75, TargetMultiplier: 1.2, MaxRounds: 3}
}

var splitPunctRe = regexp.MustCompile(`[,，。！？!?;；:]`)
var whitespaceRunRe = regexp.MustCompile(`\s+`)

// needsSplit reports whether a sentence's source or weighted translation
// length exceeds the configured maximum.
func needsSplit(s types.Sentence, opts SplitOptions) bool {
	maxLen := opts.MaxLength
	if maxLen < 1 {
		maxLen = 1
	}
	if len([]rune(s.Text)) > maxLen {
		return true
	}
	return weightedLength(s.Translation)*opts.TargetMultiplier > float64(maxLen)
}

// splitSourceAtMidpoint splits text at the punctuation or whitespace
// boundary nearest its midpoint, preferring punctuation. Returns a single
// element slice when no safe split point exists.
func splitSourceAtMidpoint(text string) []string {
	value := strings.TrimSpace(whitespaceRunRe.ReplaceAllString(text, " "))
	if value == "" {
		return nil
	}
	runes := []rune(value)
	midpoint := len(runes) / 2

	var candidates []int
	for _, c := range punctuationEndPositions(value) {
		if c > 0 && c < len(runes) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		candidates = whitespaceStartPositions(value)
	}
	if len(candidates) == 0 {
		return []string{value}
	}

	splitAt := candidates[0]
	bestDist := abs(splitAt - midpoint)
	for _, c := range candidates[1:] {
		if d := abs(c - midpoint); d < bestDist {
			bestDist = d
			splitAt = c
		}
	}

	left := strings.TrimSpace(string(runes[:splitAt]))
	right := strings.TrimSpace(string(runes[splitAt:]))
	if left == "" || right == "" {
		return []string{value}
	}
	return []string{left, right}
}

// punctuationEndPositions returns rune offsets just past each punctuation
// match in text.
func punctuationEndPositions(text string) []int {
	runes := []rune(text)
	var positions []int
	byteToRune := make(map[int]int, len(runes)+1)
	idx := 0
	for i, r := range text {
		byteToRune[i] = idx
		idx++
		_ = r
	}
	byteToRune[len(text)] = idx

	for _, loc := range splitPunctRe.FindAllStringIndex(text, -1) {
		positions = append(positions, byteToRune[loc[1]])
	}
	return positions
}

// whitespaceStartPositions returns rune offsets at the start of each
// whitespace run in text.
func whitespaceStartPositions(text string) []int {
	byteToRune := make(map[int]int, len(text)+1)
	idx := 0
	for i := range text {
		byteToRune[i] = idx
		idx++
	}
	byteToRune[len(text)] = idx

	var positions []int
	for _, loc := range whitespaceRunRe.FindAllStringIndex(text, -1) {
		positions = append(positions, byteToRune[loc[0]])
	}
	return positions
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// splitTranslationProportionally divides translation across len(parts)
// children, proportional to each source part's rune length.
func splitTranslationProportionally(translation string, parts []string) []string {
	translation = strings.TrimSpace(translation)
	if translation == "" {
		return make([]string, len(parts))
	}
	runes := []rune(translation)
	totalSourceLen := 0
	for _, p := range parts {
		totalSourceLen += len([]rune(p))
	}
	if totalSourceLen == 0 {
		totalSourceLen = len(parts)
	}

	out := make([]string, len(parts))
	start := 0
	for i, p := range parts {
		var share int
		if i == len(parts)-1 {
			share = len(runes) - start
		} else {
			share = len(runes) * len([]rune(p)) / totalSourceLen
			if share < 0 {
				share = 0
			}
		}
		end := start + share
		if end > len(runes) {
			end = len(runes)
		}
		if end < start {
			end = start
		}
		out[i] = strings.TrimSpace(string(runes[start:end]))
		start = end
	}
	return out
}

// SplitOverlong repeatedly splits sentences that exceed the line-length
// policy, up to MaxRounds, and returns the final flat sentence list.
func SplitOverlong(sentences []types.Sentence, opts SplitOptions) []types.Sentence {
	current := make([]types.Sentence, 0, len(sentences))
	for _, s := range sentences {
		if strings.TrimSpace(s.Text) != "" {
			current = append(current, s)
		}
	}

	rounds := opts.MaxRounds
	if rounds < 1 {
		rounds = 1
	}

	for round := 0; round < rounds; round++ {
		changed := false
		next := make([]types.Sentence, 0, len(current))
		for _, s := range current {
			if !needsSplit(s, opts) {
				next = append(next, s)
				continue
			}
			sourceParts := splitSourceAtMidpoint(s.Text)
			if len(sourceParts) < 2 {
				next = append(next, s)
				continue
			}
			translationParts := splitTranslationProportionally(s.Translation, sourceParts)
			changed = true
			span := s.End - s.Start
			childSpan := distributeSpan(span, sourceParts)
			childStart := s.Start
			for i, part := range sourceParts {
				childEnd := childStart + childSpan[i]
				next = append(next, types.Sentence{
					Start:       childStart,
					End:         childEnd,
					Text:        part,
					Translation: translationParts[i],
				})
				childStart = childEnd
			}
		}
		current = next
		if !changed {
			break
		}
	}
	return current
}

const minChildSpanSeconds = 0.3

// distributeSpan allocates a parent sentence's [start,end) duration across
// its split children in proportion to source character length, with a
// minimum duration per child.
func distributeSpan(totalSpan float64, parts []string) []float64 {
	n := len(parts)
	out := make([]float64, n)
	if totalSpan <= 0 {
		for i := range out {
			out[i] = minChildSpanSeconds
		}
		return out
	}

	totalLen := 0
	for _, p := range parts {
		totalLen += len([]rune(p))
	}
	if totalLen == 0 {
		totalLen = n
	}

	reserved := minChildSpanSeconds * float64(n)
	free := totalSpan - reserved
	if free < 0 {
		free = 0
	}

	sum := 0.0
	for i, p := range parts {
		share := minChildSpanSeconds + free*float64(len([]rune(p)))/float64(totalLen)
		out[i] = share
		sum += share
	}
	if sum > 0 && sum != totalSpan {
		scale := totalSpan / sum
		for i := range out {
			out[i] *= scale
		}
	}
	return out
}
