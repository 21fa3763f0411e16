// Package align maps plain-text sentences (typically a translation engine's
// row-keyed output) onto word-level ASR timestamps, producing per-sentence
// start/end times plus a quality diagnostic (Component A).
package align

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/subtitleworks/core/pkg/types"
)

// ErrWordSegmentsEmpty is returned when the candidate word stream contains no
// usable entries (all had empty text or invalid start/end timing).
var ErrWordSegmentsEmpty = errors.New("align: word segments empty")

// searchWindowWords bounds how far ahead of the current cursor the fuzzy
// matcher searches, keeping each row's match cost roughly constant
// regardless of total transcript length.
const searchWindowWords = 180

// AlignmentError reports a row that could not be matched against the word
// stream by any strategy. Detail mirrors the diagnostic payload the
// Python original attaches to its equivalent failure.
type AlignmentError struct {
	SentenceIndex           int
	Sentence                string
	NormalizedSentence      string
	SearchPosition          int
	Context                 string
	AlignedRows             int
	ExactMatchRows          int
	FuzzyMatchRows          int
	FallbackRows            int
	AllowWordStreamFallback bool
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("align: row %d (%q) could not be matched to the word stream", e.SentenceIndex, e.Sentence)
}

// Options configures an alignment pass.
type Options struct {
	// AllowWordStreamFallback enables the proportional-allocation fallback
	// used for providers (e.g. cloud_qwen3_asr_flash_filetrans) whose word
	// timestamps are reliable in aggregate but don't support exact or fuzzy
	// substring matching. The caller is responsible for enforcing the
	// fallback_ratio <= 0.10 quality gate documented for that provider.
	AllowWordStreamFallback bool
}

type indexedWord struct {
	word  string
	start float64
	end   float64
}

// buildWordIndex flattens ASR word segments into a single searchable string
// (fullWords), remembering each word's starting character offset so a
// substring match can be mapped back to a word range.
func buildWordIndex(segments []types.WordSegment) (fullWords string, charStarts []int, words []indexedWord) {
	for _, seg := range segments {
		clean := compactText(seg.Word)
		if clean == "" {
			continue
		}
		if seg.End <= seg.Start {
			continue
		}
		words = append(words, indexedWord{word: clean, start: seg.Start, end: seg.End})
		charStarts = append(charStarts, len(fullWords))
		fullWords += clean
	}
	return fullWords, charStarts, words
}

// charPosToWordIdx returns the index of the word containing character
// position charPos, the same bisect_right(...)-1 lookup as the reference.
func charPosToWordIdx(charStarts []int, charPos int) (int, bool) {
	if len(charStarts) == 0 {
		return 0, false
	}
	if charPos < 0 {
		charPos = 0
	}
	idx := sort.Search(len(charStarts), func(i int) bool { return charStarts[i] > charPos }) - 1
	if idx < 0 || idx >= len(charStarts) {
		return 0, false
	}
	return idx, true
}

// findFuzzyMatchWindow scans a bounded window of candidate word spans near
// startWordIdx, scoring each by similarityRatio against the sentence's
// compacted token text, and returns the best-scoring span.
func findFuzzyMatchWindow(tokens []string, words []indexedWord, startWordIdx int) (startIdx, endIdx int, score float64, ok bool) {
	if len(tokens) == 0 || len(words) == 0 {
		return 0, 0, 0, false
	}
	expectedLen := max(1, len(tokens))
	target := ""
	for _, t := range tokens {
		target += t
	}
	tokenMinLen := max(1, expectedLen-3)
	tokenMaxLen := expectedLen + 4

	safeStart := max(0, startWordIdx)
	windowStart := max(0, safeStart-3)
	windowEnd := min(len(words), safeStart+searchWindowWords)
	if windowEnd <= windowStart {
		return 0, 0, 0, false
	}

	bestStart, bestEnd, bestScore := -1, -1, 0.0
	for candidateStart := windowStart; candidateStart < windowEnd; candidateStart++ {
		for tokenLen := tokenMinLen; tokenLen <= tokenMaxLen; tokenLen++ {
			candidateEnd := candidateStart + tokenLen
			if candidateEnd > windowEnd {
				break
			}
			compact := ""
			for _, w := range words[candidateStart:candidateEnd] {
				compact += w.word
			}
			score := similarityRatio(target, compact)
			if score > bestScore {
				bestScore = score
				bestStart = candidateStart
				bestEnd = candidateEnd
			}
		}
	}
	if bestStart < 0 || bestEnd <= bestStart {
		return 0, 0, 0, false
	}
	return bestStart, bestEnd - 1, bestScore, true
}

// countRemainingRowsAndTokens counts how many rows (and tokens within them)
// remain from startIndex onward, used to proportionally allocate the
// remaining word budget in fallback mode.
func countRemainingRowsAndTokens(rows []types.Sentence, startIndex int) (remainingRows, totalTokens int) {
	if startIndex < 0 {
		startIndex = 0
	}
	for i := startIndex; i < len(rows); i++ {
		text := rows[i].Text
		if text == "" || compactText(text) == "" {
			continue
		}
		remainingRows++
		totalTokens += max(1, len(tokenize(text)))
	}
	return remainingRows, totalTokens
}

// Align maps each row's text onto the word stream, trying in order: exact
// substring match, bounded fuzzy match, and (if enabled) a proportional
// word-budget fallback. It returns the aligned sentences (with start/end
// filled in) and diagnostics, or an *AlignmentError / ErrWordSegmentsEmpty on
// failure.
func Align(rows []types.Sentence, wordSegments []types.WordSegment, opts Options) ([]types.Sentence, types.AlignmentDiagnostics, error) {
	fullWords, charStarts, words := buildWordIndex(wordSegments)
	if fullWords == "" || len(words) == 0 {
		return nil, types.AlignmentDiagnostics{}, ErrWordSegmentsEmpty
	}

	var (
		aligned          []types.Sentence
		scores           []float64
		exactMatchRows   int
		fuzzyMatchRows   int
		fallbackRows     int
		alignmentMode    = types.AlignmentStrict
		currentPos       int
		currentWordIdx   int
	)

	for sentenceIndex, row := range rows {
		text := row.Text
		if text == "" {
			continue
		}
		cleanSentence := compactText(text)
		if cleanSentence == "" {
			continue
		}

		matchFound := false
		rowScore := 0.0

		exactPos := indexOfFrom(fullWords, cleanSentence, currentPos)
		if exactPos >= 0 {
			startIdx, okStart := charPosToWordIdx(charStarts, exactPos)
			endIdx, okEnd := charPosToWordIdx(charStarts, exactPos+len(cleanSentence)-1)
			if okStart && okEnd && endIdx >= startIdx {
				start := words[startIdx].start
				end := words[endIdx].end
				if end < start {
					end = start
				}
				aligned = append(aligned, types.Sentence{Start: round3(start), End: round3(end), Text: text, Translation: row.Translation})
				currentPos = charStarts[endIdx] + len(words[endIdx].word)
				currentWordIdx = endIdx + 1
				matchFound = true
				rowScore = 1.0
				exactMatchRows++
			}
		}

		if !matchFound {
			tokens := tokenize(text)
			if startIdx, endIdx, fuzzyScore, ok := findFuzzyMatchWindow(tokens, words, currentWordIdx); ok {
				minAccept := 0.78
				if len(tokens) >= 3 {
					minAccept = 0.70
				}
				if fuzzyScore >= minAccept {
					start := words[startIdx].start
					end := words[endIdx].end
					if end < start {
						end = start
					}
					aligned = append(aligned, types.Sentence{Start: round3(start), End: round3(end), Text: text, Translation: row.Translation})
					currentPos = charStarts[endIdx] + len(words[endIdx].word)
					currentWordIdx = endIdx + 1
					matchFound = true
					rowScore = fuzzyScore
					fuzzyMatchRows++
				}
			}
		}

		if !matchFound && opts.AllowWordStreamFallback {
			remainingWords := len(words) - currentWordIdx
			remainingRows, remainingTokens := countRemainingRowsAndTokens(rows, sentenceIndex)
			tokenCount := max(1, len(tokenize(text)))
			if remainingWords > 0 && remainingRows > 0 && remainingTokens > 0 {
				proportionalWords := int(round(float64(remainingWords*tokenCount) / float64(remainingTokens)))
				reserveForFuture := max(0, remainingRows-1)
				maxWordsForCurrent := max(1, remainingWords-reserveForFuture)
				allocatedWords := max(1, proportionalWords)
				allocatedWords = min(maxWordsForCurrent, allocatedWords)
				startIdx := currentWordIdx
				endIdx := min(len(words)-1, startIdx+allocatedWords-1)
				if endIdx >= startIdx {
					start := words[startIdx].start
					end := words[endIdx].end
					if end < start {
						end = start
					}
					aligned = append(aligned, types.Sentence{Start: round3(start), End: round3(end), Text: text, Translation: row.Translation})
					currentPos = charStarts[endIdx] + len(words[endIdx].word)
					currentWordIdx = endIdx + 1
					matchFound = true
					rowScore = 0.35
					fallbackRows++
					alignmentMode = types.AlignmentQwenWordStreamFallback
				}
			}
		}

		if !matchFound {
			contextStart := max(0, currentPos-30)
			contextEnd := min(len(fullWords), currentPos+len(cleanSentence)+30)
			return nil, types.AlignmentDiagnostics{}, &AlignmentError{
				SentenceIndex:           sentenceIndex,
				Sentence:                text,
				NormalizedSentence:      cleanSentence,
				SearchPosition:          currentPos,
				Context:                 fullWords[contextStart:contextEnd],
				AlignedRows:             len(aligned),
				ExactMatchRows:          exactMatchRows,
				FuzzyMatchRows:          fuzzyMatchRows,
				FallbackRows:            fallbackRows,
				AllowWordStreamFallback: opts.AllowWordStreamFallback,
			}
		}
		scores = append(scores, rowScore)
	}

	// Close small gaps (<1s) between consecutive aligned rows by extending
	// the earlier row's end to the following row's start.
	for i := 0; i < len(aligned)-1; i++ {
		gap := aligned[i+1].Start - aligned[i].End
		if gap > 0 && gap < 1 {
			aligned[i].End = round3(aligned[i+1].Start)
		}
		if aligned[i].End < aligned[i].Start {
			aligned[i].End = aligned[i].Start
		}
	}

	var qualitySum float64
	for _, s := range scores {
		qualitySum += s
	}
	quality := 0.0
	if len(scores) > 0 {
		quality = round4(qualitySum / float64(len(scores)))
	}
	totalRows := len(rows)
	diagnostics := types.AlignmentDiagnostics{
		AlignmentQualityScore: quality,
		AlignedRows:           len(aligned),
		TotalRows:             totalRows,
		ExactMatchRows:        exactMatchRows,
		FuzzyMatchRows:        fuzzyMatchRows,
		FallbackRows:          fallbackRows,
		FallbackRatio:         round4(float64(fallbackRows) / float64(max(1, totalRows))),
		AlignmentMode:         alignmentMode,
	}
	return aligned, diagnostics, nil
}

func indexOfFrom(haystack, needle string, from int) int {
	if from < 0 {
		from = 0
	}
	if from > len(haystack) {
		return -1
	}
	idx := strings.Index(haystack[from:], needle)
	if idx < 0 {
		return -1
	}
	return idx + from
}

func round(v float64) float64   { return math.Round(v) }
func round3(v float64) float64  { return math.Round(v*1000) / 1000 }
func round4(v float64) float64  { return math.Round(v*10000) / 10000 }
