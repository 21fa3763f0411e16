package drift

import (
	"math"

	"github.com/subtitleworks/core/pkg/types"
)

// Thresholds configures when a drift correction pass triggers and when the
// FFT result is trusted over the boundary fallback. Defaults mirror
// SPEC_FULL.md §4.5; callers normally derive these from internal/config.DriftConfig.
type Thresholds struct {
	StartGapSeconds       float64
	EndGapSeconds         float64
	QualityScoreThreshold float64
	FFTMinScore           float64
}

// DefaultThresholds returns the spec's literal trigger/apply constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StartGapSeconds:       0.12,
		EndGapSeconds:         0.18,
		QualityScoreThreshold: 0.92,
		FFTMinScore:           0.35,
	}
}

const (
	applyOffsetThresholdSeconds = 0.08
	applyScaleThreshold         = 0.002
)

func sentenceRanges(sentences []types.Sentence) []timeRange {
	out := make([]timeRange, 0, len(sentences))
	for _, s := range sentences {
		if s.End > s.Start {
			out = append(out, timeRange{Start: max(0, s.Start), End: max(0, s.End)})
		}
	}
	return out
}

func wordRanges(words []types.WordSegment) []timeRange {
	out := make([]timeRange, 0, len(words))
	for _, w := range words {
		if w.End > w.Start {
			out = append(out, timeRange{Start: max(0, w.Start), End: max(0, w.End)})
		}
	}
	return out
}

func boundaryGaps(reference, query []timeRange) (startGap, endGap float64) {
	if len(reference) == 0 || len(query) == 0 {
		return 0, 0
	}
	return minStart(query) - minStart(reference), maxEnd(query) - maxEnd(reference)
}

// ApplyAdaptiveDriftCorrection checks whether sentences have drifted from
// the reference word stream beyond the configured thresholds and, if so,
// applies a linear offset+scale correction derived from FFT cross-correlation
// (falling back to a boundary estimate when the FFT score is too low).
func ApplyAdaptiveDriftCorrection(sentences []types.Sentence, words []types.WordSegment, alignmentQualityScore float64, thresholds Thresholds) ([]types.Sentence, types.SyncDiagnostics) {
	sentenceRng := sentenceRanges(sentences)
	wordRng := wordRanges(words)
	startGapBefore, endGapBefore := boundaryGaps(wordRng, sentenceRng)

	shouldTrigger := math.Abs(startGapBefore) >= thresholds.StartGapSeconds ||
		math.Abs(endGapBefore) >= thresholds.EndGapSeconds ||
		alignmentQualityScore < thresholds.QualityScoreThreshold

	diagnostics := types.SyncDiagnostics{CorrectionApplied: false}
	if !shouldTrigger || len(sentenceRng) == 0 || len(wordRng) == 0 {
		return sentences, diagnostics
	}

	chosen := estimateOffsetScaleFFT(wordRng, sentenceRng)
	if !chosen.OK || chosen.Score < thresholds.FFTMinScore {
		chosen = estimateOffsetScaleBoundary(wordRng, sentenceRng)
	}
	if !chosen.OK {
		return sentences, diagnostics
	}

	diagnostics.CorrectionMethod = chosen.Method
	diagnostics.OffsetSeconds = chosen.OffsetSeconds
	diagnostics.Scale = chosen.DriftScale
	diagnostics.Score = chosen.Score

	smallAdjust := math.Abs(chosen.OffsetSeconds) < applyOffsetThresholdSeconds &&
		math.Abs(chosen.DriftScale-1.0) < applyScaleThreshold
	if smallAdjust {
		return sentences, diagnostics
	}

	corrected := applyTransform(sentences, chosen.OffsetSeconds, chosen.DriftScale)
	diagnostics.CorrectionApplied = true
	return corrected, diagnostics
}

// applyTransform rescales and offsets every sentence's timing, then clamps
// to maintain monotonic non-overlap across the corrected timeline.
func applyTransform(sentences []types.Sentence, offsetSeconds, driftScale float64) []types.Sentence {
	out := make([]types.Sentence, len(sentences))
	prevEnd := 0.0
	for i, s := range sentences {
		start := s.Start*driftScale + offsetSeconds
		end := s.End*driftScale + offsetSeconds
		start = math.Max(0, start)
		end = math.Max(start, end)
		if start < prevEnd {
			start = prevEnd
		}
		if end < start {
			end = start
		}
		out[i] = types.Sentence{
			Start:       round3(start),
			End:         round3(end),
			Text:        s.Text,
			Translation: s.Translation,
		}
		prevEnd = out[i].End
	}
	return out
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
