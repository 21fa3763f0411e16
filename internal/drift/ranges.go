// Package drift detects and corrects global timing offset and linear scale
// drift between a reference word-timestamp stream and a candidate sentence
// stream, using FFT cross-correlation with a boundary-estimate fallback
// (Component E).
package drift

import "math"

// timeRange is a half-open [Start, End) interval in seconds.
type timeRange struct {
	Start, End float64
}

// safeRanges drops non-finite or zero/negative-duration ranges and clamps
// negative starts to zero, mirroring the reference implementation's input
// sanitation before any numeric work.
func safeRanges(ranges []timeRange) []timeRange {
	out := make([]timeRange, 0, len(ranges))
	for _, r := range ranges {
		if !math.IsInf(r.Start, 0) && !math.IsInf(r.End, 0) && !math.IsNaN(r.Start) && !math.IsNaN(r.End) && r.End > r.Start {
			out = append(out, timeRange{Start: max(0, r.Start), End: max(0, r.End)})
		}
	}
	return out
}

func maxEnd(ranges []timeRange) float64 {
	m := 0.0
	for i, r := range ranges {
		if i == 0 || r.End > m {
			m = r.End
		}
	}
	return m
}

func minStart(ranges []timeRange) float64 {
	m := 0.0
	for i, r := range ranges {
		if i == 0 || r.Start < m {
			m = r.Start
		}
	}
	return m
}
