package drift

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// scaleCandidates are the linear speed-drift factors tried by the FFT pass,
// per SPEC_FULL.md §4.5.
var scaleCandidates = []float64{0.985, 0.99, 0.995, 1.0, 1.005, 1.01, 1.015}

const activitySampleRateHz = 100
const maxOffsetSeconds = 12.0

// estimateOffsetScaleFFT rasterizes the reference and query streams as
// binary activity arrays at activitySampleRateHz, and for each candidate
// scale factor computes their FFT cross-correlation, keeping the
// scale/lag/score triple with the highest normalized score.
func estimateOffsetScaleFFT(reference, query []timeRange) Result {
	ref := safeRanges(reference)
	qry := safeRanges(query)
	if len(ref) == 0 || len(qry) == 0 {
		return Result{Method: "fftsync", DriftScale: 1.0, Reason: "empty_input"}
	}

	refLast := maxEnd(ref)
	best := Result{Method: "fftsync", DriftScale: 1.0, Score: -1.0, Reason: "no_match"}

	for _, scale := range scaleCandidates {
		scaledQuery := make([]timeRange, len(qry))
		for i, r := range qry {
			scaledQuery[i] = timeRange{Start: r.Start * scale, End: r.End * scale}
		}
		totalSeconds := math.Max(refLast, maxEnd(scaledQuery)) + maxOffsetSeconds + 1.0

		refSeries := buildActivityArray(ref, activitySampleRateHz, totalSeconds)
		querySeries := buildActivityArray(scaledQuery, activitySampleRateHz, totalSeconds)
		if !anyNonZero(refSeries) || !anyNonZero(querySeries) {
			continue
		}

		n := len(refSeries) + len(querySeries) - 1
		size := nextPowerOfTwo(max(2, n))
		corr := crossCorrelate(refSeries, querySeries, size)

		qMinus1 := len(querySeries) - 1
		maxOffsetSamples := int(math.Round(maxOffsetSeconds * activitySampleRateHz))

		bestLocalIdx := -1
		bestLocalVal := math.Inf(-1)
		for i, v := range corr {
			lag := -qMinus1 + i
			if lag < -maxOffsetSamples || lag > maxOffsetSamples {
				continue
			}
			if v > bestLocalVal {
				bestLocalVal = v
				bestLocalIdx = i
			}
		}
		if bestLocalIdx < 0 {
			continue
		}
		bestLag := -qMinus1 + bestLocalIdx
		denom := l2Norm(refSeries)*l2Norm(querySeries) + 1e-6
		score := bestLocalVal / denom
		if score > best.Score {
			best = Result{
				OK:            true,
				OffsetSeconds: float64(bestLag) / float64(activitySampleRateHz),
				DriftScale:    scale,
				Score:         score,
				Method:        "fftsync",
			}
		}
	}

	if !best.OK {
		best.Score = 0
	} else {
		best.Score = math.Max(0, math.Min(1, best.Score))
	}
	return best
}

// buildActivityArray rasterizes ranges into a binary array at sampleRateHz
// samples/second, spanning [0, totalSeconds).
func buildActivityArray(ranges []timeRange, sampleRateHz int, totalSeconds float64) []float64 {
	totalLen := int(math.Ceil(math.Max(0.1, totalSeconds)*float64(sampleRateHz))) + 1
	series := make([]float64, totalLen)
	for _, r := range ranges {
		startIdx := max(0, int(math.Floor(r.Start*float64(sampleRateHz))))
		endIdx := min(totalLen, int(math.Ceil(r.End*float64(sampleRateHz))))
		if endIdx <= startIdx {
			continue
		}
		for i := startIdx; i < endIdx; i++ {
			series[i] = 1.0
		}
	}
	return series
}

func anyNonZero(series []float64) bool {
	for _, v := range series {
		if v != 0 {
			return true
		}
	}
	return false
}

func l2Norm(series []float64) float64 {
	var sum float64
	for _, v := range series {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// crossCorrelate computes the circular cross-correlation of ref and query
// (zero-padded to size) via FFT, then rearranges it into the
// [-(len(query)-1), len(ref)-1] lag window the reference implementation
// produces by concatenating the correlation's negative-lag tail with its
// non-negative-lag head.
func crossCorrelate(ref, query []float64, size int) []float64 {
	ft := fourier.NewFFT(size)

	refPadded := make([]float64, size)
	copy(refPadded, ref)
	queryPadded := make([]float64, size)
	copy(queryPadded, query)

	refCoeff := ft.Coefficients(nil, refPadded)
	queryCoeff := ft.Coefficients(nil, queryPadded)

	product := make([]complex128, len(refCoeff))
	for i := range product {
		product[i] = refCoeff[i] * cmplx.Conj(queryCoeff[i])
	}
	corrFull := ft.Sequence(nil, product)

	qMinus1 := len(query) - 1
	result := make([]float64, qMinus1+len(ref))
	copy(result, corrFull[size-qMinus1:size])
	copy(result[qMinus1:], corrFull[:len(ref)])
	return result
}
