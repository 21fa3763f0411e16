package drift

import "math"

// estimateOffsetScaleBoundary derives a coarse scale/offset from the overall
// span ratio between the reference and query streams when the FFT pass
// doesn't produce a confident result (or isn't available).
func estimateOffsetScaleBoundary(reference, query []timeRange) Result {
	ref := safeRanges(reference)
	qry := safeRanges(query)
	if len(ref) == 0 || len(qry) == 0 {
		return Result{Method: "alass_fallback", DriftScale: 1.0, Reason: "empty_input"}
	}

	refStart := minStart(ref)
	refEnd := maxEnd(ref)
	qryStart := minStart(qry)
	qryEnd := maxEnd(qry)

	qrySpan := math.Max(0.001, qryEnd-qryStart)
	refSpan := math.Max(0.001, refEnd-refStart)
	driftScale := math.Max(0.90, math.Min(1.10, refSpan/qrySpan))
	offsetSeconds := refStart - qryStart*driftScale

	mappedEnd := qryEnd*driftScale + offsetSeconds
	mappedStart := qryStart*driftScale + offsetSeconds
	err := math.Abs(mappedEnd-refEnd) + math.Abs(mappedStart-refStart)
	score := math.Max(0, math.Min(1, 1.0-(err/2.5)))

	return Result{
		OK:            true,
		OffsetSeconds: offsetSeconds,
		DriftScale:    driftScale,
		Score:         score,
		Method:        "alass_fallback",
	}
}
