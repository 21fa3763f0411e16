package drift

// Result is the outcome of one offset/scale estimation attempt (either the
// FFT cross-correlation pass or the boundary-estimate fallback).
type Result struct {
	OK            bool
	OffsetSeconds float64
	DriftScale    float64
	Score         float64
	Method        string // "fftsync" or "alass_fallback"
	Reason        string // set only when OK is false
}
