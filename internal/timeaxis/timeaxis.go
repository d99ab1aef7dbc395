// Package timeaxis produces deterministic, interval-aligned timestamp
// sequences. The consistency monitor walks its grid when comparing live and
// offline windows; the scheduler applies the same alignment rule in the
// integer time domain, so the two sides always agree on which bucket an
// indicator value belongs to.
package timeaxis

import (
	"fmt"
	"math"
)

// eps absorbs floating-point accumulation when testing bucket membership.
const eps = 1e-9

// Bounds describes one axis: [Start, End] stepped by Interval seconds.
// Construct through NewBounds — the invariants are checked there, not lazily.
type Bounds struct {
	Start    float64
	End      float64
	Interval float64
}

// ErrBounds is a validation failure at bounds construction.
type ErrBounds struct {
	Reason string
}

func (e *ErrBounds) Error() string {
	return "timeaxis: invalid bounds: " + e.Reason
}

// NewBounds validates and returns axis bounds. Interval must be positive and
// End must not precede Start; violations fail immediately, never clamped.
func NewBounds(start, end, interval float64) (Bounds, error) {
	if interval <= 0 {
		return Bounds{}, &ErrBounds{Reason: fmt.Sprintf("interval %v <= 0", interval)}
	}
	if end < start {
		return Bounds{}, &ErrBounds{Reason: fmt.Sprintf("end %v < start %v", end, start)}
	}
	return Bounds{Start: start, End: end, Interval: interval}, nil
}

// AlignStart returns the largest multiple of interval <= start.
// An already-aligned start is returned unchanged. math.Mod can return a
// negative remainder for negative starts; wrap by adding one interval.
func AlignStart(start, interval float64) float64 {
	rem := math.Mod(start, interval)
	if rem < 0 {
		rem += interval
	}
	if rem < eps || interval-rem < eps {
		return start - rem + interval*math.Round(rem/interval)
	}
	return start - rem
}

// Generate returns the axis as a slice. Each element is computed as
// alignedStart + interval*index rather than by repeated addition, so two
// independent calls with identical bounds are bit-identical (the consistency
// monitor depends on this to compare live and offline windows like-for-like).
//
// The first element is the smallest aligned timestamp >= Start (AlignStart
// rounds down; if that lands before Start it is skipped), and End is
// inclusive within eps.
func Generate(b Bounds) []float64 {
	aligned := AlignStart(b.Start, b.Interval)
	// Worst case one extra slot for the inclusive end.
	n := int((b.End-aligned)/b.Interval) + 2
	if n < 0 {
		n = 0
	}
	out := make([]float64, 0, n)
	for i := 0; ; i++ {
		t := aligned + b.Interval*float64(i)
		if t > b.End+eps {
			break
		}
		if t < b.Start-eps {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Next returns the first aligned timestamp strictly after t.
// The scheduler uses this to resynchronize after an overrun instead of
// firing back-to-back cycles.
func Next(t, interval float64) float64 {
	aligned := AlignStart(t, interval)
	if aligned > t+eps {
		return aligned
	}
	return aligned + interval
}
