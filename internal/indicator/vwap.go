package indicator

import (
	"fmt"
	"time"

	"indstream/internal/model"
)

// vwapSample is one retained tick contribution inside the trailing window.
type vwapSample struct {
	ts time.Time
	pv float64 // price * volume
	v  float64 // volume
}

// VWAP calculates a Volume-Weighted Average Price over a trailing wall-clock
// window (last T seconds relative to the newest tick), not a tick-count
// window. Running sums are adjusted as samples age out, so each ingest is
// O(1) amortized: every sample is appended once and evicted once.
type VWAP struct {
	window  time.Duration
	samples []vwapSample // ordered by ts; evicted from the front
	head    int          // index of oldest live sample
	sumPV   float64
	sumV    float64
	lastTS  time.Time
}

// NewVWAP creates a VWAP over the given trailing window.
func NewVWAP(window time.Duration) (*VWAP, error) {
	if window <= 0 {
		return nil, &ValidationError{Field: "window", Reason: fmt.Sprintf("VWAP window %v <= 0", window)}
	}
	return &VWAP{window: window}, nil
}

func (w *VWAP) Kind() Kind { return KindVWAP }

func (w *VWAP) Ingest(t model.Tick) error {
	if err := validateTick(t, w.lastTS); err != nil {
		return err
	}
	pv := t.Price * t.Volume
	w.samples = append(w.samples, vwapSample{ts: t.TS, pv: pv, v: t.Volume})
	w.sumPV += pv
	w.sumV += t.Volume
	w.lastTS = t.TS
	w.evict(t.TS.Add(-w.window))
	return nil
}

// evict drops samples with ts < cutoff. Timestamps are non-decreasing, so a
// single forward pass from the head suffices.
func (w *VWAP) evict(cutoff time.Time) {
	for w.head < len(w.samples) && w.samples[w.head].ts.Before(cutoff) {
		w.sumPV -= w.samples[w.head].pv
		w.sumV -= w.samples[w.head].v
		w.head++
	}
	// Compact once the dead prefix dominates, to bound slice growth.
	if w.head > 64 && w.head*2 >= len(w.samples) {
		w.Compact()
	}
}

// Compact reclaims the evicted prefix of the sample slice. The engine also
// calls this under memory pressure.
func (w *VWAP) Compact() {
	if w.head == 0 {
		return
	}
	n := copy(w.samples, w.samples[w.head:])
	w.samples = w.samples[:n]
	w.head = 0
}

// Value returns sum(price*volume)/sum(volume) over the live window. ok is
// false before the first sample or when the window holds zero volume.
func (w *VWAP) Value() (float64, bool) {
	if w.head >= len(w.samples) || w.sumV <= 0 {
		return 0, false
	}
	return w.sumPV / w.sumV, true
}
