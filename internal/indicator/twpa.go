package indicator

import (
	"fmt"
	"time"

	"indstream/internal/model"
)

// twpaSample is one retained contribution inside the trailing window.
type twpaSample struct {
	ts  time.Time
	pdt float64 // price * dt (seconds)
	dt  float64 // elapsed seconds since the previous sample
}

// TWPA calculates a Time-Weighted Price Average: each sample contributes
// price * dt, where dt is the wall-clock gap since the previous sample.
// Ticks arrive irregularly, so weighting by elapsed time rather than tick
// count is what keeps a burst of quotes from biasing the average.
//
// The accumulation runs over a trailing window; aged-out samples are
// subtracted from the running sums in a monotonic eviction pass.
type TWPA struct {
	window  time.Duration
	samples []twpaSample
	head    int
	sumPDT  float64
	sumDT   float64
	last    float64 // most recent price, used when total elapsed time is zero
	seeded  bool
	lastTS  time.Time
}

// NewTWPA creates a TWPA over the given trailing window.
func NewTWPA(window time.Duration) (*TWPA, error) {
	if window <= 0 {
		return nil, &ValidationError{Field: "window", Reason: fmt.Sprintf("TWPA window %v <= 0", window)}
	}
	return &TWPA{window: window}, nil
}

func (w *TWPA) Kind() Kind { return KindTWPA }

func (w *TWPA) Ingest(t model.Tick) error {
	if err := validateTick(t, w.lastTS); err != nil {
		return err
	}
	if w.seeded {
		dt := t.TS.Sub(w.lastTS).Seconds()
		w.samples = append(w.samples, twpaSample{ts: t.TS, pdt: t.Price * dt, dt: dt})
		w.sumPDT += t.Price * dt
		w.sumDT += dt
	}
	w.last = t.Price
	w.seeded = true
	w.lastTS = t.TS
	w.evict(t.TS.Add(-w.window))
	return nil
}

func (w *TWPA) evict(cutoff time.Time) {
	for w.head < len(w.samples) && w.samples[w.head].ts.Before(cutoff) {
		w.sumPDT -= w.samples[w.head].pdt
		w.sumDT -= w.samples[w.head].dt
		w.head++
	}
	if w.head > 64 && w.head*2 >= len(w.samples) {
		w.Compact()
	}
}

// Compact reclaims the evicted prefix of the sample slice.
func (w *TWPA) Compact() {
	if w.head == 0 {
		return
	}
	n := copy(w.samples, w.samples[w.head:])
	w.samples = w.samples[:n]
	w.head = 0
}

// Value returns sum(price*dt)/sum(dt). With a single sample (or zero total
// elapsed time, e.g. simultaneous ticks) it degrades to the last price.
func (w *TWPA) Value() (float64, bool) {
	if !w.seeded {
		return 0, false
	}
	if w.sumDT <= 0 {
		return w.last, true
	}
	return w.sumPDT / w.sumDT, true
}
