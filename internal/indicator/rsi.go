package indicator

import (
	"fmt"
	"time"

	"indstream/internal/model"
)

// RSI calculates the Relative Strength Index using Wilder's smoothing.
// O(1) per tick — no history scans. The first value is produced after
// `period` price deltas, seeded from their simple average.
type RSI struct {
	period    int
	count     int // samples received (deltas = count-1)
	prevPrice float64
	avgGain   float64
	avgLoss   float64
	current   float64
	lastTS    time.Time
}

// NewRSI creates an RSI with the given period (typically 14).
func NewRSI(period int) (*RSI, error) {
	if period <= 0 {
		return nil, &ValidationError{Field: "period", Reason: fmt.Sprintf("RSI period %d <= 0", period)}
	}
	return &RSI{period: period}, nil
}

func (r *RSI) Kind() Kind { return KindRSI }

func (r *RSI) Ingest(t model.Tick) error {
	if err := validateTick(t, r.lastTS); err != nil {
		return err
	}
	r.lastTS = t.TS
	r.count++

	if r.count == 1 {
		// First sample — just record the price, no delta yet.
		r.prevPrice = t.Price
		return nil
	}

	delta := t.Price - r.prevPrice
	r.prevPrice = t.Price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages.
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.recompute()
		}
		return nil
	}

	// Wilder's smoothing: avg = (prevAvg*(period-1) + x) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.recompute()
	return nil
}

func (r *RSI) recompute() {
	// avgLoss == 0 is a defined edge case: RSI = 100 (covers flat input too).
	// Zero gains with non-zero losses yields RS = 0 and therefore RSI = 0.
	if r.avgLoss == 0 {
		r.current = 100.0
		return
	}
	rs := r.avgGain / r.avgLoss
	r.current = 100.0 - (100.0 / (1.0 + rs))
}

// Value returns the current RSI. ok is false until `period` deltas have been
// accumulated — there is no meaningful RSI before that.
func (r *RSI) Value() (float64, bool) {
	return r.current, r.count > r.period
}
