package indicator

import (
	"fmt"
	"time"

	"indstream/internal/model"
)

// EMA calculates an Exponential Moving Average.
// O(1) per update — no window storage needed. The first sample seeds the
// value directly (value == price) rather than waiting for an SMA warmup.
type EMA struct {
	period int
	alpha  float64
	value  float64
	seeded bool
	lastTS time.Time
}

// NewEMA creates an EMA with alpha = 2/(period+1).
func NewEMA(period int) (*EMA, error) {
	if period <= 0 {
		return nil, &ValidationError{Field: "period", Reason: fmt.Sprintf("EMA period %d <= 0", period)}
	}
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
	}, nil
}

func (e *EMA) Kind() Kind { return KindEMA }

func (e *EMA) Ingest(t model.Tick) error {
	if err := validateTick(t, e.lastTS); err != nil {
		return err
	}
	if !e.seeded {
		e.value = t.Price
		e.seeded = true
	} else {
		e.value += e.alpha * (t.Price - e.value)
	}
	e.lastTS = t.TS
	return nil
}

func (e *EMA) Value() (float64, bool) {
	return e.value, e.seeded
}
