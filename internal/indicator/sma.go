package indicator

import (
	"fmt"
	"time"

	"indstream/internal/model"
)

// SMA calculates a Simple Moving Average over the last `period` prices.
// Uses a preallocated circular buffer with a running sum, so evicting the
// oldest sample is O(1), never a full recomputation.
type SMA struct {
	period int
	buf    []float64 // preallocated circular buffer
	idx    int       // current write position
	count  int       // total samples received
	sum    float64
	lastTS time.Time
}

// NewSMA creates an SMA with the given window size.
func NewSMA(period int) (*SMA, error) {
	if period <= 0 {
		return nil, &ValidationError{Field: "period", Reason: fmt.Sprintf("SMA period %d <= 0", period)}
	}
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}, nil
}

func (s *SMA) Kind() Kind { return KindSMA }

func (s *SMA) Ingest(t model.Tick) error {
	if err := validateTick(t, s.lastTS); err != nil {
		return err
	}
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = t.Price
	s.sum += t.Price
	s.idx = (s.idx + 1) % s.period
	s.count++
	s.lastTS = t.TS
	return nil
}

// Value returns the mean over min(count, period) samples. Before the window
// fills it is a partial mean; before the first sample ok is false.
func (s *SMA) Value() (float64, bool) {
	if s.count == 0 {
		return 0, false
	}
	n := s.count
	if n > s.period {
		n = s.period
	}
	return s.sum / float64(n), true
}
