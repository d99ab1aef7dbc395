// Package indicator provides incremental technical indicators computed from
// an unbounded tick stream.
//
// Every indicator keeps O(1) sufficient statistics (or a bounded window) and
// updates in O(1) amortized time per tick. Ingest is all-or-nothing: a
// malformed tick is rejected with a *ValidationError and leaves the
// accumulator state untouched.
package indicator

import (
	"fmt"
	"time"

	"indstream/internal/model"
)

// Kind is the closed set of supported indicator kinds. Adding an indicator
// means adding a case to the factory, not scattering string matches.
type Kind string

const (
	KindEMA  Kind = "EMA"
	KindSMA  Kind = "SMA"
	KindVWAP Kind = "VWAP"
	KindRSI  Kind = "RSI"
	KindTWPA Kind = "TWPA"
)

// Params configures one indicator instance. Period applies to count-based
// indicators (EMA, SMA, RSI); Window applies to time-bounded ones
// (VWAP, TWPA).
type Params struct {
	Period int
	Window time.Duration
}

// Indicator is the capability set shared by all incremental indicators.
type Indicator interface {
	// Kind returns the indicator kind.
	Kind() Kind

	// Ingest feeds one tick. Returns *ValidationError on malformed input
	// (negative volume, non-monotonic timestamp); state is unchanged then.
	Ingest(t model.Tick) error

	// Value returns the current value. ok is false until the indicator has
	// seen enough samples to produce a meaningful value — callers must not
	// confuse that with a real zero.
	Value() (v float64, ok bool)
}

// New resolves (kind, params) to a concrete indicator instance.
func New(kind Kind, p Params) (Indicator, error) {
	switch kind {
	case KindEMA:
		return NewEMA(p.Period)
	case KindSMA:
		return NewSMA(p.Period)
	case KindRSI:
		return NewRSI(p.Period)
	case KindVWAP:
		return NewVWAP(p.Window)
	case KindTWPA:
		return NewTWPA(p.Window)
	default:
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown indicator kind %q", kind)}
	}
}

// ParseKind validates a kind string from the registry or config.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindEMA, KindSMA, KindVWAP, KindRSI, KindTWPA:
		return Kind(s), nil
	}
	return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown indicator kind %q", s)}
}

// validateTick applies the shared per-sample checks. lastTS is the zero time
// before the first sample.
func validateTick(t model.Tick, lastTS time.Time) error {
	if t.Volume < 0 {
		return &ValidationError{Field: "volume", Reason: fmt.Sprintf("negative volume %v", t.Volume)}
	}
	if t.Price != t.Price { // NaN
		return &ValidationError{Field: "price", Reason: "price is NaN"}
	}
	if !lastTS.IsZero() && t.TS.Before(lastTS) {
		return &ValidationError{
			Field:  "ts",
			Reason: fmt.Sprintf("non-monotonic timestamp %s before %s", t.TS.Format(time.RFC3339Nano), lastTS.Format(time.RFC3339Nano)),
		}
	}
	return nil
}
