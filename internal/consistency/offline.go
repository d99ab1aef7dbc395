package consistency

import (
	"fmt"
	"time"

	talib "github.com/markcheno/go-talib"

	"indstream/internal/indicator"
	"indstream/internal/model"
)

// TickLoader fetches raw ticks for a window, ordered by timestamp.
// The sqlite tick archive implements this.
type TickLoader interface {
	ReadTicks(symbol string, start, end time.Time) ([]model.Tick, error)
}

// OfflineResolver recomputes the indicator over the whole raw window in one
// batch pass using go-talib, fully independent of the incremental code path.
// That independence is the point: a shared bug cannot cancel itself out.
func OfflineResolver(loader TickLoader) Resolver {
	return func(cctx Context) (float64, error) {
		ticks, err := loader.ReadTicks(cctx.Symbol, cctx.Start, cctx.End)
		if err != nil {
			return 0, fmt.Errorf("load ticks: %w", err)
		}
		if len(ticks) == 0 {
			return 0, fmt.Errorf("no ticks for window")
		}
		return offlineCompute(cctx, ticks)
	}
}

// StreamingResolver replays the same raw window through a fresh incremental
// accumulator, reproducing what the live path would have produced.
func StreamingResolver(loader TickLoader) Resolver {
	return func(cctx Context) (float64, error) {
		ticks, err := loader.ReadTicks(cctx.Symbol, cctx.Start, cctx.End)
		if err != nil {
			return 0, fmt.Errorf("load ticks: %w", err)
		}
		ind, err := indicator.New(cctx.Kind, cctx.Params)
		if err != nil {
			return 0, err
		}
		for _, t := range ticks {
			if err := ind.Ingest(t); err != nil {
				return 0, fmt.Errorf("replay tick at %s: %w", t.TS.Format(time.RFC3339Nano), err)
			}
		}
		v, ok := ind.Value()
		if !ok {
			return 0, fmt.Errorf("streaming value unavailable after %d ticks", len(ticks))
		}
		return v, nil
	}
}

// offlineCompute runs the batch recomputation for one window.
func offlineCompute(cctx Context, ticks []model.Tick) (float64, error) {
	prices := make([]float64, len(ticks))
	for i, t := range ticks {
		prices[i] = t.Price
	}

	switch cctx.Kind {
	case indicator.KindSMA:
		// Batch truth for the trailing window: plain mean of the last
		// `period` prices (talib.Sma needs len >= period; the partial-window
		// case is averaged directly).
		n := cctx.Params.Period
		if len(prices) < n {
			return mean(prices), nil
		}
		out := talib.Sma(prices, n)
		return out[len(out)-1], nil

	case indicator.KindRSI:
		n := cctx.Params.Period
		if len(prices) < n+1 {
			return 0, fmt.Errorf("RSI needs %d ticks, have %d", n+1, len(prices))
		}
		out := talib.Rsi(prices, n)
		return out[len(out)-1], nil

	case indicator.KindEMA:
		// The streaming EMA seeds from the first price; talib.Ema seeds from
		// an SMA of the first period. Recompute the price-seeded recurrence
		// directly — still a batch pass over the full window.
		alpha := 2.0 / float64(cctx.Params.Period+1)
		v := prices[0]
		for _, p := range prices[1:] {
			v += alpha * (p - v)
		}
		return v, nil

	case indicator.KindVWAP:
		cutoff := ticks[len(ticks)-1].TS.Add(-cctx.Params.Window)
		var pv, vol float64
		for _, t := range ticks {
			if t.TS.Before(cutoff) {
				continue
			}
			pv += t.Price * t.Volume
			vol += t.Volume
		}
		if vol <= 0 {
			return 0, fmt.Errorf("zero volume in VWAP window")
		}
		return pv / vol, nil

	case indicator.KindTWPA:
		cutoff := ticks[len(ticks)-1].TS.Add(-cctx.Params.Window)
		var pdt, dt float64
		for i := 1; i < len(ticks); i++ {
			if ticks[i].TS.Before(cutoff) {
				continue
			}
			gap := ticks[i].TS.Sub(ticks[i-1].TS).Seconds()
			pdt += ticks[i].Price * gap
			dt += gap
		}
		if dt <= 0 {
			return ticks[len(ticks)-1].Price, nil
		}
		return pdt / dt, nil
	}
	return 0, fmt.Errorf("unsupported kind %q", cctx.Kind)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
