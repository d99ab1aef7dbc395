package consistency

import (
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"indstream/internal/indicator"
	"indstream/internal/model"
)

var winStart = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func cctx(kind indicator.Kind, p indicator.Params) Context {
	return Context{
		Symbol:   "BTCUSDT",
		Kind:     kind,
		Params:   p,
		Start:    winStart,
		End:      winStart.Add(time.Hour),
		Interval: time.Second,
	}
}

func constResolver(v float64) Resolver {
	return func(Context) (float64, error) { return v, nil }
}

func TestEvaluate_DriftBeyondTolerance(t *testing.T) {
	m := New(Config{Tolerance: 0.1}, constResolver(10.0), constResolver(10.5), slog.Default())

	res, err := m.Evaluate(cctx(indicator.KindEMA, indicator.Params{Period: 9}))
	var de *DriftError
	if !errors.As(err, &de) {
		t.Fatalf("offline=10.0 streaming=10.5 tol=0.1: got %v, want *DriftError", err)
	}
	if res.Status != StatusDrift {
		t.Errorf("result status = %v, want drift", res.Status)
	}
	if math.Abs(de.Result.Diff-0.5) > 1e-12 {
		t.Errorf("diff = %v, want 0.5", de.Result.Diff)
	}
	// Full context carried for postmortem.
	if de.Result.Context.Symbol != "BTCUSDT" || de.Result.Offline != 10.0 || de.Result.Streaming != 10.5 {
		t.Errorf("drift error lost context: %+v", de.Result)
	}
}

func TestEvaluate_WithinTolerance(t *testing.T) {
	m := New(Config{Tolerance: 1.0}, constResolver(10.0), constResolver(10.5), slog.Default())

	res, err := m.Evaluate(cctx(indicator.KindEMA, indicator.Params{Period: 9}))
	if err != nil {
		t.Fatalf("diff 0.5 within tolerance 1.0: %v", err)
	}
	if res.Status != StatusOK {
		t.Errorf("status = %v, want ok", res.Status)
	}
	if math.Abs(res.Diff-0.5) > 1e-12 {
		t.Errorf("diff = %v, want 0.5", res.Diff)
	}
}

func TestEvaluate_DefaultToleranceIsExactMatch(t *testing.T) {
	m := New(Config{}, constResolver(1.0), constResolver(1.0+1e-6), slog.Default())
	if _, err := m.Evaluate(cctx(indicator.KindSMA, indicator.Params{Period: 3})); err == nil {
		t.Fatal("1e-6 disagreement passed under the default 1e-9 tolerance")
	}
}

func TestEvaluate_ResolverErrorPropagates(t *testing.T) {
	failing := func(Context) (float64, error) { return 0, errors.New("store unreachable") }
	m := New(Config{}, failing, constResolver(1), slog.Default())
	_, err := m.Evaluate(cctx(indicator.KindSMA, indicator.Params{Period: 3}))
	if err == nil {
		t.Fatal("resolver failure swallowed")
	}
	var de *DriftError
	if errors.As(err, &de) {
		t.Fatal("resolver failure misreported as drift")
	}
}

func TestValidatePerformance_Violations(t *testing.T) {
	m := New(Config{}, nil, nil, slog.Default())
	obs := PerfMetrics{BatchPPS: 100, LiveLatencyMS: 200}
	th := PerfThresholds{MinBatchPPS: 500, MaxLatencyMS: 120}

	_, err := m.ValidatePerformance(obs, th)
	var pe *PerfError
	if !errors.As(err, &pe) {
		t.Fatalf("both SLAs violated: got %v, want *PerfError", err)
	}
	if len(pe.Violations) != 2 {
		t.Errorf("violations = %v, want both throughput and latency", pe.Violations)
	}
	var de *DriftError
	if errors.As(err, &de) {
		t.Error("PerfError must be a distinct kind from DriftError")
	}
}

func TestValidatePerformance_WithinThresholds(t *testing.T) {
	m := New(Config{}, nil, nil, slog.Default())
	obs := PerfMetrics{BatchPPS: 900, LiveLatencyMS: 40}
	got, err := m.ValidatePerformance(obs, PerfThresholds{MinBatchPPS: 500, MaxLatencyMS: 120})
	if err != nil {
		t.Fatalf("within thresholds: %v", err)
	}
	if got != obs {
		t.Errorf("metrics changed: %+v → %+v", obs, got)
	}
}

// ────────────────────────────────────────────────────────────
// Offline vs streaming resolvers over a shared tick archive
// ────────────────────────────────────────────────────────────

// memLoader is an in-memory TickLoader.
type memLoader struct {
	ticks []model.Tick
}

func (l *memLoader) ReadTicks(symbol string, start, end time.Time) ([]model.Tick, error) {
	var out []model.Tick
	for _, t := range l.ticks {
		if t.Symbol == symbol && !t.TS.Before(start) && !t.TS.After(end) {
			out = append(out, t)
		}
	}
	return out, nil
}

func syntheticTicks(n int) []model.Tick {
	ticks := make([]model.Tick, n)
	price := 100.0
	for i := range ticks {
		// Deterministic wobble, no RNG needed.
		price += math.Sin(float64(i)*0.7) * 2
		ticks[i] = model.Tick{
			Symbol: "BTCUSDT",
			TS:     winStart.Add(time.Duration(i) * time.Second),
			Price:  price,
			Volume: 1 + float64(i%5),
		}
	}
	return ticks
}

func TestOfflineMatchesStreaming(t *testing.T) {
	loader := &memLoader{ticks: syntheticTicks(300)}

	cases := []struct {
		kind indicator.Kind
		p    indicator.Params
		tol  float64
	}{
		{indicator.KindEMA, indicator.Params{Period: 20}, 1e-9},
		{indicator.KindSMA, indicator.Params{Period: 50}, 1e-9},
		{indicator.KindRSI, indicator.Params{Period: 14}, 1e-6},
		{indicator.KindVWAP, indicator.Params{Window: 2 * time.Minute}, 1e-9},
		{indicator.KindTWPA, indicator.Params{Window: 2 * time.Minute}, 1e-9},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			m := New(Config{Tolerance: tc.tol},
				OfflineResolver(loader), StreamingResolver(loader), slog.Default())
			res, err := m.Evaluate(cctx(tc.kind, tc.p))
			if err != nil {
				t.Fatalf("offline and streaming paths diverge: %v", err)
			}
			if res.Status != StatusOK {
				t.Errorf("status %v", res.Status)
			}
		})
	}
}

func TestEvaluateSeries_WalksAlignedCheckpoints(t *testing.T) {
	var ends []time.Time
	capture := func(c Context) (float64, error) {
		ends = append(ends, c.End)
		return 1.0, nil
	}
	m := New(Config{Tolerance: 0.1}, capture, constResolver(1.0), slog.Default())

	c := cctx(indicator.KindSMA, indicator.Params{Period: 5})
	c.Start = time.Date(2025, 6, 2, 9, 0, 0, 500_000_000, time.UTC)
	c.End = c.Start.Add(4 * time.Second)
	c.Interval = time.Second

	results, err := m.EvaluateSeries(c)
	if err != nil {
		t.Fatalf("EvaluateSeries: %v", err)
	}
	// Aligned grid over [09:00:00.5, 09:00:04.5] at 1s: 09:00:01..09:00:04.
	if len(results) != 4 {
		t.Fatalf("got %d checkpoints, want 4", len(results))
	}
	for i, end := range ends {
		if end.Nanosecond() != 0 {
			t.Errorf("checkpoint %d end %v not aligned to the second", i, end)
		}
		if i > 0 && end.Sub(ends[i-1]) != time.Second {
			t.Errorf("checkpoint %d spacing = %v, want 1s", i, end.Sub(ends[i-1]))
		}
	}
}

func TestEvaluateSeries_StopsAtFirstDrift(t *testing.T) {
	calls := 0
	flaky := func(c Context) (float64, error) {
		calls++
		if calls >= 2 {
			return 5.0, nil // diverges on the second checkpoint
		}
		return 1.0, nil
	}
	m := New(Config{Tolerance: 0.1}, flaky, constResolver(1.0), slog.Default())

	c := cctx(indicator.KindEMA, indicator.Params{Period: 9})
	c.End = c.Start.Add(10 * time.Second)
	c.Interval = time.Second

	results, err := m.EvaluateSeries(c)
	var de *DriftError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want *DriftError", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d ok results before drift, want 1", len(results))
	}
}

func TestEvaluateSeries_RequiresInterval(t *testing.T) {
	m := New(Config{}, constResolver(1), constResolver(1), slog.Default())
	c := cctx(indicator.KindEMA, indicator.Params{Period: 9})
	c.Interval = 0
	if _, err := m.EvaluateSeries(c); err == nil {
		t.Fatal("expected error for zero interval")
	}
}
