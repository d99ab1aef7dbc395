// Package consistency is the correctness safety net for the streaming
// engine: it runs the same logical computation through an offline (batch,
// deterministic) resolver and the streaming (incremental) resolver and
// raises when they diverge beyond tolerance.
//
// Both resolvers are injected pure functions, so the monitor is agnostic to
// how each side computes its value — callers wire in real implementations,
// tests wire in deterministic stand-ins.
package consistency

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"indstream/internal/indicator"
	"indstream/internal/timeaxis"
)

// DefaultTolerance is effectively exact-match. Deliberately strict: any real
// floating-point offline/online comparison will likely need a domain-tuned
// tolerance via Config.
const DefaultTolerance = 1e-9

// Context describes the window being compared. Carried whole into errors
// and logs for postmortem.
type Context struct {
	Symbol   string           `json:"symbol"`
	Kind     indicator.Kind   `json:"kind"`
	Params   indicator.Params `json:"params"`
	Start    time.Time        `json:"start"`
	End      time.Time        `json:"end"`
	Interval time.Duration    `json:"interval"`
}

func (c Context) String() string {
	return fmt.Sprintf("%s %s [%s, %s]", c.Symbol,
		indicator.DisplayName(c.Kind, c.Params),
		c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))
}

// Resolver computes one numeric value for a comparison context.
type Resolver func(cctx Context) (float64, error)

// Status of a comparison.
type Status string

const (
	StatusOK    Status = "ok"
	StatusDrift Status = "drift"
)

// Result is the ephemeral outcome of one evaluation. Logged, never persisted.
type Result struct {
	Context   Context `json:"context"`
	Offline   float64 `json:"offline_value"`
	Streaming float64 `json:"streaming_value"`
	Diff      float64 `json:"diff"`
	Tolerance float64 `json:"tolerance"`
	Status    Status  `json:"status"`
}

// DriftError reports offline/streaming disagreement beyond tolerance.
// It pages an operator; it never alters live computation.
type DriftError struct {
	Result Result
}

func (e *DriftError) Error() string {
	r := e.Result
	return fmt.Sprintf("consistency: drift detected for %s: offline=%v streaming=%v diff=%v tolerance=%v",
		r.Context, r.Offline, r.Streaming, r.Diff, r.Tolerance)
}

// PerfThresholds are the SLA floors/ceilings for ValidatePerformance.
type PerfThresholds struct {
	MinBatchPPS  float64 // minimum offline throughput, points/sec
	MaxLatencyMS float64 // maximum live path latency, milliseconds
}

// PerfMetrics are the observed values under test.
type PerfMetrics struct {
	BatchPPS      float64 `json:"batch_pps"`
	LiveLatencyMS float64 `json:"live_latency_ms"`
}

// PerfError reports a throughput/latency SLA violation. A distinct kind
// from DriftError so alerting can route differently.
type PerfError struct {
	Metrics    PerfMetrics
	Thresholds PerfThresholds
	Violations []string
}

func (e *PerfError) Error() string {
	return fmt.Sprintf("consistency: performance regression: %v (observed batch_pps=%v latency_ms=%v)",
		e.Violations, e.Metrics.BatchPPS, e.Metrics.LiveLatencyMS)
}

// Config tunes the monitor.
type Config struct {
	Tolerance float64 // absolute diff allowed; default DefaultTolerance
}

// Monitor compares injected resolvers and validates performance SLAs.
type Monitor struct {
	offline   Resolver
	streaming Resolver
	tolerance float64
	log       *slog.Logger
}

// New creates a monitor over the two resolvers.
func New(cfg Config, offline, streaming Resolver, log *slog.Logger) *Monitor {
	tol := cfg.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	return &Monitor{
		offline:   offline,
		streaming: streaming,
		tolerance: tol,
		log:       log,
	}
}

// Evaluate runs both resolvers for the context and compares the absolute
// difference against the tolerance. Within tolerance it returns a success
// result; outside it returns the result plus a *DriftError carrying the
// full context for postmortem.
func (m *Monitor) Evaluate(cctx Context) (Result, error) {
	off, err := m.offline(cctx)
	if err != nil {
		return Result{}, fmt.Errorf("consistency: offline resolver for %s: %w", cctx, err)
	}
	str, err := m.streaming(cctx)
	if err != nil {
		return Result{}, fmt.Errorf("consistency: streaming resolver for %s: %w", cctx, err)
	}

	res := Result{
		Context:   cctx,
		Offline:   off,
		Streaming: str,
		Diff:      math.Abs(off - str),
		Tolerance: m.tolerance,
		Status:    StatusOK,
	}
	if res.Diff > m.tolerance {
		res.Status = StatusDrift
		m.log.Error("drift detected",
			"context", cctx.String(),
			"offline", off, "streaming", str,
			"diff", res.Diff, "tolerance", m.tolerance)
		return res, &DriftError{Result: res}
	}
	m.log.Info("consistency check passed",
		"context", cctx.String(), "diff", res.Diff, "tolerance", m.tolerance)
	return res, nil
}

// EvaluateSeries runs Evaluate at every aligned checkpoint on the context's
// time axis: for each grid timestamp the window [Start, checkpoint] is
// compared. Interval must be set. Evaluation stops at the first drift so the
// returned results pinpoint when the paths began to disagree.
func (m *Monitor) EvaluateSeries(cctx Context) ([]Result, error) {
	if cctx.Interval <= 0 {
		return nil, fmt.Errorf("consistency: series for %s: interval not set", cctx)
	}
	bounds, err := timeaxis.NewBounds(
		float64(cctx.Start.UnixNano())/1e9,
		float64(cctx.End.UnixNano())/1e9,
		cctx.Interval.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("consistency: series for %s: %w", cctx, err)
	}

	axis := timeaxis.Generate(bounds)
	results := make([]Result, 0, len(axis))
	for _, sec := range axis {
		point := cctx
		point.End = time.Unix(0, int64(sec*1e9)).UTC()
		if !point.End.After(point.Start) {
			continue
		}
		res, err := m.Evaluate(point)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ValidatePerformance compares observed throughput/latency against the SLA.
// Within both thresholds the metrics are returned unchanged; any violation
// returns a *PerfError after logging.
func (m *Monitor) ValidatePerformance(obs PerfMetrics, th PerfThresholds) (PerfMetrics, error) {
	var violations []string
	if th.MinBatchPPS > 0 && obs.BatchPPS < th.MinBatchPPS {
		violations = append(violations,
			fmt.Sprintf("batch throughput %v pps below minimum %v", obs.BatchPPS, th.MinBatchPPS))
	}
	if th.MaxLatencyMS > 0 && obs.LiveLatencyMS > th.MaxLatencyMS {
		violations = append(violations,
			fmt.Sprintf("live latency %vms above maximum %vms", obs.LiveLatencyMS, th.MaxLatencyMS))
	}
	if len(violations) > 0 {
		m.log.Error("performance regression",
			"violations", violations,
			"batch_pps", obs.BatchPPS, "latency_ms", obs.LiveLatencyMS)
		return obs, &PerfError{Metrics: obs, Thresholds: th, Violations: violations}
	}
	return obs, nil
}
