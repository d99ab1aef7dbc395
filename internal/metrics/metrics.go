// Package metrics registers the Prometheus collectors for the indicator
// engine. One Metrics value is created at process start and injected where
// needed — never a package-level singleton, so tests stay isolated.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the indicator engine.
type Metrics struct {
	registry *prometheus.Registry

	// Feed / ingestion
	TicksTotal    prometheus.Counter
	TicksRejected prometheus.Counter
	FeedReconnects prometheus.Counter
	RingOverflow  prometheus.Counter

	// Scheduler
	HarvestCycles  prometheus.Counter
	HarvestPoints  prometheus.Counter
	FlushDur       prometheus.Histogram
	FlushFailures  prometheus.Counter
	FlushBacklog   prometheus.Gauge

	// Engine arena
	ActiveSlots  prometheus.Gauge
	Evictions    prometheus.Counter

	// Memory monitor
	MemoryMB   prometheus.Gauge
	LeakAlerts prometheus.Counter
	Cleanups   *prometheus.CounterVec // labels: severity

	// Event bus
	PublishErrors prometheus.Counter
}

// New registers and returns all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_ticks_total",
			Help: "Total ticks ingested from the feed",
		}),
		TicksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_ticks_rejected_total",
			Help: "Ticks rejected by validation (negative volume, non-monotonic ts)",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_feed_reconnects_total",
			Help: "Feed reconnection attempts",
		}),
		RingOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_ring_overflow_total",
			Help: "Ticks dropped because the feed ring buffer was full",
		}),
		HarvestCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_harvest_cycles_total",
			Help: "Scheduler harvest cycles completed",
		}),
		HarvestPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_harvest_points_total",
			Help: "Indicator points harvested",
		}),
		FlushDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indstream_flush_duration_seconds",
			Help:    "Batch flush latency to the persistence sink",
			Buckets: prometheus.DefBuckets,
		}),
		FlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_flush_failures_total",
			Help: "Batches dropped after exhausting write retries",
		}),
		FlushBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indstream_flush_backlog",
			Help: "Harvest batches queued for flushing",
		}),
		ActiveSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indstream_active_accumulators",
			Help: "Live (symbol, variant) accumulators in the arena",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_evictions_total",
			Help: "Accumulators evicted under memory pressure",
		}),
		MemoryMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indstream_memory_mb",
			Help: "Process resident memory in MB",
		}),
		LeakAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_leak_alerts_total",
			Help: "Memory leak alerts raised",
		}),
		Cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indstream_cleanups_total",
			Help: "Memory-pressure cleanups by severity",
		}, []string{"severity"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indstream_publish_errors_total",
			Help: "Event bus publish failures",
		}),
	}

	reg.MustRegister(
		m.TicksTotal, m.TicksRejected, m.FeedReconnects, m.RingOverflow,
		m.HarvestCycles, m.HarvestPoints, m.FlushDur, m.FlushFailures, m.FlushBacklog,
		m.ActiveSlots, m.Evictions,
		m.MemoryMB, m.LeakAlerts, m.Cleanups,
		m.PublishErrors,
	)
	return m
}

// Registry exposes the underlying registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
