// Package memmon is a process-wide memory watchdog for the long-running
// indicator engine. It samples resident memory on a fixed cadence, keeps a
// bounded trailing window of samples for growth analysis, and grades memory
// pressure into escalating cleanup severities.
//
// The monitor only detects; remediation belongs to the engine that owns the
// per-symbol accumulators. Keeping detection and cleanup decoupled means the
// watchdog can never deadlock the hot path it is watching.
package memmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// Severity grades the cleanup pressure returned by CheckLimits. It is a
// recurring operating condition, not an anomaly, so it is a value rather
// than an error.
type Severity int

const (
	SeverityNone      Severity = iota // within limits, no action
	SeverityStandard                  // >= 70% of ceiling
	SeverityForce                     // >= 85% of ceiling
	SeverityEmergency                 // >= 95% of ceiling
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityStandard:
		return "standard"
	case SeverityForce:
		return "force"
	case SeverityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Sample is one point-in-time resident memory reading.
type Sample struct {
	TS       time.Time `json:"ts"`
	MemoryMB float64   `json:"memory_mb"`
}

// Config tunes the monitor. Zero values take the documented defaults.
type Config struct {
	LimitMB           float64       // memory ceiling; default 1024
	SampleInterval    time.Duration // default 30s
	SampleCapacity    int           // trailing ring size; default 100
	LeakCheckInterval time.Duration // default 60s
	LeakWindow        time.Duration // default 10m
	LeakThresholdMB   float64       // growth across window; default 50
}

func (c *Config) applyDefaults() {
	if c.LimitMB <= 0 {
		c.LimitMB = 1024
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = 30 * time.Second
	}
	if c.SampleCapacity <= 0 {
		c.SampleCapacity = 100
	}
	if c.LeakCheckInterval <= 0 {
		c.LeakCheckInterval = 60 * time.Second
	}
	if c.LeakWindow <= 0 {
		c.LeakWindow = 10 * time.Minute
	}
	if c.LeakThresholdMB <= 0 {
		c.LeakThresholdMB = 50
	}
}

// Threshold fractions of the configured ceiling.
const (
	standardPct  = 0.70
	forcePct     = 0.85
	emergencyPct = 0.95
)

// StabilityReport is a point-in-time summary for the health endpoint.
type StabilityReport struct {
	CurrentMB      float64           `json:"current_mb"`
	AvgMB          float64           `json:"avg_mb"`
	MinMB          float64           `json:"min_mb"`
	MaxMB          float64           `json:"max_mb"`
	LimitMB        float64           `json:"limit_mb"`
	UtilizationPct float64           `json:"utilization_pct"`
	GrowthMB       float64           `json:"growth_mb"` // across the leak window
	LeakDetected   bool              `json:"leak_detected"`
	LeakAlerts     uint64            `json:"leak_alerts"`
	Samples        int               `json:"samples"`
	Cleanups       map[string]uint64 `json:"cleanups"`
}

// Monitor samples process resident memory into a bounded ring and grades
// pressure against the configured ceiling.
type Monitor struct {
	cfg Config
	log *slog.Logger

	mu           sync.Mutex
	ring         []Sample // fixed capacity, oldest evicted as new arrive
	next         int
	count        int
	leakDetected bool
	leakAlerts   uint64
	cleanups     [SeverityEmergency + 1]uint64

	// Injection points for tests.
	memFn func() (float64, error)
	nowFn func() time.Time
}

// New creates a monitor reading resident memory from /proc via procfs.
func New(cfg Config, log *slog.Logger) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:   cfg,
		log:   log,
		ring:  make([]Sample, cfg.SampleCapacity),
		memFn: processMemoryMB,
		nowFn: time.Now,
	}
}

// processMemoryMB reads the process resident set size in MB.
func processMemoryMB() (float64, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, err
	}
	stat, err := p.Stat()
	if err != nil {
		return 0, err
	}
	return float64(stat.ResidentMemory()) / (1024 * 1024), nil
}

// Sample takes one resident-memory reading and appends it to the trailing
// ring. Returns the reading; a failed OS query returns the error without
// recording a sample.
func (m *Monitor) Sample() (float64, error) {
	mem, err := m.memFn()
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.ring[m.next] = Sample{TS: m.nowFn(), MemoryMB: mem}
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	m.mu.Unlock()
	return mem, nil
}

// CheckLimits grades current memory against the ceiling. A failed memory
// query fails open (SeverityNone): observability must never become the
// outage. The monitor does not perform cleanup itself.
func (m *Monitor) CheckLimits() Severity {
	mem, err := m.memFn()
	if err != nil {
		m.log.Warn("memory query failed, failing open", "err", err)
		return SeverityNone
	}
	frac := mem / m.cfg.LimitMB
	switch {
	case frac >= emergencyPct:
		return SeverityEmergency
	case frac >= forcePct:
		return SeverityForce
	case frac >= standardPct:
		return SeverityStandard
	default:
		return SeverityNone
	}
}

// RecordCleanup bumps the cumulative cleanup counter for a severity. The
// engine calls this after acting on a pressure signal.
func (m *Monitor) RecordCleanup(sev Severity) {
	if sev <= SeverityNone || sev > SeverityEmergency {
		return
	}
	m.mu.Lock()
	m.cleanups[sev]++
	m.mu.Unlock()
}

// CheckLeak computes growth across the trailing leak window, using only
// samples whose timestamp falls inside that window. Growth beyond the
// threshold raises a leak alert (logged and counted); it never terminates
// the process.
func (m *Monitor) CheckLeak() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	growth, ok := m.growthLocked()
	if !ok {
		return m.leakDetected
	}
	if growth > m.cfg.LeakThresholdMB {
		if !m.leakDetected {
			m.log.Error("memory leak suspected",
				"growth_mb", growth,
				"window", m.cfg.LeakWindow,
				"threshold_mb", m.cfg.LeakThresholdMB)
		}
		m.leakDetected = true
		m.leakAlerts++
	} else {
		m.leakDetected = false
	}
	return m.leakDetected
}

// growthLocked returns newest-minus-oldest memory across samples inside the
// leak window. ok is false with fewer than two in-window samples.
func (m *Monitor) growthLocked() (float64, bool) {
	cutoff := m.nowFn().Add(-m.cfg.LeakWindow)
	var oldest, newest *Sample
	for i := 0; i < m.count; i++ {
		s := &m.ring[(m.next-m.count+i+len(m.ring)*2)%len(m.ring)]
		if s.TS.Before(cutoff) {
			continue
		}
		if oldest == nil {
			oldest = s
		}
		newest = s
	}
	if oldest == nil || oldest == newest {
		return 0, false
	}
	return newest.MemoryMB - oldest.MemoryMB, true
}

// Report summarizes the trailing window for the health endpoint.
func (m *Monitor) Report() StabilityReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := StabilityReport{
		LimitMB:      m.cfg.LimitMB,
		LeakDetected: m.leakDetected,
		LeakAlerts:   m.leakAlerts,
		Samples:      m.count,
		Cleanups: map[string]uint64{
			SeverityStandard.String():  m.cleanups[SeverityStandard],
			SeverityForce.String():     m.cleanups[SeverityForce],
			SeverityEmergency.String(): m.cleanups[SeverityEmergency],
		},
	}
	if m.count == 0 {
		return r
	}

	var sum float64
	r.MinMB = m.ring[(m.next-m.count+len(m.ring)*2)%len(m.ring)].MemoryMB
	r.MaxMB = r.MinMB
	for i := 0; i < m.count; i++ {
		s := m.ring[(m.next-m.count+i+len(m.ring)*2)%len(m.ring)]
		sum += s.MemoryMB
		if s.MemoryMB < r.MinMB {
			r.MinMB = s.MemoryMB
		}
		if s.MemoryMB > r.MaxMB {
			r.MaxMB = s.MemoryMB
		}
		if i == m.count-1 {
			r.CurrentMB = s.MemoryMB
		}
	}
	r.AvgMB = sum / float64(m.count)
	r.UtilizationPct = r.CurrentMB / m.cfg.LimitMB * 100
	r.GrowthMB, _ = m.growthLocked()
	return r
}

// Run drives periodic sampling and leak checks until ctx is done. When
// pressure crosses a threshold the severity is handed to onPressure; the
// callback runs on the monitor goroutine and should hand off heavy work.
func (m *Monitor) Run(ctx context.Context, onPressure func(Severity)) {
	sampleT := time.NewTicker(m.cfg.SampleInterval)
	leakT := time.NewTicker(m.cfg.LeakCheckInterval)
	defer sampleT.Stop()
	defer leakT.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sampleT.C:
			if _, err := m.Sample(); err != nil {
				m.log.Warn("memory sample failed", "err", err)
				continue
			}
			if sev := m.CheckLimits(); sev != SeverityNone && onPressure != nil {
				onPressure(sev)
			}
		case <-leakT.C:
			m.CheckLeak()
		}
	}
}
