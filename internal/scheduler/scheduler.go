// Package scheduler drives periodic harvesting of indicator values at a
// fixed wall-clock cadence, independent of tick arrival rate. Each cycle
// reads the current value of every ready accumulator and hands the batch to
// a flusher goroutine, so a slow storage write never delays the next
// harvest read.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"indstream/internal/model"
)

// Harvester reads current indicator values for a harvest timestamp.
type Harvester interface {
	Harvest(ts time.Time) []model.IndicatorPoint
}

// Sink persists a harvested batch via bulk insert. Transient errors
// ("table not ready" and the like) are retried per the scheduler policy.
type Sink interface {
	WritePoints(ctx context.Context, pts []model.IndicatorPoint) error
}

// Publisher emits "indicator updated" events after a successful flush.
// Best effort — publish failures are logged, never retried.
type Publisher interface {
	PublishPoints(ctx context.Context, pts []model.IndicatorPoint) error
}

// State is the scheduler lifecycle: Idle → Running → Stopping → Idle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// FlushError reports a batch that exhausted its retry budget. The batch is
// dropped (bounding memory); the scheduler keeps cycling.
type FlushError struct {
	Attempts int
	Points   int
	Err      error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("scheduler: flush failed after %d attempts (%d points): %v", e.Attempts, e.Points, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// Config tunes the scheduler. Zero values take defaults.
type Config struct {
	Interval     time.Duration // harvest cadence; default 1s
	MaxRetries   int           // write attempts per batch; default 3
	RetryBackoff time.Duration // initial backoff, doubled per attempt; default 250ms
	FlushTimeout time.Duration // per-attempt write deadline; default 5s
	QueueDepth   int           // in-flight batches before dropping; default 8
	DrainGrace   time.Duration // shutdown flush budget; default 5s
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 8
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = 5 * time.Second
	}
}

// Counters is a snapshot of the scheduler's cycle counters for the health
// endpoint.
type Counters struct {
	State          string `json:"state"`
	Cycles         uint64 `json:"cycles"`
	PointsWritten  uint64 `json:"points_written"`
	EmptyCycles    uint64 `json:"empty_cycles"`
	FlushFailures  uint64 `json:"flush_failures"`
	BatchesDropped uint64 `json:"batches_dropped"`
	Backlog        int    `json:"backlog"`
}

// Scheduler harvests on aligned boundaries and flushes in the background.
type Scheduler struct {
	cfg  Config
	log  *slog.Logger
	harv Harvester
	sink Sink
	pub  Publisher // optional

	state   atomic.Int32
	batchCh chan []model.IndicatorPoint

	cycles        atomic.Uint64
	pointsWritten atomic.Uint64
	emptyCycles   atomic.Uint64
	flushFailures atomic.Uint64
	dropped       atomic.Uint64

	// Optional metrics hooks; nil-safe.
	OnCycle func(points int)
	OnFlush func(points int, d time.Duration, err error)
}

// New creates a scheduler. pub may be nil.
func New(cfg Config, harv Harvester, sink Sink, pub Publisher, log *slog.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:     cfg,
		log:     log,
		harv:    harv,
		sink:    sink,
		pub:     pub,
		batchCh: make(chan []model.IndicatorPoint, cfg.QueueDepth),
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Counters returns a snapshot of the cycle counters.
func (s *Scheduler) Counters() Counters {
	return Counters{
		State:          s.State().String(),
		Cycles:         s.cycles.Load(),
		PointsWritten:  s.pointsWritten.Load(),
		EmptyCycles:    s.emptyCycles.Load(),
		FlushFailures:  s.flushFailures.Load(),
		BatchesDropped: s.dropped.Load(),
		Backlog:        len(s.batchCh),
	}
}

// NextAligned returns the first schedule boundary strictly after t: the
// time-axis alignment rule (largest multiple of interval <= t, then one step
// forward) applied in integer nanoseconds so epoch-scale timestamps stay
// exact.
func (s *Scheduler) NextAligned(t time.Time) time.Time {
	return t.Truncate(s.cfg.Interval).Add(s.cfg.Interval).UTC()
}

// Run executes the harvest loop until ctx is cancelled, then drains any
// in-flight batches within the configured grace period. Harvest reads are
// strictly ordered; flushes are decoupled and may still be in flight when
// the next read starts.
func (s *Scheduler) Run(ctx context.Context) error {
	s.state.Store(int32(StateRunning))
	s.log.Info("scheduler running", "interval", s.cfg.Interval)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.flushLoop()
	}()

	timer := time.NewTimer(time.Until(s.NextAligned(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.state.Store(int32(StateStopping))
			close(s.batchCh)

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(s.cfg.DrainGrace):
				// Unflushed data on forced shutdown is an accepted,
				// documented loss — not retried forever.
				s.log.Warn("shutdown drain grace expired, dropping in-flight batches",
					"backlog", len(s.batchCh))
			}
			s.state.Store(int32(StateIdle))
			s.log.Info("scheduler stopped", "cycles", s.cycles.Load())
			return ctx.Err()

		case fired := <-timer.C:
			s.cycle(fired)
			// Resynchronize to the next aligned boundary from now: an
			// overrunning cycle skips boundaries instead of double-firing.
			timer.Reset(time.Until(s.NextAligned(time.Now())))
		}
	}
}

// cycle performs one harvest read and enqueues the batch for flushing.
func (s *Scheduler) cycle(fired time.Time) {
	ts := s.alignedStamp(fired)
	points := s.harv.Harvest(ts)
	s.cycles.Add(1)
	if s.OnCycle != nil {
		s.OnCycle(len(points))
	}
	if len(points) == 0 {
		s.emptyCycles.Add(1)
		return
	}

	select {
	case s.batchCh <- points:
	default:
		// Flusher is saturated; dropping this cycle bounds the backlog.
		s.dropped.Add(1)
		s.log.Warn("flush queue full, dropping cycle batch", "points", len(points))
	}
}

// alignedStamp snaps the timer fire time down to its schedule boundary so a
// late fire still carries the boundary timestamp.
func (s *Scheduler) alignedStamp(fired time.Time) time.Time {
	return fired.Truncate(s.cfg.Interval).UTC()
}

// flushLoop drains harvested batches until the channel closes.
func (s *Scheduler) flushLoop() {
	for batch := range s.batchCh {
		if err := s.flush(batch); err != nil {
			s.flushFailures.Add(1)
			s.log.Error("batch dropped", "err", err)
		}
	}
}

// flush writes one batch with bounded retries and exponential backoff.
// Returns *FlushError after exhaustion; the scheduler keeps cycling either
// way (availability over total ordering).
func (s *Scheduler) flush(points []model.IndicatorPoint) error {
	backoff := s.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
		err := s.sink.WritePoints(ctx, points)
		cancel()
		if s.OnFlush != nil {
			s.OnFlush(len(points), time.Since(start), err)
		}
		if err == nil {
			s.pointsWritten.Add(uint64(len(points)))
			s.publish(points)
			return nil
		}
		lastErr = err
		if attempt < s.cfg.MaxRetries {
			s.log.Warn("flush attempt failed, retrying",
				"attempt", attempt, "points", len(points), "err", err)
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return &FlushError{Attempts: s.cfg.MaxRetries, Points: len(points), Err: lastErr}
}

// publish emits updated events downstream; failures are logged only.
func (s *Scheduler) publish(points []model.IndicatorPoint) {
	if s.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	defer cancel()
	if err := s.pub.PublishPoints(ctx, points); err != nil {
		s.log.Warn("event publish failed", "err", err)
	}
}
