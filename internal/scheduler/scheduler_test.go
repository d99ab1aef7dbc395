package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"indstream/internal/model"
)

// fakeHarvester returns a fixed set of points per cycle.
type fakeHarvester struct {
	mu     sync.Mutex
	points []model.IndicatorPoint
	stamps []time.Time
}

func (h *fakeHarvester) Harvest(ts time.Time) []model.IndicatorPoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stamps = append(h.stamps, ts)
	out := make([]model.IndicatorPoint, len(h.points))
	copy(out, h.points)
	for i := range out {
		out[i].TS = ts
	}
	return out
}

// fakeSink records batches and can fail the first N writes.
type fakeSink struct {
	mu       sync.Mutex
	failures int // writes to fail before succeeding
	batches  [][]model.IndicatorPoint
	attempts int
}

func (s *fakeSink) WritePoints(_ context.Context, pts []model.IndicatorPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return errors.New("table not ready")
	}
	s.batches = append(s.batches, pts)
	return nil
}

func (s *fakeSink) snapshot() (batches int, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches), s.attempts
}

type fakePub struct {
	mu     sync.Mutex
	points int
}

func (p *fakePub) PublishPoints(_ context.Context, pts []model.IndicatorPoint) error {
	p.mu.Lock()
	p.points += len(pts)
	p.mu.Unlock()
	return nil
}

func point(sym, name string, v float64) model.IndicatorPoint {
	return model.IndicatorPoint{Symbol: sym, VariantID: "v-" + name, Name: name, Value: v}
}

func TestFlush_RetriesTransientFailure(t *testing.T) {
	sink := &fakeSink{failures: 2}
	s := New(Config{MaxRetries: 3, RetryBackoff: time.Millisecond}, nil, sink, nil, slog.Default())

	err := s.flush([]model.IndicatorPoint{point("BTCUSDT", "EMA_9", 1)})
	if err != nil {
		t.Fatalf("flush with 2 transient failures and 3 attempts: %v", err)
	}
	batches, attempts := sink.snapshot()
	if batches != 1 || attempts != 3 {
		t.Fatalf("batches=%d attempts=%d, want 1/3", batches, attempts)
	}
}

func TestFlush_BoundedAttemptsThenDrop(t *testing.T) {
	sink := &fakeSink{failures: 100}
	s := New(Config{MaxRetries: 3, RetryBackoff: time.Millisecond}, nil, sink, nil, slog.Default())

	err := s.flush([]model.IndicatorPoint{point("BTCUSDT", "EMA_9", 1)})
	var fe *FlushError
	if !errors.As(err, &fe) {
		t.Fatalf("exhausted flush: got %v, want *FlushError", err)
	}
	if fe.Attempts != 3 {
		t.Errorf("FlushError.Attempts = %d, want 3", fe.Attempts)
	}
	if _, attempts := sink.snapshot(); attempts != 3 {
		t.Errorf("sink attempts = %d, want exactly 3 (bounded)", attempts)
	}
}

func TestNextAligned_NeverDoubleFires(t *testing.T) {
	s := New(Config{Interval: time.Second}, nil, &fakeSink{}, nil, slog.Default())
	now := time.Date(2025, 6, 2, 10, 0, 0, 300_000_000, time.UTC)
	next := s.NextAligned(now)
	if !next.After(now) {
		t.Fatalf("NextAligned(%v) = %v, not strictly after", now, next)
	}
	if next.Nanosecond() != 0 {
		t.Errorf("NextAligned not on a second boundary: %v", next)
	}
	// From a boundary itself, the next fire is one full interval later.
	onBoundary := time.Date(2025, 6, 2, 10, 0, 1, 0, time.UTC)
	if got := s.NextAligned(onBoundary); !got.Equal(onBoundary.Add(time.Second)) {
		t.Errorf("NextAligned on boundary = %v, want %v", got, onBoundary.Add(time.Second))
	}
}

func TestRun_HarvestsAndFlushes(t *testing.T) {
	harv := &fakeHarvester{points: []model.IndicatorPoint{
		point("BTCUSDT", "EMA_9", 101.5),
		point("ETHUSDT", "RSI_14", 55.0),
	}}
	sink := &fakeSink{}
	pub := &fakePub{}
	s := New(Config{Interval: 20 * time.Millisecond, DrainGrace: time.Second}, harv, sink, pub, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	if s.State() != StateIdle {
		t.Errorf("state after Run = %v, want idle", s.State())
	}
	c := s.Counters()
	if c.Cycles == 0 {
		t.Fatal("no harvest cycles ran")
	}
	batches, _ := sink.snapshot()
	if batches == 0 {
		t.Fatal("no batches written")
	}
	if c.PointsWritten == 0 {
		t.Error("points_written counter is zero")
	}
	pub.mu.Lock()
	published := pub.points
	pub.mu.Unlock()
	if published == 0 {
		t.Error("no events published after successful flushes")
	}
}

func TestRun_EmptyHarvestWritesNothing(t *testing.T) {
	harv := &fakeHarvester{} // no ready accumulators
	sink := &fakeSink{}
	s := New(Config{Interval: 20 * time.Millisecond, DrainGrace: time.Second}, harv, sink, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if batches, _ := sink.snapshot(); batches != 0 {
		t.Fatalf("empty harvests produced %d batches, want 0 placeholder writes", batches)
	}
	if c := s.Counters(); c.EmptyCycles == 0 {
		t.Error("empty cycles not counted")
	}
}

func TestHarvestStampsAreAligned(t *testing.T) {
	harv := &fakeHarvester{points: []model.IndicatorPoint{point("BTCUSDT", "EMA_9", 1)}}
	sink := &fakeSink{}
	s := New(Config{Interval: 50 * time.Millisecond, DrainGrace: time.Second}, harv, sink, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(220 * time.Millisecond)
	cancel()
	<-done

	harv.mu.Lock()
	defer harv.mu.Unlock()
	if len(harv.stamps) == 0 {
		t.Fatal("no harvests")
	}
	for i, ts := range harv.stamps {
		if rem := ts.UnixNano() % int64(50*time.Millisecond); rem != 0 {
			t.Errorf("stamp %d = %v not aligned to 50ms (rem %dns)", i, ts, rem)
		}
		if i > 0 && !ts.After(harv.stamps[i-1]) {
			t.Errorf("stamps not strictly increasing at %d", i)
		}
	}
}
