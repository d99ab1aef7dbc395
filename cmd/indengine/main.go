// Command indengine runs the streaming indicator engine: it consumes live
// ticks from an exchange feed, maintains incremental indicator accumulators
// per (symbol, variant), harvests their values on a fixed cadence, and
// persists the resulting points through the configured sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"indstream/internal/api"
	"indstream/internal/bus"
	"indstream/internal/config"
	"indstream/internal/engine"
	"indstream/internal/feed"
	"indstream/internal/logger"
	"indstream/internal/memmon"
	"indstream/internal/metrics"
	"indstream/internal/model"
	"indstream/internal/ringbuf"
	"indstream/internal/scheduler"
	sqlitestore "indstream/internal/store/sqlite"
	"indstream/internal/store/timescale"
)

const (
	ringCapacity     = 8192
	tickArchiveBatch = 500
	tickArchiveFlush = time.Second
	prunePeriod      = time.Hour
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "indengine:", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.Init("indengine", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting", "symbols", cfg.Symbols, "interval", cfg.HarvestInterval)

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SQLite is always open: it holds the variant registry and the tick
	// archive even when points are sunk to Timescale.
	if dir := filepath.Dir(cfg.Sink.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := sqlitestore.Open(cfg.Sink.SQLitePath, log)
	if err != nil {
		return err
	}
	defer store.Close()

	var sink scheduler.Sink = store
	if cfg.Sink.Kind == "timescale" {
		ts, err := timescale.Open(cfg.Sink.PostgresDSN, log)
		if err != nil {
			return err
		}
		defer ts.Close()
		sink = ts
	}

	// Redis event bus is optional; the engine runs fine without it.
	var pub scheduler.Publisher
	if cfg.Redis.Enabled {
		rp, err := bus.New(bus.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		}, log)
		if err != nil {
			log.Warn("redis unavailable, continuing without event bus", "error", err)
		} else {
			defer rp.Close()
			pub = &countingPublisher{inner: rp, errs: m.PublishErrors}
		}
	}

	// Seed the registry on first boot, then load the active set.
	seed, err := config.ParseIndicatorSpecs(cfg.Indicators)
	if err != nil {
		return err
	}
	if err := store.SeedVariants(ctx, seed); err != nil {
		return err
	}

	eng := engine.New(cfg.Symbols, log)
	if err := syncFromRegistry(ctx, store, eng, m, log); err != nil {
		return err
	}

	mon := memmon.New(memmon.Config{
		LimitMB:           cfg.Memory.LimitMB,
		SampleInterval:    cfg.Memory.SampleInterval,
		LeakCheckInterval: cfg.Memory.LeakCheckInterval,
		LeakWindow:        cfg.Memory.LeakWindow,
		LeakThresholdMB:   cfg.Memory.LeakThresholdMB,
	}, log)

	sched := scheduler.New(scheduler.Config{
		Interval: cfg.HarvestInterval,
	}, eng, sink, pub, log)
	sched.OnCycle = func(points int) {
		m.HarvestCycles.Inc()
		m.HarvestPoints.Add(float64(points))
		m.FlushBacklog.Set(float64(sched.Counters().Backlog))
	}
	sched.OnFlush = func(points int, d time.Duration, err error) {
		m.FlushDur.Observe(d.Seconds())
		if err != nil {
			m.FlushFailures.Inc()
		}
	}

	ring := ringbuf.New(ringCapacity)
	var src feed.Source
	if cfg.Feed.Kind != "none" {
		src, err = feed.New(feed.Config{
			Kind:    cfg.Feed.Kind,
			URL:     cfg.Feed.URL,
			Symbols: cfg.Symbols,
		}, log)
		if err != nil {
			return err
		}
		switch f := src.(type) {
		case *feed.Binance:
			f.OnReconnect = func() { m.FeedReconnects.Inc() }
		case *feed.WS:
			f.OnReconnect = func() { m.FeedReconnects.Inc() }
		}
	}

	apiSrv := api.New(cfg.HTTPAddr, api.Deps{
		Engine:    eng,
		Scheduler: sched,
		Memory:    mon,
		Metrics:   m,
		Registry:  store,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return apiSrv.Run(gctx) })

	if src != nil {
		push := feed.RingPusher(ring, func() { m.RingOverflow.Inc() })
		g.Go(func() error {
			err := src.Run(gctx, push)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		consumeTicks(gctx, ring, eng, store, m, log)
		return nil
	})

	g.Go(func() error {
		mon.Run(gctx, func(sev memmon.Severity) {
			evicted := eng.Cleanup(sev)
			mon.RecordCleanup(sev)
			m.Cleanups.WithLabelValues(sev.String()).Inc()
			m.Evictions.Add(float64(evicted))
			m.ActiveSlots.Set(float64(eng.SlotCount()))
		})
		return nil
	})

	g.Go(func() error {
		return registryPollLoop(gctx, cfg.RegistryPollInterval, store, eng, m, log)
	})

	g.Go(func() error {
		return houseKeeping(gctx, cfg.TickRetention, store, mon, m, log)
	})

	log.Info("engine running",
		"feed", cfg.Feed.Kind, "sink", cfg.Sink.Kind,
		"redis", cfg.Redis.Enabled, "http", cfg.HTTPAddr)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// consumeTicks drains the feed ring into the engine and batches raw ticks
// into the archive off the hot path.
func consumeTicks(ctx context.Context, ring *ringbuf.Ring, eng *engine.Engine,
	store *sqlitestore.Store, m *metrics.Metrics, log *slog.Logger) {

	archive := make([]model.Tick, 0, tickArchiveBatch)
	flushTimer := time.NewTicker(tickArchiveFlush)
	defer flushTimer.Stop()

	flush := func() {
		if len(archive) == 0 {
			return
		}
		if err := store.WriteTicks(ctx, archive); err != nil && ctx.Err() == nil {
			log.Warn("tick archive write failed", "error", err, "ticks", len(archive))
		}
		archive = archive[:0]
	}
	defer flush()

	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()

	for {
		t, ok := ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-flushTimer.C:
				flush()
			case <-idle.C:
			}
			continue
		}

		m.TicksTotal.Inc()
		if err := eng.Ingest(t); err != nil {
			m.TicksRejected.Inc()
			log.Debug("tick rejected", "symbol", t.Symbol, "error", err)
			continue
		}
		if archive = append(archive, t); len(archive) >= tickArchiveBatch {
			flush()
		}
	}
}

// registryPollLoop re-reads the variant registry so new and retired variants
// take effect without a restart.
func registryPollLoop(ctx context.Context, every time.Duration,
	store *sqlitestore.Store, eng *engine.Engine, m *metrics.Metrics, log *slog.Logger) error {

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := syncFromRegistry(ctx, store, eng, m, log); err != nil {
				log.Warn("registry poll failed", "error", err)
			}
		}
	}
}

func syncFromRegistry(ctx context.Context, store *sqlitestore.Store,
	eng *engine.Engine, m *metrics.Metrics, log *slog.Logger) error {

	vs, err := store.ActiveVariants(ctx)
	if err != nil {
		return fmt.Errorf("load variants: %w", err)
	}
	added, retired := eng.SyncVariants(model.DedupeVariants(vs))
	m.ActiveSlots.Set(float64(eng.SlotCount()))
	if added > 0 || retired > 0 {
		log.Info("variant sync", "active", len(vs), "added", added, "retired", retired)
	}
	return nil
}

// houseKeeping prunes the tick archive past its retention window and exports
// the memory report into metrics.
func houseKeeping(ctx context.Context, retention time.Duration,
	store *sqlitestore.Store, mon *memmon.Monitor, m *metrics.Metrics, log *slog.Logger) error {

	prune := time.NewTicker(prunePeriod)
	defer prune.Stop()
	report := time.NewTicker(30 * time.Second)
	defer report.Stop()

	var lastLeakAlerts uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-prune.C:
			n, err := store.PruneTicks(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Warn("tick prune failed", "error", err)
			} else if n > 0 {
				log.Info("tick archive pruned", "rows", n)
			}
		case <-report.C:
			rep := mon.Report()
			m.MemoryMB.Set(rep.CurrentMB)
			if d := rep.LeakAlerts - lastLeakAlerts; d > 0 {
				m.LeakAlerts.Add(float64(d))
				lastLeakAlerts = rep.LeakAlerts
			}
		}
	}
}

// countingPublisher decorates the redis publisher with an error counter.
type countingPublisher struct {
	inner scheduler.Publisher
	errs  interface{ Inc() }
}

func (c *countingPublisher) PublishPoints(ctx context.Context, pts []model.IndicatorPoint) error {
	err := c.inner.PublishPoints(ctx, pts)
	if err != nil {
		c.errs.Inc()
	}
	return err
}
