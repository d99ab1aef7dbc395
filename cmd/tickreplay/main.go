// Command tickreplay serves ticks over websocket for the engine's "ws" feed:
// either replaying the sqlite tick archive at a speed multiplier, or
// simulating a random walk when no archive is available. Lets the full
// pipeline run without exchange connectivity.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"indstream/internal/logger"
	"indstream/internal/replay"
	sqlitestore "indstream/internal/store/sqlite"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "tickreplay:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr     string
		dbPath   string
		symbols  string
		window   time.Duration
		speed    float64
		simulate bool
		simEvery time.Duration
		logLevel string
	)
	flag.StringVar(&addr, "addr", ":9001", "listen address")
	flag.StringVar(&dbPath, "db", "data/indstream.db", "sqlite tick archive (replay mode)")
	flag.StringVar(&symbols, "symbols", "BTCUSDT", "comma-separated symbols")
	flag.DurationVar(&window, "window", time.Hour, "how far back to replay")
	flag.Float64Var(&speed, "speed", 1.0, "playback speed multiplier (0 = max)")
	flag.BoolVar(&simulate, "sim", false, "emit simulated ticks instead of replaying")
	flag.DurationVar(&simEvery, "sim-interval", 100*time.Millisecond, "simulated tick interval")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.Parse()

	log := logger.Init("tickreplay", logger.ParseLevel(logLevel))
	syms := strings.Split(symbols, ",")
	for i := range syms {
		syms[i] = strings.TrimSpace(syms[i])
	}

	hub := replay.NewHub(log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
		select {
		case err := <-errCh:
			return err
		case <-gctx.Done():
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		}
	})

	if simulate {
		sim := replay.NewSimulator(syms, simEvery, 50000)
		g.Go(func() error { return sim.Run(gctx, hub.Broadcast) })
		log.Info("simulating ticks", "addr", addr, "symbols", syms, "interval", simEvery)
	} else {
		store, err := sqlitestore.Open(dbPath, log)
		if err != nil {
			return err
		}
		defer store.Close()

		rep := replay.NewReplayer(store, log)
		end := time.Now().UTC()
		g.Go(func() error {
			// Give feeds a moment to connect before frames start flowing.
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-time.After(2 * time.Second):
			}
			if err := rep.Run(gctx, syms, end.Add(-window), end, speed, hub.Broadcast); err != nil {
				return err
			}
			stop()
			return nil
		})
		log.Info("replaying archive", "addr", addr, "symbols", syms, "window", window, "speed", speed)
	}

	return g.Wait()
}
