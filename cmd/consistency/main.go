// Command consistency cross-checks the streaming indicator path against an
// independent batch recomputation over the archived raw ticks. Exit code is
// non-zero when the two paths drift beyond tolerance, so the check can run
// from cron or CI.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"indstream/internal/consistency"
	"indstream/internal/indicator"
	"indstream/internal/logger"
	sqlitestore "indstream/internal/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "consistency:", err)
		var de *consistency.DriftError
		var pe *consistency.PerfError
		if errors.As(err, &de) || errors.As(err, &pe) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	var (
		dbPath    string
		symbol    string
		kindStr   string
		paramsStr string
		window    time.Duration
		series    time.Duration
		tolerance float64
		logLevel  string
	)
	flag.StringVar(&dbPath, "db", "data/indstream.db", "path to the sqlite tick archive")
	flag.StringVar(&symbol, "symbol", "BTCUSDT", "symbol to check")
	flag.StringVar(&kindStr, "kind", "EMA", "indicator kind: EMA, SMA, VWAP, RSI, TWPA")
	flag.StringVar(&paramsStr, "params", "period=20", "indicator params, e.g. period=14 or window=5m")
	flag.DurationVar(&window, "window", time.Hour, "how far back to replay")
	flag.DurationVar(&series, "series", 0, "checkpoint spacing; when set, evaluate at every aligned checkpoint instead of once")
	flag.Float64Var(&tolerance, "tolerance", 0, "absolute drift tolerance (0 = default)")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.Parse()

	log := logger.Init("consistency", logger.ParseLevel(logLevel))

	kind, err := indicator.ParseKind(kindStr)
	if err != nil {
		return err
	}
	params, err := indicator.ParseParams(kind, paramsStr)
	if err != nil {
		return err
	}

	store, err := sqlitestore.Open(dbPath, log)
	if err != nil {
		return err
	}
	defer store.Close()

	mon := consistency.New(
		consistency.Config{Tolerance: tolerance},
		consistency.OfflineResolver(store),
		consistency.StreamingResolver(store),
		log,
	)

	end := time.Now().UTC()
	cctx := consistency.Context{
		Symbol:   symbol,
		Kind:     kind,
		Params:   params,
		Start:    end.Add(-window),
		End:      end,
		Interval: series,
	}

	if series > 0 {
		results, err := mon.EvaluateSeries(cctx)
		if err != nil {
			return err
		}
		log.Info("series check passed", "context", cctx.String(), "checkpoints", len(results))
		return nil
	}

	res, err := mon.Evaluate(cctx)
	if err != nil {
		return err
	}
	log.Info("consistency check passed",
		"context", cctx.String(),
		"offline", res.Offline,
		"streaming", res.Streaming,
		"diff", res.Diff,
		"tolerance", res.Tolerance)
	return nil
}
