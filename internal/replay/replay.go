// Package replay serves ticks over websocket in the generic feed's JSON
// frame format, either by replaying the sqlite tick archive at a speed
// multiplier or by simulating a random walk. Points the engine's "ws" feed
// at real history without broker credentials.
package replay

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"indstream/internal/model"
)

// TickReader fetches archived ticks for a window, ordered by timestamp.
type TickReader interface {
	ReadTicks(symbol string, start, end time.Time) ([]model.Tick, error)
}

// frame is the wire shape consumed by the ws feed source.
type frame struct {
	Symbol string  `json:"symbol"`
	TS     int64   `json:"ts"` // epoch milliseconds
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

func encode(t model.Tick) []byte {
	b, _ := json.Marshal(frame{
		Symbol: t.Symbol,
		TS:     t.TS.UnixMilli(),
		Price:  t.Price,
		Volume: t.Volume,
	})
	return b
}

// Replayer replays archived ticks through a broadcast function. speed is the
// playback multiplier: 1.0 = real time, 10.0 = 10x, 0 = as fast as possible.
type Replayer struct {
	reader TickReader
	log    *slog.Logger
}

// NewReplayer creates a replayer over the tick archive.
func NewReplayer(reader TickReader, log *slog.Logger) *Replayer {
	return &Replayer{reader: reader, log: log}
}

// Run loads the window for all symbols, merges by timestamp, and emits each
// tick through broadcast with gaps scaled by speed. Gaps are capped at 5s so
// quiet stretches in the archive don't stall the replay.
func (r *Replayer) Run(ctx context.Context, symbols []string, start, end time.Time, speed float64, broadcast func([]byte)) error {
	var all []model.Tick
	for _, sym := range symbols {
		ticks, err := r.reader.ReadTicks(sym, start, end)
		if err != nil {
			return err
		}
		all = append(all, ticks...)
	}
	if len(all) == 0 {
		r.log.Warn("replay: no ticks in window", "start", start, "end", end)
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })

	r.log.Info("replay starting", "ticks", len(all), "symbols", symbols, "speed", speed)

	var prev time.Time
	for _, t := range all {
		if speed > 0 && !prev.IsZero() {
			if gap := t.TS.Sub(prev); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prev = t.TS

		if ctx.Err() != nil {
			return ctx.Err()
		}
		broadcast(encode(t))
	}
	r.log.Info("replay complete", "ticks", len(all))
	return nil
}

// Simulator emits random-walk ticks for a symbol set at a fixed interval,
// for smoke-testing the pipeline with no archive at all.
type Simulator struct {
	symbols  []string
	interval time.Duration
	prices   map[string]float64
	rng      *rand.Rand
}

// NewSimulator seeds one walk per symbol around basePrice.
func NewSimulator(symbols []string, interval time.Duration, basePrice float64) *Simulator {
	prices := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		prices[s] = basePrice
	}
	return &Simulator{
		symbols:  symbols,
		interval: interval,
		prices:   prices,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run emits ticks until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, broadcast func([]byte)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, sym := range s.symbols {
				// ±0.05% step keeps the walk within plausible bounds.
				p := s.prices[sym] * (1 + (s.rng.Float64()-0.5)*0.001)
				s.prices[sym] = p
				broadcast(encode(model.Tick{
					Symbol: sym,
					TS:     now.UTC(),
					Price:  p,
					Volume: 1 + s.rng.Float64()*10,
				}))
			}
		}
	}
}
