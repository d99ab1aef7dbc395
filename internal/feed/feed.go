// Package feed streams live ticks from an exchange into the engine's ring
// buffer. Two sources are provided: a Binance trade-stream adapter and a
// generic websocket adapter for feeds that speak our own JSON tick format.
package feed

import (
	"context"
	"fmt"
	"log/slog"

	"indstream/internal/model"
	"indstream/internal/ringbuf"
)

// Source streams normalized ticks until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, push func(model.Tick)) error
}

// Config selects and parameterizes a tick source.
type Config struct {
	Kind    string // "binance" or "ws"
	URL     string // endpoint for the generic ws source
	Symbols []string
}

// New builds the configured source.
func New(cfg Config, log *slog.Logger) (Source, error) {
	switch cfg.Kind {
	case "binance":
		return NewBinance(cfg.Symbols, log), nil
	case "ws":
		return NewWS(cfg.URL, log), nil
	default:
		return nil, fmt.Errorf("feed: unknown source kind %q", cfg.Kind)
	}
}

// RingPusher adapts a ring buffer into the push callback shape, counting
// drops through onOverflow when the consumer falls behind.
func RingPusher(ring *ringbuf.Ring, onOverflow func()) func(model.Tick) {
	return func(t model.Tick) {
		if !ring.Push(t) && onOverflow != nil {
			onOverflow()
		}
	}
}
