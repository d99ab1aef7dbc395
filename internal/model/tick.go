package model

import (
	"encoding/json"
	"time"
)

// Tick represents a single market data event (trade) for one symbol.
// Ticks are immutable once produced by the feed adapter; every indicator
// accumulator subscribed to the symbol reads the same value.
type Tick struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`     // exchange event time, UTC
	Price  float64   `json:"price"`  // last traded price
	Volume float64   `json:"volume"` // last traded quantity
}

// JSON returns the JSON-encoded tick (ignoring errors for hot-path usage).
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
