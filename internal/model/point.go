package model

import (
	"encoding/json"
	"time"
)

// IndicatorPoint is one harvested indicator value: the scheduler emits one
// per ready (symbol, variant) pair per cycle, aligned to the shared time axis.
type IndicatorPoint struct {
	Symbol    string    `json:"symbol"`
	VariantID string    `json:"variant_id"`
	Name      string    `json:"name"` // e.g. "EMA_20", "VWAP_5m"
	TS        time.Time `json:"ts"`   // harvest bucket timestamp (interval-aligned)
	Value     float64   `json:"value"`
}

// StreamKey returns the bus stream key: "ind:{symbol}:{name}".
func (p *IndicatorPoint) StreamKey() string {
	return "ind:" + p.Symbol + ":" + p.Name
}

// JSON returns the JSON-encoded point.
func (p *IndicatorPoint) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
