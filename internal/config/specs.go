package config

import (
	"fmt"
	"strings"

	"indstream/internal/indicator"
	"indstream/internal/model"
)

// ParseIndicatorSpecs parses a comma-separated spec string such as
// "EMA:20,SMA:50,RSI:14,VWAP:5m,TWPA:1m" into seed variants for an empty
// registry. Names are derived from kind and params ("EMA_20", "VWAP_5m").
func ParseIndicatorSpecs(s string) ([]model.Variant, error) {
	var out []model.Variant
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		kindStr, paramStr, found := strings.Cut(raw, ":")
		if !found {
			return nil, fmt.Errorf("indicator spec %q: want TYPE:PARAM", raw)
		}
		kind, err := indicator.ParseKind(strings.TrimSpace(kindStr))
		if err != nil {
			return nil, fmt.Errorf("indicator spec %q: %w", raw, err)
		}
		params, err := indicator.ParseParams(kind, paramStr)
		if err != nil {
			return nil, fmt.Errorf("indicator spec %q: %w", raw, err)
		}
		out = append(out, model.Variant{
			Name:      indicator.DisplayName(kind, params),
			Kind:      string(kind),
			Params:    indicator.FormatParams(kind, params),
			Scope:     model.ScopeGlobal,
			CreatedBy: "config",
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("indicator specs: empty")
	}
	return out, nil
}
