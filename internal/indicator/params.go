package indicator

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseParams parses a variant parameter string for the given kind.
//
// Count-based kinds (EMA, SMA, RSI) take a period: "14" or "period=14".
// Time-bounded kinds (VWAP, TWPA) take a window: "5m" or "window=300s".
func ParseParams(kind Kind, s string) (Params, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '='); i >= 0 {
		key := strings.TrimSpace(s[:i])
		val := strings.TrimSpace(s[i+1:])
		switch key {
		case "period":
			return parsePeriod(kind, val)
		case "window":
			return parseWindow(kind, val)
		default:
			return Params{}, &ValidationError{Field: "params", Reason: fmt.Sprintf("unknown parameter %q", key)}
		}
	}

	switch kind {
	case KindEMA, KindSMA, KindRSI:
		return parsePeriod(kind, s)
	case KindVWAP, KindTWPA:
		return parseWindow(kind, s)
	}
	return Params{}, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown indicator kind %q", kind)}
}

func parsePeriod(kind Kind, s string) (Params, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return Params{}, &ValidationError{Field: "params", Reason: fmt.Sprintf("%s period %q must be a positive integer", kind, s)}
	}
	return Params{Period: n}, nil
}

func parseWindow(kind Kind, s string) (Params, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return Params{}, &ValidationError{Field: "params", Reason: fmt.Sprintf("%s window %q must be a positive duration", kind, s)}
	}
	return Params{Window: d}, nil
}

// FormatParams renders params back to the canonical registry string.
func FormatParams(kind Kind, p Params) string {
	switch kind {
	case KindVWAP, KindTWPA:
		return "window=" + p.Window.String()
	default:
		return "period=" + strconv.Itoa(p.Period)
	}
}

// DisplayName builds the conventional short name, e.g. "EMA_20" or "VWAP_5m".
func DisplayName(kind Kind, p Params) string {
	switch kind {
	case KindVWAP, KindTWPA:
		return string(kind) + "_" + p.Window.String()
	default:
		return string(kind) + "_" + strconv.Itoa(p.Period)
	}
}
