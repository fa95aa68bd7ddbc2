// Package indicator provides technical indicator calculations over bar data.
//
// Each indicator computes from a bar history and reports both the latest and
// the second-to-latest bar's values, so callers get "current vs previous"
// without a second pass.
package indicator

import "alertstream/internal/model"

// Values maps series names to computed values for one bar. Single-series
// indicators use the "value" series; multi-series indicators add their own
// (e.g. MACD exposes "value", "signal", "histogram").
type Values map[string]float64

// Get looks up a series, falling back to "value" when name is empty.
func (v Values) Get(name string) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if name == "" {
		name = "value"
	}
	val, ok := v[name]
	return val, ok
}

// Computed holds the latest and second-to-latest bar's values for one
// indicator.
type Computed struct {
	Current  Values `json:"current"`
	Previous Values `json:"previous"`
}

// Spec selects one indicator computation with its parameters.
type Spec struct {
	ID     string             `json:"id" yaml:"id"`
	Params map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

func (s Spec) param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok && v > 0 {
		return v
	}
	return def
}

func (s Spec) intParam(name string, def int) int {
	return int(s.param(name, float64(def)))
}

// Compute runs the indicator selected by spec over bars. ok is false when
// the indicator is unknown or bars are too short to produce both a current
// and a previous value — callers treat that as "no data yet", not an error.
func Compute(spec Spec, bars []model.Bar) (Computed, bool) {
	switch spec.ID {
	case "sma":
		return pairSingle(smaSeries(closes(bars), spec.intParam("period", 20)))
	case "ema":
		return pairSingle(emaSeries(closes(bars), spec.intParam("period", 20)))
	case "rsi":
		return pairSingle(rsiSeries(bars, spec.intParam("period", 14)))
	case "macd":
		return macdPair(bars, spec.intParam("fast", 12), spec.intParam("slow", 26), spec.intParam("signal", 9))
	case "bollinger":
		return bollingerPair(bars, spec.intParam("period", 20), spec.param("stddev", 2))
	case "stochastic":
		return stochasticPair(bars, spec.intParam("k", 14), spec.intParam("d", 3))
	case "supertrend":
		return supertrendPair(bars, spec.intParam("period", 10), spec.param("multiplier", 3))
	case "vwap":
		return pairSingle(vwapSeries(bars))
	case "atr":
		return pairSingle(atrSeries(bars, spec.intParam("period", 14)))
	default:
		return Computed{}, false
	}
}

// pairSingle wraps a single-series result into a Computed. The series is
// aligned so that series[i] belongs to bars[offset+i]; the last two entries
// are the current and previous bar values.
func pairSingle(series []float64) (Computed, bool) {
	if len(series) < 2 {
		return Computed{}, false
	}
	return Computed{
		Current:  Values{"value": series[len(series)-1]},
		Previous: Values{"value": series[len(series)-2]},
	}, true
}

func closes(bars []model.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
