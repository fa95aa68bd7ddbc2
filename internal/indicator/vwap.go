package indicator

import "alertstream/internal/model"

// vwapSeries computes the volume-weighted average price cumulatively from
// the start of the supplied bars (the caller decides the session boundary
// by what it pushes). Bars with zero volume carry the previous VWAP
// forward.
func vwapSeries(bars []model.Bar) []float64 {
	if len(bars) == 0 {
		return nil
	}
	out := make([]float64, len(bars))
	cumPV, cumVol := 0.0, 0.0
	for i, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3.0
		cumPV += typical * b.Volume
		cumVol += b.Volume
		if cumVol > 0 {
			out[i] = cumPV / cumVol
		} else if i > 0 {
			out[i] = out[i-1]
		} else {
			out[i] = typical
		}
	}
	return out
}
