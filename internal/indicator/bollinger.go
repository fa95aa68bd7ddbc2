package indicator

import (
	"math"

	"alertstream/internal/model"
)

// bollingerPair computes Bollinger Bands (middle SMA ± stddev·σ) for the
// last two bars. Series names: "upper", "middle" (also "value"), "lower".
func bollingerPair(bars []model.Bar, period int, stddev float64) (Computed, bool) {
	if period < 1 || len(bars) < period+1 {
		return Computed{}, false
	}
	cls := closes(bars)

	band := func(window []float64) Values {
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(len(window))
		variance := 0.0
		for _, v := range window {
			d := v - mean
			variance += d * d
		}
		sigma := math.Sqrt(variance / float64(len(window)))
		return Values{
			"value":  mean,
			"middle": mean,
			"upper":  mean + stddev*sigma,
			"lower":  mean - stddev*sigma,
		}
	}

	n := len(cls)
	return Computed{
		Current:  band(cls[n-period:]),
		Previous: band(cls[n-period-1 : n-1]),
	}, true
}
