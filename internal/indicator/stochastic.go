package indicator

import "alertstream/internal/model"

// stochasticPair computes the stochastic oscillator: %K over kPeriod and
// %D as an SMA of %K over dPeriod. Series names: "k" (also "value"), "d".
func stochasticPair(bars []model.Bar, kPeriod, dPeriod int) (Computed, bool) {
	if kPeriod < 1 || dPeriod < 1 || len(bars) < kPeriod {
		return Computed{}, false
	}

	kSeries := make([]float64, 0, len(bars)-kPeriod+1)
	for i := kPeriod - 1; i < len(bars); i++ {
		lo, hi := bars[i-kPeriod+1].Low, bars[i-kPeriod+1].High
		for _, b := range bars[i-kPeriod+2 : i+1] {
			if b.Low < lo {
				lo = b.Low
			}
			if b.High > hi {
				hi = b.High
			}
		}
		k := 50.0 // flat window: midpoint rather than divide-by-zero
		if hi > lo {
			k = (bars[i].Close - lo) / (hi - lo) * 100.0
		}
		kSeries = append(kSeries, k)
	}

	dSeries := smaSeries(kSeries, dPeriod)
	if len(dSeries) < 2 {
		return Computed{}, false
	}
	kTail := kSeries[len(kSeries)-len(dSeries):]

	n := len(dSeries)
	return Computed{
		Current:  Values{"value": kTail[n-1], "k": kTail[n-1], "d": dSeries[n-1]},
		Previous: Values{"value": kTail[n-2], "k": kTail[n-2], "d": dSeries[n-2]},
	}, true
}
