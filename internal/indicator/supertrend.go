package indicator

import "alertstream/internal/model"

// supertrendPair computes the Supertrend line for the last two bars.
// Series names: "value" (the active band) and "trend" (+1 uptrend,
// -1 downtrend).
func supertrendPair(bars []model.Bar, period int, multiplier float64) (Computed, bool) {
	atr := atrSeries(bars, period)
	if len(atr) < 2 {
		return Computed{}, false
	}
	// atr[j] belongs to bars[period+j].
	offset := period

	n := len(atr)
	finalUpper := make([]float64, n)
	finalLower := make([]float64, n)
	line := make([]float64, n)
	trend := make([]float64, n)

	for j := 0; j < n; j++ {
		b := bars[offset+j]
		mid := (b.High + b.Low) / 2.0
		basicUpper := mid + multiplier*atr[j]
		basicLower := mid - multiplier*atr[j]

		if j == 0 {
			finalUpper[j] = basicUpper
			finalLower[j] = basicLower
			trend[j] = 1
			line[j] = finalLower[j]
			continue
		}

		prevClose := bars[offset+j-1].Close
		if basicUpper < finalUpper[j-1] || prevClose > finalUpper[j-1] {
			finalUpper[j] = basicUpper
		} else {
			finalUpper[j] = finalUpper[j-1]
		}
		if basicLower > finalLower[j-1] || prevClose < finalLower[j-1] {
			finalLower[j] = basicLower
		} else {
			finalLower[j] = finalLower[j-1]
		}

		switch {
		case b.Close > finalUpper[j-1]:
			trend[j] = 1
		case b.Close < finalLower[j-1]:
			trend[j] = -1
		default:
			trend[j] = trend[j-1]
		}
		if trend[j] > 0 {
			line[j] = finalLower[j]
		} else {
			line[j] = finalUpper[j]
		}
	}

	return Computed{
		Current:  Values{"value": line[n-1], "trend": trend[n-1]},
		Previous: Values{"value": line[n-2], "trend": trend[n-2]},
	}, true
}
